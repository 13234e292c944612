// Package weather fetches current conditions from the Open-Meteo forecast
// API. Conditions feed the triage prompt so priority reflects live weather,
// for example a flooding report during heavy rain.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/civicworks/portal311/internal/resilience"
)

const defaultBaseURL = "https://api.open-meteo.com/v1"

// Client fetches current weather conditions.
type Client interface {
	Current(ctx context.Context, lat, lon float64) (*Conditions, error)
}

// Conditions is a compact snapshot of current weather at a point.
type Conditions struct {
	TemperatureC  float64
	Precipitation float64 // mm over the last hour
	WindSpeedKmh  float64
	WeatherCode   int
}

// Describe renders conditions as a short human-readable phrase for prompts.
func (c *Conditions) Describe() string {
	desc, ok := weatherCodes[c.WeatherCode]
	if !ok {
		desc = "unknown conditions"
	}
	return fmt.Sprintf("%s, %.1f°C, wind %.0f km/h, precipitation %.1f mm", desc, c.TemperatureC, c.WindSpeedKmh, c.Precipitation)
}

// WMO weather interpretation codes, abridged to the buckets triage cares about.
var weatherCodes = map[int]string{
	0:  "clear sky",
	1:  "mainly clear",
	2:  "partly cloudy",
	3:  "overcast",
	45: "fog",
	48: "depositing rime fog",
	51: "light drizzle",
	53: "moderate drizzle",
	55: "dense drizzle",
	61: "slight rain",
	63: "moderate rain",
	65: "heavy rain",
	66: "freezing rain",
	71: "slight snow",
	73: "moderate snow",
	75: "heavy snow",
	80: "rain showers",
	81: "moderate rain showers",
	82: "violent rain showers",
	85: "snow showers",
	95: "thunderstorm",
	96: "thunderstorm with hail",
	99: "thunderstorm with heavy hail",
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an Open-Meteo client. The API needs no key.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 8 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type forecastResponse struct {
	Current struct {
		Temperature   float64 `json:"temperature_2m"`
		Precipitation float64 `json:"precipitation"`
		WindSpeed     float64 `json:"wind_speed_10m"`
		WeatherCode   int     `json:"weather_code"`
	} `json:"current"`
}

func (c *httpClient) Current(ctx context.Context, lat, lon float64) (*Conditions, error) {
	url := fmt.Sprintf("%s/forecast?latitude=%.4f&longitude=%.4f&current=temperature_2m,precipitation,wind_speed_10m,weather_code",
		c.baseURL, lat, lon)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "weather: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "weather: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "weather: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("weather: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result forecastResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "weather: unmarshal response")
	}

	return &Conditions{
		TemperatureC:  result.Current.Temperature,
		Precipitation: result.Current.Precipitation,
		WindSpeedKmh:  result.Current.WindSpeed,
		WeatherCode:   result.Current.WeatherCode,
	}, nil
}
