// Package places wraps the Google Places nearby-search API used as the
// critical-infrastructure fallback when no curated asset layer matches.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/civicworks/portal311/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// Client performs nearby-place lookups.
type Client interface {
	SearchNearby(ctx context.Context, req NearbyRequest) ([]Place, error)
}

// NearbyRequest describes a radius search around a point.
type NearbyRequest struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	IncludedType string // e.g. "hospital", "school"
	MaxResults   int
}

// Place is a named place returned by the API.
type Place struct {
	Name  string   `json:"name"`
	Types []string `json:"types"`
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

// WithRateLimit overrides the default requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	circuit *resilience.Circuit
}

// NewClient creates a Places API client. Returns a client even with an empty
// key; calls then fail with resilience.ErrNotConfigured so the aggregator can
// degrade that field. HTTP calls run through a circuit breaker, so a dead
// upstream fails fast instead of costing every triage run the full timeout.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
		circuit: resilience.NewCircuit("places", resilience.CircuitConfig{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type nearbyRequestBody struct {
	IncludedTypes       []string `json:"includedTypes,omitempty"`
	MaxResultCount      int      `json:"maxResultCount"`
	LocationRestriction struct {
		Circle struct {
			Center struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"center"`
			Radius float64 `json:"radius"`
		} `json:"circle"`
	} `json:"locationRestriction"`
}

type nearbyResponseBody struct {
	Places []struct {
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		Types []string `json:"types"`
	} `json:"places"`
}

func (c *httpClient) SearchNearby(ctx context.Context, req NearbyRequest) ([]Place, error) {
	if c.apiKey == "" {
		return nil, resilience.ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "places: rate limit wait")
	}

	return resilience.CircuitVal(ctx, c.circuit, func(ctx context.Context) ([]Place, error) {
		return c.searchNearby(ctx, req)
	})
}

func (c *httpClient) searchNearby(ctx context.Context, req NearbyRequest) ([]Place, error) {
	var body nearbyRequestBody
	if req.IncludedType != "" {
		body.IncludedTypes = []string{req.IncludedType}
	}
	body.MaxResultCount = req.MaxResults
	if body.MaxResultCount <= 0 {
		body.MaxResultCount = 1
	}
	body.LocationRestriction.Circle.Center.Latitude = req.Latitude
	body.LocationRestriction.Circle.Center.Longitude = req.Longitude
	body.LocationRestriction.Circle.Radius = req.RadiusMeters

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "places: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchNearby", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)
	httpReq.Header.Set("X-Goog-FieldMask", "places.displayName,places.types")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "places: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("places: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result nearbyResponseBody
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}

	out := make([]Place, 0, len(result.Places))
	for _, p := range result.Places {
		out = append(out, Place{Name: p.DisplayName.Text, Types: p.Types})
	}
	return out, nil
}
