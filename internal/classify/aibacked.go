package classify

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/config"
	"github.com/civicworks/portal311/internal/model"
	"github.com/civicworks/portal311/internal/resilience"
	"github.com/civicworks/portal311/pkg/anthropic"
	"github.com/civicworks/portal311/pkg/weather"
)

const weatherTimeout = 5 * time.Second

// AIBacked calls the generative model with the triage prompt and up to three
// photos. Any failure degrades to the heuristic result with a justification
// naming the failure class, so staff always see that degradation happened.
type AIBacked struct {
	client   anthropic.Client
	cfg      config.AnthropicConfig
	weather  weather.Client
	fallback *Heuristic
	logger   *zap.Logger
}

func (c *AIBacked) Classify(ctx context.Context, in Input) model.TriageResult {
	prompt := buildPrompt(in, c.currentConditions(ctx, in))

	msg := anthropic.Message{Role: "user", Content: prompt}
	media := in.Request.Media
	if len(media) > model.MaxMediaRefs {
		media = media[:model.MaxMediaRefs]
	}
	for _, m := range media {
		if len(m.Data) == 0 {
			continue
		}
		msg.Images = append(msg.Images, anthropic.ImageBlock{
			MediaType: m.ContentType,
			Data:      base64.StdEncoding.EncodeToString(m.Data),
		})
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    triageSystemPrompt,
		Messages:  []anthropic.Message{msg},
	})
	if err != nil {
		return c.degrade(ctx, in, err)
	}

	resp.Usage.LogCost(c.cfg.Model, "triage")

	result, err := parseTriage(resp.Text())
	if err != nil {
		return c.degrade(ctx, in, err)
	}
	return result
}

// degrade returns the heuristic result annotated with the failure class.
// The error never escapes Classify: triage always writes back a result, and
// a rerun takes the model path again once the upstream recovers.
func (c *AIBacked) degrade(ctx context.Context, in Input, err error) model.TriageResult {
	kind := resilience.Classify(err)
	c.logger.Warn("classification degraded to heuristic",
		zap.String("request_id", in.Request.ID),
		zap.String("failure_kind", string(kind)),
		zap.Error(err))

	result := c.fallback.Classify(ctx, in)
	result.Justification = fmt.Sprintf("Automated analysis unavailable (%s). %s", kind, result.Justification)
	return result
}

// currentConditions fetches live weather best-effort. The prompt says
// "unavailable" when the lookup fails or no client is configured.
func (c *AIBacked) currentConditions(ctx context.Context, in Input) string {
	if c.weather == nil || in.Request.Latitude == nil || in.Request.Longitude == nil {
		return ""
	}
	wCtx, cancel := context.WithTimeout(ctx, weatherTimeout)
	defer cancel()

	cond, err := c.weather.Current(wCtx, *in.Request.Latitude, *in.Request.Longitude)
	if err != nil {
		c.logger.Debug("weather lookup failed", zap.Error(err))
		return ""
	}
	return cond.Describe()
}
