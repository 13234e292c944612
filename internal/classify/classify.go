// Package classify turns a request plus its historical and spatial context
// into a TriageResult. Two strategies exist: an AI-backed classifier calling
// a generative model, and a deterministic keyword heuristic. The strategy is
// chosen once per call from configuration, and classification is total: it
// always returns a result, never an error.
package classify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/config"
	"github.com/civicworks/portal311/internal/model"
	"github.com/civicworks/portal311/internal/policy"
	"github.com/civicworks/portal311/pkg/anthropic"
	"github.com/civicworks/portal311/pkg/weather"
)

// Input bundles everything the classifier sees for one request.
type Input struct {
	Request    *model.ServiceRequest
	Historical model.HistoricalContext
	Spatial    model.SpatialContext
	Now        time.Time
}

// Classifier produces a TriageResult for a request. Implementations must be
// total: any internal failure degrades to a heuristic-sourced result.
type Classifier interface {
	Classify(ctx context.Context, in Input) model.TriageResult
}

// New selects the strategy from configuration. An unconfigured model key or
// name selects the heuristic outright; that case is expected in small
// deployments and is not logged as an error.
func New(cfg config.AnthropicConfig, client anthropic.Client, wx weather.Client, pol policy.Policy, logger *zap.Logger) Classifier {
	if logger == nil {
		logger = zap.L()
	}
	heuristic := NewHeuristic(pol)
	if !cfg.Configured() || client == nil {
		logger.Info("classifier not configured, using keyword heuristic")
		return heuristic
	}
	return &AIBacked{
		client:   client,
		cfg:      cfg,
		weather:  wx,
		fallback: heuristic,
		logger:   logger,
	}
}
