// Package triage sequences context aggregation, classification, and the
// write-back of the result onto the stored request. Jurisdiction gating runs
// earlier, synchronously, in the intake path; everything here is background
// work that must never surface an error into request creation.
package triage

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicworks/portal311/internal/classify"
	"github.com/civicworks/portal311/internal/history"
	"github.com/civicworks/portal311/internal/model"
	"github.com/civicworks/portal311/internal/spatial"
	"github.com/civicworks/portal311/internal/store"
)

// RequestStore is the slice of the store the orchestrator touches.
type RequestStore interface {
	GetRequest(ctx context.Context, id string) (*model.ServiceRequest, error)
	ApplyTriage(ctx context.Context, id string, priority int, flagged bool, flagReason string, analysis *model.TriageResult) (bool, error)
}

// Notifier receives completed triage outcomes. Implementations are
// best-effort side channels (staff review boards, CRM mirrors); their
// failures log as warnings and never fail the run.
type Notifier interface {
	Name() string
	TriageCompleted(ctx context.Context, req *model.ServiceRequest, result model.TriageResult) error
}

// Orchestrator runs the background half of triage for one request at a time.
// Runs for different requests are independent; re-running for the same
// request overwrites the previous result.
type Orchestrator struct {
	store      RequestStore
	history    *history.Aggregator
	spatial    *spatial.Aggregator
	classifier classify.Classifier
	notifiers  []Notifier
	logger     *zap.Logger
}

// NewOrchestrator wires the pipeline. A nil logger falls back to the global.
func NewOrchestrator(st RequestStore, hist *history.Aggregator, spat *spatial.Aggregator, cls classify.Classifier, notifiers []Notifier, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.L()
	}
	return &Orchestrator{
		store:      st,
		history:    hist,
		spatial:    spat,
		classifier: cls,
		notifiers:  notifiers,
		logger:     logger,
	}
}

// Run triages one stored request and writes the result back. A request
// deleted before or during the run is a silent no-op, not an error. The
// returned error is only ever a store failure, which the runner may retry.
func (o *Orchestrator) Run(ctx context.Context, requestID string) error {
	req, err := o.store.GetRequest(ctx, requestID)
	if eris.Is(err, store.ErrNotFound) {
		o.logger.Info("request deleted before triage, skipping", zap.String("request_id", requestID))
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "triage: load request %s", requestID)
	}

	// Both aggregators are read-only and degrade internally.
	var hc model.HistoricalContext
	var sc model.SpatialContext
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hc = o.history.Aggregate(gctx, req)
		return nil
	})
	g.Go(func() error {
		sc = o.spatial.Aggregate(gctx, req)
		return nil
	})
	_ = g.Wait()

	result := o.classifier.Classify(ctx, classify.Input{
		Request:    req,
		Historical: hc,
		Spatial:    sc,
	})

	flagged := len(result.SafetyFlags) > 0
	ok, err := o.store.ApplyTriage(ctx, req.ID, result.ClampedPriority(), flagged, result.FlagReason(), &result)
	if err != nil {
		return eris.Wrapf(err, "triage: write back %s", req.ID)
	}
	if !ok {
		o.logger.Info("request deleted during triage, write-back skipped", zap.String("request_id", req.ID))
		return nil
	}

	o.logger.Info("triage complete",
		zap.String("request_id", req.ID),
		zap.Int("priority", result.ClampedPriority()),
		zap.Bool("flagged", flagged),
		zap.String("source", string(result.Source)))

	o.notify(ctx, req, result)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, req *model.ServiceRequest, result model.TriageResult) {
	for _, n := range o.notifiers {
		if err := n.TriageCompleted(ctx, req, result); err != nil {
			o.logger.Warn("triage notifier failed",
				zap.String("notifier", n.Name()),
				zap.String("request_id", req.ID),
				zap.Error(err))
		}
	}
}
