package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/model"
	"github.com/civicworks/portal311/internal/policy"
	"github.com/civicworks/portal311/internal/store"
)

// Source is the slice of the store the aggregator reads.
type Source interface {
	RecurrenceAtAddress(ctx context.Context, address, category string, since time.Time, excludeID string, limit int) (int, []model.RecentReport, error)
	LatestClosedAtAddress(ctx context.Context, address string) (*model.PastResolution, error)
	RequestsNear(ctx context.Context, q store.NearQuery) ([]model.ServiceRequest, error)
	CountRequestsNear(ctx context.Context, q store.NearQuery) (int, error)
}

// Aggregator computes a HistoricalContext fresh for each triage run.
type Aggregator struct {
	src    Source
	pol    policy.Policy
	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator creates an Aggregator. A nil logger falls back to the global.
func NewAggregator(src Source, pol policy.Policy, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.L()
	}
	return &Aggregator{src: src, pol: pol, logger: logger, now: time.Now}
}

// Aggregate builds historical evidence for a request. The request itself is
// excluded from every query via its ID. Each signal degrades independently:
// a failed query zeroes that one field and logs a warning rather than
// failing the whole context.
func (a *Aggregator) Aggregate(ctx context.Context, req *model.ServiceRequest) model.HistoricalContext {
	var hc model.HistoricalContext

	a.recurrence(ctx, req, &hc)
	a.pastResolution(ctx, req, &hc)
	a.similarReports(ctx, req, &hc)
	a.duplicateDensity(ctx, req, &hc)

	return hc
}

func (a *Aggregator) recurrence(ctx context.Context, req *model.ServiceRequest, hc *model.HistoricalContext) {
	if req.Address == "" {
		return
	}
	since := a.now().UTC().AddDate(0, 0, -a.pol.Recurrence.WindowDays)
	count, recent, err := a.src.RecurrenceAtAddress(ctx, req.Address, req.Category, since, req.ID, a.pol.Recurrence.MaxRecent)
	if err != nil {
		a.logger.Warn("recurrence lookup failed", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	hc.RecurrenceCount90d = count
	hc.Chronic = count >= a.pol.Recurrence.ChronicThreshold
	hc.RecentReports = recent
}

func (a *Aggregator) pastResolution(ctx context.Context, req *model.ServiceRequest, hc *model.HistoricalContext) {
	if req.Address == "" {
		return
	}
	past, err := a.src.LatestClosedAtAddress(ctx, req.Address)
	if err != nil {
		a.logger.Warn("past resolution lookup failed", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	hc.PastResolution = past
}

func (a *Aggregator) similarReports(ctx context.Context, req *model.ServiceRequest, hc *model.HistoricalContext) {
	if req.Latitude == nil || req.Longitude == nil {
		return
	}
	candidates, err := a.src.RequestsNear(ctx, store.NearQuery{
		Latitude:     *req.Latitude,
		Longitude:    *req.Longitude,
		RadiusMeters: a.pol.Similarity.RadiusMeters,
		Category:     req.Category,
		OpenOnly:     true,
		ExcludeID:    req.ID,
		Limit:        a.pol.Similarity.MaxCandidates,
	})
	if err != nil {
		a.logger.Warn("duplicate candidate lookup failed", zap.String("request_id", req.ID), zap.Error(err))
		return
	}

	var similar []model.SimilarReport
	for _, c := range candidates {
		ratio := Similarity(req.Description, c.Description)
		if ratio <= a.pol.Similarity.Threshold {
			continue
		}
		similar = append(similar, model.SimilarReport{
			ID:         c.ID,
			Similarity: ratio,
			Justification: fmt.Sprintf("Within %.0fm • Same category • %.0f%% description match",
				a.pol.Similarity.RadiusMeters, ratio*100),
		})
	}

	sort.Slice(similar, func(i, j int) bool { return similar[i].Similarity > similar[j].Similarity })
	if len(similar) > a.pol.Similarity.MaxKept {
		similar = similar[:a.pol.Similarity.MaxKept]
	}
	hc.SimilarReports = similar
}

func (a *Aggregator) duplicateDensity(ctx context.Context, req *model.ServiceRequest, hc *model.HistoricalContext) {
	if req.Latitude == nil || req.Longitude == nil {
		return
	}
	count, err := a.src.CountRequestsNear(ctx, store.NearQuery{
		Latitude:     *req.Latitude,
		Longitude:    *req.Longitude,
		RadiusMeters: a.pol.Density.DuplicateRadiusMeters,
		Category:     req.Category,
		ExcludeID:    req.ID,
	})
	if err != nil {
		a.logger.Warn("duplicate density count failed", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	hc.DuplicateDensity15m = count
}
