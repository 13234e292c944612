package main

import (
	"context"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/classify"
	"github.com/civicworks/portal311/internal/history"
	"github.com/civicworks/portal311/internal/jurisdiction"
	"github.com/civicworks/portal311/internal/policy"
	"github.com/civicworks/portal311/internal/spatial"
	"github.com/civicworks/portal311/internal/store"
	"github.com/civicworks/portal311/internal/triage"
	anthropicpkg "github.com/civicworks/portal311/pkg/anthropic"
	"github.com/civicworks/portal311/pkg/notion"
	"github.com/civicworks/portal311/pkg/places"
	sfpkg "github.com/civicworks/portal311/pkg/salesforce"
	"github.com/civicworks/portal311/pkg/weather"
)

// triageEnv bundles everything a command needs to run or serve triage.
// Callers should defer env.Close().
type triageEnv struct {
	Store        store.Store
	Policy       policy.Policy
	Evaluator    *jurisdiction.Evaluator
	Orchestrator *triage.Orchestrator
	Runner       triage.Runner
}

func (e *triageEnv) Close(ctx context.Context) {
	if e.Runner != nil {
		if err := e.Runner.Shutdown(ctx); err != nil {
			zap.L().Warn("runner shutdown", zap.Error(err))
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("store close", zap.Error(err))
		}
	}
}

// initEnv opens the store, builds the aggregators and classifier, and selects
// the task runner. Optional integrations (places, weather, notion,
// salesforce) are wired only when configured.
func initEnv(ctx context.Context) (*triageEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	pol := policy.Default()
	if cfg.Triage.PolicyPath != "" {
		pol, err = policy.Load(cfg.Triage.PolicyPath)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	logger := zap.L()

	var placesClient places.Client
	if cfg.Places.Key != "" {
		placesClient = places.NewClient(cfg.Places.Key,
			places.WithBaseURL(cfg.Places.BaseURL),
			places.WithRateLimit(cfg.Places.RequestsPerSecond))
		logger.Info("place lookup enabled")
	}

	var weatherClient weather.Client
	if cfg.Weather.Enabled {
		weatherClient = weather.NewClient(weather.WithBaseURL(cfg.Weather.BaseURL))
	}

	var anthropicClient anthropicpkg.Client
	if cfg.Anthropic.Configured() {
		anthropicClient = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}

	classifier := classify.New(cfg.Anthropic, anthropicClient, weatherClient, pol, logger)
	hist := history.NewAggregator(st, pol, logger)
	spat := spatial.NewAggregator(st, placesClient, pol, logger)

	orch := triage.NewOrchestrator(st, hist, spat, classifier, initNotifiers(logger), logger)

	runner, err := triage.NewRunner(cfg.Temporal, cfg.Triage, orch, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &triageEnv{
		Store:        st,
		Policy:       pol,
		Evaluator:    jurisdiction.NewEvaluator(st, logger),
		Orchestrator: orch,
		Runner:       runner,
	}, nil
}

func initNotifiers(logger *zap.Logger) []triage.Notifier {
	var notifiers []triage.Notifier

	if cfg.Notion.Token != "" && cfg.Notion.ReviewDB != "" {
		board := notion.NewReviewBoard(notion.NewClient(cfg.Notion.Token), cfg.Notion.ReviewDB, logger)
		notifiers = append(notifiers, board)
		logger.Info("review board enabled")
	}

	if cfg.Salesforce.ClientID != "" {
		sfClient, err := initSalesforce()
		if err != nil {
			logger.Warn("salesforce init failed, case mirror disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, sfpkg.NewCaseMirror(sfClient, logger))
			logger.Info("case mirror enabled")
		}
	}

	return notifiers
}

func initSalesforce() (sfpkg.Client, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf), nil
}
