package triage

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/config"
	"github.com/civicworks/portal311/internal/resilience"
)

// Runner hands a request ID to the orchestrator asynchronously. Delivery is
// at-least-once; consumption is idempotent (the write-back overwrites).
type Runner interface {
	Enqueue(ctx context.Context, requestID string) error
	Shutdown(ctx context.Context) error
}

// NewRunner selects the runner from configuration: a Temporal client when a
// host is configured, otherwise an in-process goroutine pool. Single-node
// pilots run without any Temporal server.
func NewRunner(cfg config.TemporalConfig, triageCfg config.TriageConfig, orch *Orchestrator, logger *zap.Logger) (Runner, error) {
	if logger == nil {
		logger = zap.L()
	}
	if cfg.HostPort == "" {
		return NewGoroutineRunner(orch, triageCfg.MaxAttempts, logger), nil
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, eris.Wrap(err, "triage: dial temporal")
	}
	return &TemporalRunner{client: c, taskQueue: cfg.TaskQueue, logger: logger}, nil
}

// TemporalRunner starts one workflow per request. The workflow ID embeds the
// request ID, so duplicate submissions of the same request dedupe on the
// server instead of racing.
type TemporalRunner struct {
	client    client.Client
	taskQueue string
	logger    *zap.Logger
}

func (r *TemporalRunner) Enqueue(ctx context.Context, requestID string) error {
	_, err := r.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "triage-" + requestID,
		TaskQueue: r.taskQueue,
	}, WorkflowName, requestID)
	if err != nil {
		return eris.Wrapf(err, "triage: start workflow for %s", requestID)
	}
	r.logger.Debug("triage workflow started", zap.String("request_id", requestID))
	return nil
}

func (r *TemporalRunner) Shutdown(_ context.Context) error {
	r.client.Close()
	return nil
}

// GoroutineRunner executes triage in-process with bounded retries and
// backoff. Used when no Temporal server is configured.
type GoroutineRunner struct {
	orch        *Orchestrator
	maxAttempts int
	logger      *zap.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewGoroutineRunner creates the in-process runner.
func NewGoroutineRunner(orch *Orchestrator, maxAttempts int, logger *zap.Logger) *GoroutineRunner {
	if logger == nil {
		logger = zap.L()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &GoroutineRunner{orch: orch, maxAttempts: maxAttempts, logger: logger}
}

func (r *GoroutineRunner) Enqueue(ctx context.Context, requestID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return eris.New("triage: runner shut down")
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		// Detach from the request-scoped context so triage outlives the
		// HTTP response.
		runCtx := context.WithoutCancel(ctx)

		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxAttempts = r.maxAttempts
		retryCfg.OnRetry = resilience.RetryLogger("triage", "run")

		if err := resilience.Do(runCtx, retryCfg, func(ctx context.Context) error {
			return r.orch.Run(ctx, requestID)
		}); err != nil {
			r.logger.Error("background triage failed",
				zap.String("request_id", requestID), zap.Error(err))
		}
	}()
	return nil
}

// Shutdown waits for in-flight runs, up to the context deadline.
func (r *GoroutineRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "triage: shutdown wait")
	}
}
