package triage

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow and activity names registered with the worker.
const (
	WorkflowName = "TriageRequest"
	activityName = "RunTriageActivity"
)

// Activities holds the activity implementations backed by the orchestrator.
type Activities struct {
	Orchestrator *Orchestrator
}

// RunTriageActivity executes one triage run. Idempotent: at-least-once
// delivery just overwrites the same row.
func (a *Activities) RunTriageActivity(ctx context.Context, requestID string) error {
	return a.Orchestrator.Run(ctx, requestID)
}

// TriageWorkflow runs the single triage activity with bounded retries.
// Configuration-absent failures never reach here (the classifier degrades
// instead of erroring), so retries only cover store and network trouble.
func TriageWorkflow(ctx workflow.Context, requestID string) error {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, opts)
	return workflow.ExecuteActivity(ctx, activityName, requestID).Get(ctx, nil)
}
