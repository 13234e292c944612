package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/triage"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal triage worker",
	Long:  "Polls the triage task queue and executes triage workflows. Requires temporal.host_port to be configured.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Temporal.HostPort == "" {
			return eris.New("temporal.host_port is required for the worker (PORTAL311_TEMPORAL_HOST_PORT)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return eris.Wrap(err, "dial temporal")
		}
		defer c.Close()

		w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
		w.RegisterWorkflowWithOptions(triage.TriageWorkflow, workflow.RegisterOptions{Name: triage.WorkflowName})
		w.RegisterActivity(&triage.Activities{Orchestrator: env.Orchestrator})

		zap.L().Info("triage worker starting",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.String("host_port", cfg.Temporal.HostPort),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "run worker")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
