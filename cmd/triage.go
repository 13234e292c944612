package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var triageCmd = &cobra.Command{
	Use:   "triage <request-id>",
	Short: "Run triage for one request in the foreground",
	Long:  "Runs the full triage pipeline (history, spatial context, classification, write-back) synchronously. Useful for reruns after a failed background run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		requestID := args[0]
		if err := env.Orchestrator.Run(ctx, requestID); err != nil {
			return eris.Wrapf(err, "triage %s", requestID)
		}

		zap.L().Info("triage finished", zap.String("request_id", requestID))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(triageCmd)
}
