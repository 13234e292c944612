package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/report"
)

var (
	reportOut  string
	reportDays int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export a triage summary workbook",
	Long:  "Writes an XLSX workbook covering requests from the last N days: one sheet per request with its triage outcome, plus a per-category rollup.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		since := time.Now().AddDate(0, 0, -reportDays)
		writer := report.NewWriter(env.Store, zap.L())

		n, err := writer.Write(ctx, since, reportOut)
		if err != nil {
			return err
		}

		cmd.Printf("wrote %s: %d requests since %s\n", reportOut, n, since.Format("2006-01-02"))
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportOut, "out", "triage-report.xlsx", "output workbook path")
	reportCmd.Flags().IntVar(&reportDays, "days", 30, "reporting window in days")
	rootCmd.AddCommand(reportCmd)
}
