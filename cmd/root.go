package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "portal311",
	Short: "Municipal 311 triage and jurisdiction routing engine",
	Long:  "Accepts resident service requests, gates them against jurisdiction boundaries, and prioritizes them with historical, spatial, and AI-assisted triage.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
