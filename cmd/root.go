package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-metrics/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "merchant-metrics",
	Short: "Analytics backend for merchant sales data",
	Long:  "Ingests transaction and marketing spend uploads, validates and imports them into a metric store, and serves dashboards, insights and Telegram alerts.",
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
