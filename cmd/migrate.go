package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-metrics/internal/metrics"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema and seed the metric registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		defs, err := metrics.Defaults()
		if err != nil {
			return err
		}
		if err := st.EnsureMetricDefinitions(cmd.Context(), defs); err != nil {
			return err
		}

		zap.L().Info("migration complete", zap.Int("metric_definitions", len(defs)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
