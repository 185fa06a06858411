package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-metrics/internal/alerting"
	"github.com/sells-group/merchant-metrics/internal/metrics"
)

var alertsDate string

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Evaluate enabled alert rules once and deliver fired alerts",
	Long:  "Runs the daily alert pass: every enabled rule is evaluated against current metric values, fired events are persisted and sent to the bound Telegram chats. Intended to run from cron.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("alerts"); err != nil {
			return err
		}

		today := time.Now().UTC()
		if alertsDate != "" {
			parsed, err := time.Parse(time.DateOnly, alertsDate)
			if err != nil {
				return err
			}
			today = parsed
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		evaluator := alerting.NewEvaluator(st, metrics.NewEngine(st.Pool(), st), initTelegram())
		events, err := evaluator.RunDaily(cmd.Context(), today)
		if err != nil {
			return err
		}

		zap.L().Info("alert pass complete",
			zap.String("date", today.Format(time.DateOnly)),
			zap.Int("fired", len(events)),
		)
		return nil
	},
}

func init() {
	alertsCmd.Flags().StringVar(&alertsDate, "date", "", "evaluate as of this date (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(alertsCmd)
}
