package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/app"
)

var aggregateHour string

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Process pending hours, or recompute one hour with --hour",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts app.AggregateOptions
		if aggregateHour != "" {
			hour, err := time.Parse(time.RFC3339, aggregateHour)
			if err != nil {
				return fmt.Errorf("invalid --hour value: %w", err)
			}
			opts.Hour = &hour
		}
		return getApp().Aggregate(cmd.Context(), opts)
	},
}

func init() {
	aggregateCmd.Flags().StringVar(&aggregateHour, "hour", "", "Recompute the hour containing this timestamp (RFC3339)")
}
