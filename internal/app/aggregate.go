package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/aggregation"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/alerting"
)

// Aggregate runs one aggregation pass, or recomputes a single hour.
func (a *App) Aggregate(ctx context.Context, opts AggregateOptions) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if opts.Hour != nil {
		hour := opts.Hour.UTC().Truncate(time.Hour)
		res, err := rt.engine.RecomputeHour(ctx, hour)
		if err != nil {
			return err
		}
		a.printf("hour %s: %d records, %d skipped, %d corridors\n", res.Hour.Format(time.RFC3339), res.Records, res.Skipped, res.Corridors)
		return nil
	}

	summary, err := a.aggregate(ctx, rt)
	a.printf("job %d: %d hours processed, retries=%d, caught_up=%t\n", summary.JobID, len(summary.Hours), summary.RetryCount, summary.CaughtUp)
	return err
}

func (a *App) aggregate(ctx context.Context, rt *runtime) (aggregation.RunSummary, error) {
	started := time.Now()
	summary, err := rt.engine.Run(ctx)
	if !errors.Is(err, aggregation.ErrJobRunning) {
		rt.metrics.ObserveAggregation(len(summary.Hours), err, time.Since(started))
	}

	var runErr *aggregation.RunError
	if errors.As(err, &runErr) {
		a.notify(ctx, rt, alerting.Notification{
			Kind:   alerting.KindAggregationTerminal,
			JobID:  runErr.Job.ID,
			Detail: fmt.Sprintf("retry_count=%d: %v", runErr.Job.RetryCount, runErr.Err),
		})
	}
	return summary, err
}
