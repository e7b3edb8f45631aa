package app

import (
	"context"
	"errors"
	"time"
)

// Backfill recomputes every hour in [from, to). The checkpoint is not moved.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	start := opts.From.UTC().Truncate(time.Hour)
	end := alignForward(opts.To.UTC(), time.Hour)
	if !start.Before(end) {
		return errors.New("empty backfill range; check --from/--to")
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	results, err := rt.engine.Backfill(ctx, start, end)
	records := 0
	for _, res := range results {
		records += res.Records
	}
	a.Logger.Info().Int("hours", len(results)).Int("records", records).Time("from", start).Time("to", end).Msg("backfill finished")
	a.printf("backfilled %d hours (%d records)\n", len(results), records)
	return err
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
