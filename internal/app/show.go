package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/corridor"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/snapshot"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/storage"
)

// Show prints recent corridor rows, jobs and the latest snapshot.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return a.show(ctx, rt.store, opts)
}

func (a *App) show(ctx context.Context, store storage.Repository, opts ShowOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	rows, err := store.ListRecentCorridorMetrics(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.printf("no corridor metrics found\n")
	} else {
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Hour (UTC)\tCorridor\tTotal\tSuccess%\tVolume USD\tSlippage bps\tLatency ms\tLiquidity USD")
		for _, row := range rows {
			fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
				row.HourBucket.UTC().Format(time.RFC3339),
				displayCorridor(row.CorridorKey),
				row.TotalTx,
				row.SuccessRate.StringFixed(2),
				row.VolumeUSD.StringFixed(2),
				row.AvgSlippageBps.StringFixed(2),
				row.AvgSettlementLatencyMs.StringFixed(0),
				row.LiquidityDepthUSD.StringFixed(2),
			)
		}
		writer.Flush()
	}

	jobs, err := store.ListRecentJobs(ctx, 5)
	if err != nil {
		return err
	}
	if len(jobs) > 0 {
		a.printf("\n")
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Job\tStatus\tCheckpoint\tRetries\tError")
		for _, job := range jobs {
			checkpoint, errMsg := "-", ""
			if job.LastProcessedHour != nil {
				checkpoint = job.LastProcessedHour.UTC().Format(time.RFC3339)
			}
			if job.ErrorMessage != nil {
				errMsg = sanitizeInline(*job.ErrorMessage)
			}
			fmt.Fprintf(writer, "%d\t%s\t%s\t%d\t%s\n", job.ID, job.Status, checkpoint, job.RetryCount, errMsg)
		}
		writer.Flush()
	}

	latest, ok, err := store.LatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	sum, err := snapshot.Summarize(latest.CanonicalJSON)
	if err != nil {
		return err
	}
	a.printf("\nlatest snapshot: epoch %d at %s, %d corridors, %d anchors, hash %s\n",
		sum.Epoch, sum.Timestamp.Format(time.RFC3339), sum.Corridors, sum.Anchors, snapshot.Digest(latest.Hash).Hex())
	if sum.TopCorridor != "" {
		a.printf("top corridor by volume: %s (%s USD)\n", displayCorridor(sum.TopCorridor), sum.TopVolumeUSD)
	}

	subs, err := store.ListSubmissions(ctx, latest.Epoch)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		a.printf("  submission %s verified=%t attempts=%d\n", sub.Status, sub.Verified, sub.Attempts)
	}
	return nil
}

// displayCorridor renders the presentation key, falling back to the raw key.
func displayCorridor(key string) string {
	pair, err := corridor.ParseCorridorKey(key)
	if err != nil {
		return key
	}
	if pair.SameAsset() {
		return pair.Source.String()
	}
	return pair.DisplayKey() + " (" + key + ")"
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
