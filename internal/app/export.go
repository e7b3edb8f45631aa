package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/aggregation"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/storage"
)

// Export renders corridor metrics as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return a.export(ctx, rt.store, opts)
}

func (a *App) export(ctx context.Context, store storage.CorridorMetricsStore, opts ExportOptions) error {
	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	to := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-7 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.ListCorridorMetricsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if opts.Corridor != "" {
		filtered := rows[:0]
		for _, row := range rows {
			if row.CorridorKey == opts.Corridor {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	if len(rows) == 0 {
		a.Logger.Info().Msg("no corridor metrics found for export window")
		return nil
	}
	if len(rows) > opts.MaxRows {
		rows = rows[len(rows)-opts.MaxRows:]
	}
	a.Logger.Info().Int("rows", len(rows)).Time("from", from).Time("to", to).Msg("exporting corridor metrics")

	if opts.CSVPath != "" {
		if err := writeMetricsCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeMetricsPNG(opts.PNGPath, hourlyTotals(rows)); err != nil {
			return err
		}
	}
	return nil
}

func writeMetricsCSV(path string, rows []storage.CorridorMetricsHourly) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"hour_bucket", "corridor_key", "total_tx", "success_tx", "fail_tx", "success_rate", "volume_usd", "avg_slippage_bps", "avg_settlement_latency_ms", "liquidity_depth_usd"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.HourBucket.UTC().Format(time.RFC3339),
			row.CorridorKey,
			strconv.FormatInt(row.TotalTx, 10),
			strconv.FormatInt(row.SuccessTx, 10),
			strconv.FormatInt(row.FailTx, 10),
			row.SuccessRate.String(),
			row.VolumeUSD.String(),
			row.AvgSlippageBps.String(),
			row.AvgSettlementLatencyMs.String(),
			row.LiquidityDepthUSD.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

type hourTotal struct {
	Hour        time.Time
	SuccessRate decimal.Decimal
	VolumeUSD   decimal.Decimal
}

// hourlyTotals folds every corridor of an hour into one point.
func hourlyTotals(rows []storage.CorridorMetricsHourly) []hourTotal {
	type acc struct {
		total, success int64
		volume         decimal.Decimal
	}
	byHour := make(map[time.Time]*acc)
	for _, row := range rows {
		h, ok := byHour[row.HourBucket]
		if !ok {
			h = &acc{}
			byHour[row.HourBucket] = h
		}
		h.total += row.TotalTx
		h.success += row.SuccessTx
		h.volume = h.volume.Add(row.VolumeUSD)
	}

	out := make([]hourTotal, 0, len(byHour))
	for hour, h := range byHour {
		out = append(out, hourTotal{Hour: hour, SuccessRate: aggregation.SuccessRate(h.success, h.total), VolumeUSD: h.volume})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	return out
}

func writeMetricsPNG(path string, points []hourTotal) error {
	if len(points) < 2 {
		return errors.New("need at least two hours of data to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	success := make([]float64, len(points))
	volume := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.Hour
		success[i] = p.SuccessRate.InexactFloat64()
		volume[i] = p.VolumeUSD.InexactFloat64()
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Success rate (%)",
			ValueFormatter: pctFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Volume (USD)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Success %",
				XValues: x,
				YValues: success,
			},
			chart.TimeSeries{
				Name:    "Volume USD",
				XValues: x,
				YValues: volume,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
