package aggregation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/storage"
)

// Stored precision; rows are rounded so a re-read equals the computed value.
const (
	rateScale     = 4
	usdScale      = 7
	bpsScale      = 4
	latencyScale  = 4
	hundredPct    = 100
	msPerDuration = int64(time.Millisecond)
)

type accumulator struct {
	total, success int64
	volume         decimal.Decimal
	slippageSum    decimal.Decimal
	latencySum     int64
	latencyN       int64
}

// SuccessRate is success/total*100, or 0 when total is 0.
func SuccessRate(success, total int64) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(success).
		Mul(decimal.NewFromInt(hundredPct)).
		Div(decimal.NewFromInt(total)).
		Round(rateScale)
}

// ComputeHour folds the observations of one hour into one row per
// directional corridor, ordered by corridor key. liquidity supplies the
// depth per corridor key; missing entries are zero.
func ComputeHour(hour time.Time, observations []Observation, liquidity map[string]decimal.Decimal) []storage.CorridorMetricsHourly {
	accs := make(map[string]*accumulator)
	for _, obs := range observations {
		key := obs.Pair.CorridorKey()
		acc, ok := accs[key]
		if !ok {
			acc = &accumulator{}
			accs[key] = acc
		}
		acc.total++
		if !obs.Successful {
			continue
		}
		acc.success++
		acc.volume = acc.volume.Add(obs.VolumeUSD)
		acc.slippageSum = acc.slippageSum.Add(obs.SlippageBps)
		if obs.Latency > 0 {
			acc.latencySum += int64(obs.Latency)
			acc.latencyN++
		}
	}

	rows := make([]storage.CorridorMetricsHourly, 0, len(accs))
	for key, acc := range accs {
		row := storage.CorridorMetricsHourly{
			CorridorKey:            key,
			HourBucket:             hour,
			TotalTx:                acc.total,
			SuccessTx:              acc.success,
			FailTx:                 acc.total - acc.success,
			SuccessRate:            SuccessRate(acc.success, acc.total),
			VolumeUSD:              acc.volume.Round(usdScale),
			AvgSlippageBps:         decimal.Zero,
			AvgSettlementLatencyMs: decimal.Zero,
			LiquidityDepthUSD:      liquidity[key].Round(usdScale),
		}
		if acc.success > 0 {
			row.AvgSlippageBps = acc.slippageSum.Div(decimal.NewFromInt(acc.success)).Round(bpsScale)
		}
		if acc.latencyN > 0 {
			row.AvgSettlementLatencyMs = decimal.NewFromInt(acc.latencySum).
				Div(decimal.NewFromInt(msPerDuration * acc.latencyN)).
				Round(latencyScale)
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].CorridorKey < rows[j].CorridorKey })
	return rows
}
