package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/aggregation"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/cache"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/corridor"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/scoring"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/storage"
)

type corridorAcc struct {
	pair                 corridor.AssetPair
	total, success, fail int64
	volume               decimal.Decimal
	slippageWeighted     decimal.Decimal
	latencyWeighted      decimal.Decimal
	latencyWeight        int64
	liquidity            decimal.Decimal
	liquidityHour        time.Time
}

type anchorAcc struct {
	total, success, fail int64
	volume               decimal.Decimal
	latencyWeighted      decimal.Decimal
	latencyWeight        int64
	corridors            int
}

// Build reads the hourly rows of the snapshot window and folds them into
// an AnalyticsSnapshot for epoch. The window ends at the close of the
// newest aggregated hour, so the result depends only on stored data. With
// nothing aggregated yet the window collapses onto the Unix epoch and the
// metric arrays are empty.
func (s *Service) Build(ctx context.Context, epoch uint64) (AnalyticsSnapshot, error) {
	latest, ok, err := s.store.LatestHourBucket(ctx)
	if err != nil {
		return AnalyticsSnapshot{}, fmt.Errorf("latest hour bucket: %w", err)
	}
	end := time.Unix(0, 0).UTC()
	start := end
	if ok {
		end = latest.UTC().Add(time.Hour)
		start = end.Add(-s.opts.Window)
	}

	var rows []storage.CorridorMetricsHourly
	for hour := start; hour.Before(end); hour = hour.Add(time.Hour) {
		hourRows, err := s.loadHour(ctx, hour)
		if err != nil {
			return AnalyticsSnapshot{}, fmt.Errorf("load hour %s: %w", hour.Format(time.RFC3339), err)
		}
		rows = append(rows, hourRows...)
	}

	corridors, err := s.corridorMetrics(rows)
	if err != nil {
		return AnalyticsSnapshot{}, err
	}
	return AnalyticsSnapshot{
		Epoch:           epoch,
		Timestamp:       end,
		SchemaVersion:   s.opts.SchemaVersion,
		WindowStart:     start,
		WindowEnd:       end,
		AnchorMetrics:   s.anchorMetrics(corridors),
		CorridorMetrics: corridors,
	}, nil
}

func (s *Service) loadHour(ctx context.Context, hour time.Time) ([]storage.CorridorMetricsHourly, error) {
	return cache.GetOrLoad(ctx, s.cache, cache.HourKey(hour), s.opts.CacheTTL,
		func(ctx context.Context) ([]storage.CorridorMetricsHourly, error) {
			return s.store.ListCorridorMetricsHour(ctx, hour)
		})
}

func (s *Service) corridorMetrics(rows []storage.CorridorMetricsHourly) ([]CorridorMetrics, error) {
	accs := make(map[string]*corridorAcc)
	for _, row := range rows {
		acc, ok := accs[row.CorridorKey]
		if !ok {
			pair, err := corridor.ParseCorridorKey(row.CorridorKey)
			if err != nil {
				return nil, fmt.Errorf("stored row: %w", err)
			}
			acc = &corridorAcc{pair: pair}
			accs[row.CorridorKey] = acc
		}
		acc.total += row.TotalTx
		acc.success += row.SuccessTx
		acc.fail += row.FailTx
		acc.volume = acc.volume.Add(row.VolumeUSD)
		weight := decimal.NewFromInt(row.SuccessTx)
		acc.slippageWeighted = acc.slippageWeighted.Add(row.AvgSlippageBps.Mul(weight))
		if row.AvgSettlementLatencyMs.IsPositive() {
			acc.latencyWeighted = acc.latencyWeighted.Add(row.AvgSettlementLatencyMs.Mul(weight))
			acc.latencyWeight += row.SuccessTx
		}
		if acc.liquidityHour.IsZero() || row.HourBucket.After(acc.liquidityHour) {
			acc.liquidity = row.LiquidityDepthUSD
			acc.liquidityHour = row.HourBucket
		}
	}

	out := make([]CorridorMetrics, 0, len(accs))
	for key, acc := range accs {
		m := CorridorMetrics{
			CorridorKey:       key,
			SourceAsset:       acc.pair.Source.String(),
			DestinationAsset:  acc.pair.Destination.String(),
			TotalTx:           acc.total,
			SuccessTx:         acc.success,
			FailTx:            acc.fail,
			SuccessRate:       aggregation.SuccessRate(acc.success, acc.total),
			VolumeUSD:         acc.volume.Round(usdScale),
			LiquidityDepthUSD: acc.liquidity.Round(usdScale),
		}
		if acc.success > 0 {
			m.AvgSlippageBps = acc.slippageWeighted.Div(decimal.NewFromInt(acc.success)).Round(bpsScale)
		}
		if acc.latencyWeight > 0 {
			m.AvgSettlementLatencyMs = acc.latencyWeighted.Div(decimal.NewFromInt(acc.latencyWeight)).Round(latencyScale)
		}
		diversity := 2
		if acc.pair.SameAsset() {
			diversity = 1
		}
		m.HealthScore = s.scorer.Score(scoring.Inputs{
			SuccessRate:            m.SuccessRate,
			VolumeUSD:              m.VolumeUSD,
			AvgSettlementLatencyMs: m.AvgSettlementLatencyMs,
			Diversity:              diversity,
		})
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CorridorKey < out[j].CorridorKey })
	return out, nil
}

func (s *Service) anchorMetrics(corridors []CorridorMetrics) []AnchorMetrics {
	accs := make(map[string]*anchorAcc)
	for _, c := range corridors {
		pair, err := corridor.ParseCorridorKey(c.CorridorKey)
		if err != nil {
			continue
		}
		for _, issuer := range pair.Issuers() {
			acc, ok := accs[issuer]
			if !ok {
				acc = &anchorAcc{}
				accs[issuer] = acc
			}
			acc.total += c.TotalTx
			acc.success += c.SuccessTx
			acc.fail += c.FailTx
			acc.volume = acc.volume.Add(c.VolumeUSD)
			acc.corridors++
			if c.AvgSettlementLatencyMs.IsPositive() {
				acc.latencyWeighted = acc.latencyWeighted.Add(c.AvgSettlementLatencyMs.Mul(decimal.NewFromInt(c.SuccessTx)))
				acc.latencyWeight += c.SuccessTx
			}
		}
	}

	out := make([]AnchorMetrics, 0, len(accs))
	for issuer, acc := range accs {
		m := AnchorMetrics{
			Anchor:        issuer,
			TotalTx:       acc.total,
			SuccessTx:     acc.success,
			FailTx:        acc.fail,
			SuccessRate:   aggregation.SuccessRate(acc.success, acc.total),
			VolumeUSD:     acc.volume.Round(usdScale),
			CorridorCount: acc.corridors,
		}
		if acc.latencyWeight > 0 {
			m.AvgSettlementLatencyMs = acc.latencyWeighted.Div(decimal.NewFromInt(acc.latencyWeight)).Round(latencyScale)
		}
		m.ReliabilityScore = s.scorer.Score(scoring.Inputs{
			SuccessRate:            m.SuccessRate,
			VolumeUSD:              m.VolumeUSD,
			AvgSettlementLatencyMs: m.AvgSettlementLatencyMs,
			Diversity:              m.CorridorCount,
		})
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Anchor < out[j].Anchor })
	return out
}
