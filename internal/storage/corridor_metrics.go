package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	corridorMetricsColumns = `corridor_key,
        hour_bucket,
        total_tx,
        success_tx,
        fail_tx,
        success_rate::text,
        volume_usd::text,
        avg_slippage_bps::text,
        avg_settlement_latency_ms::text,
        liquidity_depth_usd::text,
        updated_at`

	deleteStaleCorridorRowsSQL = `DELETE FROM corridor_metrics_hourly
    WHERE hour_bucket = $1
      AND NOT (corridor_key = ANY($2));`

	upsertCorridorMetricsSQL = `INSERT INTO corridor_metrics_hourly (
        corridor_key,
        hour_bucket,
        total_tx,
        success_tx,
        fail_tx,
        success_rate,
        volume_usd,
        avg_slippage_bps,
        avg_settlement_latency_ms,
        liquidity_depth_usd
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (corridor_key, hour_bucket) DO UPDATE
    SET
        total_tx                  = EXCLUDED.total_tx,
        success_tx                = EXCLUDED.success_tx,
        fail_tx                   = EXCLUDED.fail_tx,
        success_rate              = EXCLUDED.success_rate,
        volume_usd                = EXCLUDED.volume_usd,
        avg_slippage_bps          = EXCLUDED.avg_slippage_bps,
        avg_settlement_latency_ms = EXCLUDED.avg_settlement_latency_ms,
        liquidity_depth_usd       = EXCLUDED.liquidity_depth_usd,
        updated_at                = now();`

	listCorridorMetricsHourSQL = `SELECT ` + corridorMetricsColumns + `
    FROM corridor_metrics_hourly
    WHERE hour_bucket = $1
    ORDER BY corridor_key;`

	listCorridorMetricsBetweenSQL = `SELECT ` + corridorMetricsColumns + `
    FROM corridor_metrics_hourly
    WHERE hour_bucket >= $1
      AND hour_bucket < $2
    ORDER BY hour_bucket, corridor_key;`

	listRecentCorridorMetricsSQL = `SELECT ` + corridorMetricsColumns + `
    FROM corridor_metrics_hourly
    ORDER BY hour_bucket DESC, corridor_key
    LIMIT $1;`

	latestHourBucketSQL = `SELECT MAX(hour_bucket) FROM corridor_metrics_hourly;`
)

// ReplaceCorridorHour makes rows the full set of aggregates for hour inside
// one transaction: rows for corridors absent from the recompute are removed.
func (s *Store) ReplaceCorridorHour(ctx context.Context, hour time.Time, rows []CorridorMetricsHourly) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			return err
		}
		if !row.HourBucket.Equal(hour) {
			return fmt.Errorf("%w: %s: hour %s does not match %s", ErrInvalidRow, row.CorridorKey, row.HourBucket, hour)
		}
		keys = append(keys, row.CorridorKey)
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteStaleCorridorRowsSQL, hour, keys); err != nil {
			return fmt.Errorf("delete stale corridor rows: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, row := range rows {
			batch.Queue(upsertCorridorMetricsSQL,
				row.CorridorKey,
				row.HourBucket,
				row.TotalTx,
				row.SuccessTx,
				row.FailTx,
				row.SuccessRate.String(),
				row.VolumeUSD.String(),
				row.AvgSlippageBps.String(),
				row.AvgSettlementLatencyMs.String(),
				row.LiquidityDepthUSD.String(),
			)
		}

		results := tx.SendBatch(ctx, batch)
		for _, row := range rows {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("upsert corridor metrics %s: %w", row.CorridorKey, err)
			}
		}
		return results.Close()
	})
}

// ListCorridorMetricsHour lists every corridor aggregate of a single hour.
func (s *Store) ListCorridorMetricsHour(ctx context.Context, hour time.Time) ([]CorridorMetricsHourly, error) {
	return s.queryCorridorMetrics(ctx, "list corridor metrics hour", listCorridorMetricsHourSQL, hour)
}

// ListCorridorMetricsBetween lists aggregates with from <= hour < to.
func (s *Store) ListCorridorMetricsBetween(ctx context.Context, from, to time.Time) ([]CorridorMetricsHourly, error) {
	return s.queryCorridorMetrics(ctx, "list corridor metrics between", listCorridorMetricsBetweenSQL, from, to)
}

// ListRecentCorridorMetrics lists the newest aggregates first.
func (s *Store) ListRecentCorridorMetrics(ctx context.Context, limit int) ([]CorridorMetricsHourly, error) {
	return s.queryCorridorMetrics(ctx, "list recent corridor metrics", listRecentCorridorMetricsSQL, limit)
}

// LatestHourBucket returns the newest hour with stored aggregates.
func (s *Store) LatestHourBucket(ctx context.Context) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}
	var latest *time.Time
	if err := pool.QueryRow(ctx, latestHourBucketSQL).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("latest hour bucket: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

func (s *Store) queryCorridorMetrics(ctx context.Context, op, query string, args ...any) ([]CorridorMetricsHourly, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]CorridorMetricsHourly, 0)
	for rows.Next() {
		row, err := scanCorridorMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanCorridorMetrics(rows pgx.Rows) (CorridorMetricsHourly, error) {
	var (
		row                                               CorridorMetricsHourly
		successRate, volume, slippage, latency, liquidity string
	)
	if err := rows.Scan(
		&row.CorridorKey,
		&row.HourBucket,
		&row.TotalTx,
		&row.SuccessTx,
		&row.FailTx,
		&successRate,
		&volume,
		&slippage,
		&latency,
		&liquidity,
		&row.UpdatedAt,
	); err != nil {
		return CorridorMetricsHourly{}, err
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"success_rate", successRate, &row.SuccessRate},
		{"volume_usd", volume, &row.VolumeUSD},
		{"avg_slippage_bps", slippage, &row.AvgSlippageBps},
		{"avg_settlement_latency_ms", latency, &row.AvgSettlementLatencyMs},
		{"liquidity_depth_usd", liquidity, &row.LiquidityDepthUSD},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(f.raw)
		if err != nil {
			return CorridorMetricsHourly{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = value
	}
	row.HourBucket = row.HourBucket.UTC()
	return row, nil
}
