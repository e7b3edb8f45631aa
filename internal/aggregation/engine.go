package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/cache"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/corridor"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/horizon"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/logging"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/retry"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/storage"
)

// DefaultJobType names the hourly corridor aggregation job.
const DefaultJobType = "corridor_hourly"

const statusWriteAttempts = 3

var (
	// ErrJobRunning is returned when another run of the same job is active.
	ErrJobRunning = errors.New("aggregation job already running")
	// ErrJobTerminal is wrapped by RunError once retries are exhausted.
	ErrJobTerminal = errors.New("aggregation job failed terminally")
)

// RunError reports a run that ended in the failed state.
type RunError struct {
	Job storage.AggregationJob
	Err error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("aggregation job %d failed (retry_count=%d): %v", e.Job.ID, e.Job.RetryCount, e.Err)
}

func (e *RunError) Unwrap() []error {
	return []error{ErrJobTerminal, e.Err}
}

// Source yields raw payment records for a closed time window.
type Source interface {
	Records(ctx context.Context, from, to time.Time) ([]corridor.RawPaymentRecord, error)
	LatestClosedAt(ctx context.Context) (time.Time, error)
}

// DepthSampler measures order-book depth in destination units.
type DepthSampler interface {
	BidDepth(ctx context.Context, pair corridor.AssetPair, levels int) (decimal.Decimal, error)
}

// Store is the persistence the engine needs.
type Store interface {
	storage.CorridorMetricsStore
	storage.JobStore
}

// Config tunes the engine.
type Config struct {
	JobType        string
	MaxHoursPerRun int
	MaxRetries     int
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration
	// StartHour is the first hour processed when no checkpoint exists.
	// When zero, processing starts at the latest complete hour.
	StartHour        time.Time
	LockKey          int64
	SampleLiquidity  bool
	DepthConcurrency int
	DepthLevels      int
	Prices           PriceTable
}

// HourResult summarises one processed hour.
type HourResult struct {
	Hour      time.Time
	Records   int
	Skipped   int
	Corridors int
}

// RunSummary summarises one Run.
type RunSummary struct {
	JobID      int64
	Hours      []HourResult
	RetryCount int
	Checkpoint *time.Time
	CaughtUp   bool
}

// Engine recomputes hourly corridor metrics from source data.
type Engine struct {
	cfg     Config
	source  Source
	store   Store
	locker  storage.AdvisoryLocker
	sampler DepthSampler
	cache   cache.Cache
	logger  zerolog.Logger

	// local guards against concurrent runs inside one process when no
	// advisory locker is available.
	local sync.Mutex
}

// NewEngine wires an engine. locker, sampler and c may be nil.
func NewEngine(cfg Config, source Source, store Store, locker storage.AdvisoryLocker, sampler DepthSampler, c cache.Cache, logger zerolog.Logger) *Engine {
	if cfg.JobType == "" {
		cfg.JobType = DefaultJobType
	}
	if cfg.MaxHoursPerRun <= 0 {
		cfg.MaxHoursPerRun = 24
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.DepthConcurrency <= 0 {
		cfg.DepthConcurrency = 4
	}
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 20
	}
	if cfg.Prices == nil {
		cfg.Prices = PriceTable{}
	}
	return &Engine{
		cfg:     cfg,
		source:  source,
		store:   store,
		locker:  locker,
		sampler: sampler,
		cache:   c,
		logger:  logging.Component(logger, "aggregation"),
	}
}

func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if !e.local.TryLock() {
		return nil, ErrJobRunning
	}
	if e.locker == nil {
		return e.local.Unlock, nil
	}
	unlock, ok, err := e.locker.TryAdvisoryLock(ctx, e.cfg.LockKey)
	if err != nil {
		e.local.Unlock()
		return nil, fmt.Errorf("acquire aggregation lock: %w", err)
	}
	if !ok {
		e.local.Unlock()
		return nil, ErrJobRunning
	}
	return func() {
		unlock()
		e.local.Unlock()
	}, nil
}

// Run processes pending complete hours after the checkpoint, at most
// MaxHoursPerRun of them. Failures are retried with backoff up to
// MaxRetries; progress made before a failure is kept.
func (e *Engine) Run(ctx context.Context) (RunSummary, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	defer release()

	if err := e.reapAbandoned(ctx); err != nil {
		return RunSummary{}, err
	}

	job, err := e.store.CreateJob(ctx, e.cfg.JobType)
	if err != nil {
		return RunSummary{}, err
	}
	summary := RunSummary{JobID: job.ID}
	log := e.logger.With().Int64("job_id", job.ID).Logger()

	policy := retry.Policy{
		MaxAttempts:  e.cfg.MaxRetries + 1,
		InitialDelay: e.cfg.RetryBackoff,
		MaxDelay:     e.cfg.MaxBackoff,
	}
	machine := retry.NewMachine(policy)

	for {
		job.Status = storage.JobRunning
		if err := e.store.UpdateJob(ctx, job); err != nil {
			return summary, err
		}

		hours, caughtUp, runErr := e.processPending(ctx, &job)
		summary.Hours = append(summary.Hours, hours...)
		summary.Checkpoint = job.LastProcessedHour
		summary.CaughtUp = caughtUp

		step := machine.Observe(runErr, retryable(ctx, runErr))
		if step.Outcome == retry.Success {
			job.Status = storage.JobCompleted
			job.ErrorMessage = nil
			if err := e.finish(ctx, job); err != nil {
				return summary, fmt.Errorf("record job completion: %w", err)
			}
			log.Info().Int("hours", len(summary.Hours)).Bool("caught_up", caughtUp).Msg("aggregation job completed")
			return summary, nil
		}

		msg := runErr.Error()
		job.Status = storage.JobFailed
		job.ErrorMessage = &msg
		job.RetryCount++
		summary.RetryCount = job.RetryCount
		if err := e.finish(ctx, job); err != nil {
			log.Error().Err(err).Msg("record job failure")
			return summary, &RunError{Job: job, Err: errors.Join(runErr, err)}
		}

		if step.Done {
			log.Error().Err(runErr).Int("retry_count", job.RetryCount).Msg("aggregation job failed terminally")
			return summary, &RunError{Job: job, Err: runErr}
		}

		log.Warn().Err(runErr).Int("retry_count", job.RetryCount).Dur("backoff", step.Delay).Msg("aggregation attempt failed; retrying")
		timer := time.NewTimer(step.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return summary, &RunError{Job: job, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

// retryable separates transient failures from definitive ones. A Horizon
// 4xx answer or a row that breaks its invariants will not change on retry.
func retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, storage.ErrInvalidRow) || errors.Is(err, corridor.ErrMalformedRecord) {
		return false
	}
	return horizon.IsRetryable(err)
}

// finish writes a final job state, retrying the write so the job is not
// left in running. It runs even when ctx is already cancelled.
func (e *Engine) finish(ctx context.Context, job storage.AggregationJob) error {
	policy := retry.Policy{MaxAttempts: statusWriteAttempts, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	_, err := retry.Do(context.WithoutCancel(ctx), policy, func(error) bool { return true }, nil,
		func(ctx context.Context, _ int) error {
			return e.store.UpdateJob(ctx, job)
		})
	return err
}

// reapAbandoned fails running jobs left behind by a crashed process. It is
// only called while holding the run lock, so such jobs cannot be live.
func (e *Engine) reapAbandoned(ctx context.Context) error {
	job, ok, err := e.store.FindRunningJob(ctx, e.cfg.JobType)
	if err != nil || !ok {
		return err
	}
	if e.locker == nil {
		return ErrJobRunning
	}
	msg := "abandoned: owner process exited while running"
	job.Status = storage.JobFailed
	job.ErrorMessage = &msg
	e.logger.Warn().Int64("job_id", job.ID).Msg("marking abandoned aggregation job failed")
	return e.store.UpdateJob(ctx, job)
}

func (e *Engine) processPending(ctx context.Context, job *storage.AggregationJob) ([]HourResult, bool, error) {
	latest, err := e.source.LatestClosedAt(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("latest closed ledger: %w", err)
	}

	next, err := e.nextHour(ctx, job, latest)
	if err != nil {
		return nil, false, err
	}

	results := make([]HourResult, 0)
	for len(results) < e.cfg.MaxHoursPerRun {
		if next.Add(time.Hour).After(latest) {
			return results, true, nil
		}
		res, err := e.ProcessHour(ctx, next)
		if err != nil {
			return results, false, err
		}
		hour := next
		job.LastProcessedHour = &hour
		if err := e.store.UpdateJob(ctx, *job); err != nil {
			return results, false, fmt.Errorf("advance checkpoint: %w", err)
		}
		results = append(results, res)
		next = next.Add(time.Hour)
	}
	return results, next.Add(time.Hour).After(latest), nil
}

func (e *Engine) nextHour(ctx context.Context, job *storage.AggregationJob, latest time.Time) (time.Time, error) {
	if job.LastProcessedHour != nil {
		return job.LastProcessedHour.Add(time.Hour), nil
	}
	checkpoint, ok, err := e.store.LatestCheckpoint(ctx, e.cfg.JobType)
	if err != nil {
		return time.Time{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok {
		return checkpoint.Add(time.Hour), nil
	}
	if !e.cfg.StartHour.IsZero() {
		return e.cfg.StartHour.UTC().Truncate(time.Hour), nil
	}
	return latest.UTC().Truncate(time.Hour).Add(-time.Hour), nil
}

// ProcessHour recomputes one hour from source data and replaces its rows.
// It does not move the checkpoint, so it doubles as the backfill and rerun
// primitive.
func (e *Engine) ProcessHour(ctx context.Context, hour time.Time) (HourResult, error) {
	hour = hour.UTC().Truncate(time.Hour)
	log := e.logger.With().Time("hour", hour).Logger()

	records, err := e.source.Records(ctx, hour, hour.Add(time.Hour))
	if err != nil {
		return HourResult{}, fmt.Errorf("load records for %s: %w", hour.Format(time.RFC3339), err)
	}

	observations := make([]Observation, 0, len(records))
	skipped := 0
	for _, rec := range records {
		pair, ok := corridor.Extract(rec)
		if !ok {
			skipped++
			log.Warn().Str("operation_id", rec.ID).Err(corridor.Validate(rec)).Msg("skipping malformed payment record")
			continue
		}
		obs, err := Observe(rec, pair, e.cfg.Prices)
		if err != nil {
			skipped++
			log.Warn().Str("operation_id", rec.ID).Err(err).Msg("skipping payment record")
			continue
		}
		observations = append(observations, obs)
	}

	liquidity, err := e.liquidity(ctx, hour, observations)
	if err != nil {
		return HourResult{}, err
	}

	rows := ComputeHour(hour, observations, liquidity)
	if err := e.store.ReplaceCorridorHour(ctx, hour, rows); err != nil {
		return HourResult{}, fmt.Errorf("store hour %s: %w", hour.Format(time.RFC3339), err)
	}
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, cache.HourKey(hour)); err != nil {
			log.Warn().Err(err).Msg("cache invalidation failed")
		}
	}

	log.Info().Int("records", len(records)).Int("skipped", skipped).Int("corridors", len(rows)).Msg("hour aggregated")
	return HourResult{Hour: hour, Records: len(records), Skipped: skipped, Corridors: len(rows)}, nil
}

// liquidity keeps depth already stored for the hour and samples only new
// corridors, so recomputing an hour reproduces the same rows.
func (e *Engine) liquidity(ctx context.Context, hour time.Time, observations []Observation) (map[string]decimal.Decimal, error) {
	existing, err := e.store.ListCorridorMetricsHour(ctx, hour)
	if err != nil {
		return nil, fmt.Errorf("load existing rows: %w", err)
	}
	depth := make(map[string]decimal.Decimal, len(existing))
	for _, row := range existing {
		depth[row.CorridorKey] = row.LiquidityDepthUSD
	}
	if !e.cfg.SampleLiquidity || e.sampler == nil {
		return depth, nil
	}

	pairs := make(map[string]corridor.AssetPair)
	for _, obs := range observations {
		key := obs.Pair.CorridorKey()
		if _, ok := depth[key]; ok || obs.Pair.SameAsset() {
			continue
		}
		pairs[key] = obs.Pair
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.DepthConcurrency)
	for key, pair := range pairs {
		g.Go(func() error {
			amount, err := e.sampler.BidDepth(gctx, pair, e.cfg.DepthLevels)
			if err != nil {
				// Depth is advisory; a failed sample leaves it at zero.
				e.logger.Warn().Err(err).Str("corridor", key).Msg("liquidity sample failed")
				return nil
			}
			usd, _ := e.cfg.Prices.USDValue(pair.Destination, amount)
			mu.Lock()
			depth[key] = usd
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return depth, nil
}

// Backfill recomputes every hour in [from, to) without touching the checkpoint.
func (e *Engine) Backfill(ctx context.Context, from, to time.Time) ([]HourResult, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	from = from.UTC().Truncate(time.Hour)
	to = to.UTC()
	results := make([]HourResult, 0)
	for hour := from; hour.Before(to); hour = hour.Add(time.Hour) {
		res, err := e.ProcessHour(ctx, hour)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// RecomputeHour reruns a single hour under the run lock.
func (e *Engine) RecomputeHour(ctx context.Context, hour time.Time) (HourResult, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return HourResult{}, err
	}
	defer release()
	return e.ProcessHour(ctx, hour)
}
