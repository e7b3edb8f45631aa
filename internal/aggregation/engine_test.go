package aggregation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/cache"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/corridor"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/horizon"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/storage"
)

type fakeSource struct {
	mu       sync.Mutex
	latest   time.Time
	records  map[time.Time][]corridor.RawPaymentRecord
	failures int
	failWith error
	calls    int
}

func (f *fakeSource) Records(_ context.Context, from, _ time.Time) ([]corridor.RawPaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		if f.failWith != nil {
			return nil, f.failWith
		}
		return nil, errors.New("horizon unavailable")
	}
	return f.records[from], nil
}

func (f *fakeSource) LatestClosedAt(context.Context) (time.Time, error) {
	return f.latest, nil
}

type fakeDepth struct {
	calls int
	depth decimal.Decimal
	mu    sync.Mutex
}

func (p *fakeDepth) BidDepth(context.Context, corridor.AssetPair, int) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.depth, nil
}

func hourRecords(hour time.Time, usd, eur corridor.Asset, success, fail int) []corridor.RawPaymentRecord {
	out := make([]corridor.RawPaymentRecord, 0, success+fail)
	for i := 0; i < success+fail; i++ {
		out = append(out, corridor.RawPaymentRecord{
			ID:              "op",
			OperationType:   corridor.OpPathPaymentStrictSend,
			Successful:      i < success,
			Asset:           corridor.AssetFields{Type: "credit_alphanum4", Code: eur.Code, Issuer: eur.Issuer},
			SourceAsset:     corridor.AssetFields{Type: "credit_alphanum4", Code: usd.Code, Issuer: usd.Issuer},
			Amount:          "10",
			SourceAmount:    "11",
			DestinationMin:  "10",
			LedgerCloseTime: hour.Add(time.Minute),
		})
	}
	return out
}

func newTestEngine(cfg Config, src Source, store *storage.MemoryStore, sampler DepthSampler, c cache.Cache) *Engine {
	return NewEngine(cfg, src, store, store, sampler, c, zerolog.Nop())
}

func TestEngineRunProcessesCompleteHours(t *testing.T) {
	ctx := context.Background()
	usd, eur := testAssets()
	start := testHour
	src := &fakeSource{
		latest: start.Add(3*time.Hour + 30*time.Minute),
		records: map[time.Time][]corridor.RawPaymentRecord{
			start:                hourRecords(start, usd, eur, 950, 50),
			start.Add(time.Hour): hourRecords(start.Add(time.Hour), usd, eur, 1, 1),
		},
	}
	store := storage.NewMemoryStore()
	engine := newTestEngine(Config{StartHour: start, MaxHoursPerRun: 24, LockKey: 1}, src, store, nil, nil)

	summary, err := engine.Run(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Hours, 3)
	assert.True(t, summary.CaughtUp)
	require.NotNil(t, summary.Checkpoint)
	assert.Equal(t, start.Add(2*time.Hour), *summary.Checkpoint)

	rows, err := store.ListCorridorMetricsHour(ctx, start)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].SuccessRate.Equal(decimal.NewFromInt(95)))

	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, storage.JobCompleted, jobs[0].Status)
	assert.Equal(t, 0, jobs[0].RetryCount)

	// A second run has nothing new to do and resumes after the checkpoint.
	summary, err = engine.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Hours)
}

func TestEngineRerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	usd, eur := testAssets()
	src := &fakeSource{
		latest:  testHour.Add(2 * time.Hour),
		records: map[time.Time][]corridor.RawPaymentRecord{testHour: hourRecords(testHour, usd, eur, 7, 3)},
	}
	store := storage.NewMemoryStore()
	sampler := &fakeDepth{depth: decimal.NewFromInt(500)}
	engine := newTestEngine(Config{
		SampleLiquidity: true,
		Prices:          PriceTable{eur.String(): decimal.NewFromInt(1)},
	}, src, store, sampler, nil)

	_, err := engine.RecomputeHour(ctx, testHour)
	require.NoError(t, err)
	first, err := store.ListCorridorMetricsHour(ctx, testHour)
	require.NoError(t, err)

	sampler.depth = decimal.NewFromInt(9999)
	_, err = engine.RecomputeHour(ctx, testHour)
	require.NoError(t, err)
	second, err := store.ListCorridorMetricsHour(ctx, testHour)
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, 1, sampler.calls, "existing depth must be reused on recompute")
	assert.True(t, first[0].LiquidityDepthUSD.Equal(decimal.NewFromInt(500)))
	first[0].UpdatedAt, second[0].UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, first, second)
}

func TestEngineRetriesThenCompletes(t *testing.T) {
	src := &fakeSource{latest: testHour.Add(90 * time.Minute), failures: 2}
	store := storage.NewMemoryStore()
	engine := newTestEngine(Config{
		StartHour:    testHour,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		MaxBackoff:   10 * time.Millisecond,
	}, src, store, nil, nil)

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.RetryCount)

	job := store.Jobs()[0]
	assert.Equal(t, storage.JobCompleted, job.Status)
	assert.Equal(t, 2, job.RetryCount)
}

func TestEngineFailsTerminallyAfterMaxRetries(t *testing.T) {
	src := &fakeSource{latest: testHour.Add(90 * time.Minute), failures: 100}
	store := storage.NewMemoryStore()
	engine := newTestEngine(Config{
		StartHour:    testHour,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
	}, src, store, nil, nil)

	_, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobTerminal)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)

	job := store.Jobs()[0]
	assert.Equal(t, storage.JobFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "horizon unavailable")
	assert.Equal(t, 3, src.calls)
}

func TestEngineFailsAtOnceOnHorizonClientError(t *testing.T) {
	src := &fakeSource{
		latest:   testHour.Add(90 * time.Minute),
		failures: 100,
		failWith: &horizon.StatusError{StatusCode: http.StatusBadRequest, Title: "Bad Request"},
	}
	store := storage.NewMemoryStore()
	engine := newTestEngine(Config{
		StartHour:    testHour,
		MaxRetries:   5,
		RetryBackoff: time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
	}, src, store, nil, nil)

	_, err := engine.Run(context.Background())
	require.ErrorIs(t, err, ErrJobTerminal)
	var se *horizon.StatusError
	require.ErrorAs(t, err, &se)

	job := store.Jobs()[0]
	assert.Equal(t, storage.JobFailed, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, 1, src.calls)
}

func TestEngineRetriesHorizonServerError(t *testing.T) {
	src := &fakeSource{
		latest:   testHour.Add(90 * time.Minute),
		failures: 1,
		failWith: &horizon.StatusError{StatusCode: http.StatusServiceUnavailable},
	}
	store := storage.NewMemoryStore()
	engine := newTestEngine(Config{
		StartHour:    testHour,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
	}, src, store, nil, nil)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, storage.JobCompleted, store.Jobs()[0].Status)
}

// flakyJobStore fails the first writes of a final job state.
type flakyJobStore struct {
	*storage.MemoryStore
	mu        sync.Mutex
	failFinal int
}

func (f *flakyJobStore) UpdateJob(ctx context.Context, job storage.AggregationJob) error {
	f.mu.Lock()
	if job.Status != storage.JobRunning && f.failFinal > 0 {
		f.failFinal--
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.MemoryStore.UpdateJob(ctx, job)
}

func TestEngineRetriesFinalStatusWrite(t *testing.T) {
	src := &fakeSource{latest: testHour.Add(90 * time.Minute), failures: 100, failWith: &horizon.StatusError{StatusCode: http.StatusNotFound}}
	store := &flakyJobStore{MemoryStore: storage.NewMemoryStore(), failFinal: 2}
	engine := NewEngine(Config{StartHour: testHour}, src, store, store, nil, nil, zerolog.Nop())

	_, err := engine.Run(context.Background())
	require.ErrorIs(t, err, ErrJobTerminal)
	assert.Equal(t, storage.JobFailed, store.Jobs()[0].Status)
}

func TestEngineReportsLostStatusWrite(t *testing.T) {
	src := &fakeSource{latest: testHour.Add(90 * time.Minute)}
	store := &flakyJobStore{MemoryStore: storage.NewMemoryStore(), failFinal: 100}
	engine := NewEngine(Config{StartHour: testHour}, src, store, store, nil, nil, zerolog.Nop())

	_, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record job completion")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestEngineRejectsConcurrentRun(t *testing.T) {
	store := storage.NewMemoryStore()
	engine := newTestEngine(Config{LockKey: 77}, &fakeSource{latest: testHour}, store, nil, nil)

	unlock, ok, err := store.TryAdvisoryLock(context.Background(), 77)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	_, err = engine.Run(context.Background())
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.Empty(t, store.Jobs())
}

func TestEngineRejectsRunningJobWithoutLocker(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	job, err := store.CreateJob(ctx, DefaultJobType)
	require.NoError(t, err)
	job.Status = storage.JobRunning
	require.NoError(t, store.UpdateJob(ctx, job))

	engine := NewEngine(Config{}, &fakeSource{latest: testHour}, store, nil, nil, nil, zerolog.Nop())
	_, err = engine.Run(ctx)
	assert.ErrorIs(t, err, ErrJobRunning)
}

func TestEngineReapsAbandonedJobWhenLocked(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	job, err := store.CreateJob(ctx, DefaultJobType)
	require.NoError(t, err)
	job.Status = storage.JobRunning
	require.NoError(t, store.UpdateJob(ctx, job))

	engine := newTestEngine(Config{}, &fakeSource{latest: testHour}, store, nil, nil)
	_, err = engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.JobFailed, store.Jobs()[0].Status)
}

func TestProcessHourSkipsMalformedAndInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	usd, eur := testAssets()
	records := hourRecords(testHour, usd, eur, 2, 0)
	records = append(records, corridor.RawPaymentRecord{ID: "bad", OperationType: corridor.OpPayment})

	c := cache.NewMemory()
	require.NoError(t, c.Set(ctx, cache.HourKey(testHour), []byte("stale"), time.Hour))

	src := &fakeSource{latest: testHour.Add(2 * time.Hour), records: map[time.Time][]corridor.RawPaymentRecord{testHour: records}}
	engine := newTestEngine(Config{}, src, storage.NewMemoryStore(), nil, c)

	res, err := engine.ProcessHour(ctx, testHour.Add(17*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, testHour, res.Hour)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Corridors)

	_, ok, _ := c.Get(ctx, cache.HourKey(testHour))
	assert.False(t, ok)
}

func TestBackfillLeavesCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	engine := newTestEngine(Config{}, &fakeSource{latest: testHour.Add(10 * time.Hour)}, store, nil, nil)

	results, err := engine.Backfill(ctx, testHour, testHour.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, results, 3)

	_, ok, err := store.LatestCheckpoint(ctx, DefaultJobType)
	require.NoError(t, err)
	assert.False(t, ok)
}
