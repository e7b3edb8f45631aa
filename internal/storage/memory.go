package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Repository used when no database is
// configured and in tests. Locks are only exclusive within the process.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	metrics     map[time.Time]map[string]CorridorMetricsHourly
	jobs        []AggregationJob
	snapshots   map[uint64]SnapshotRecord
	submissions []SubmissionRecord
	locks       map[int64]bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       func() time.Time { return time.Now().UTC() },
		metrics:   make(map[time.Time]map[string]CorridorMetricsHourly),
		snapshots: make(map[uint64]SnapshotRecord),
		locks:     make(map[int64]bool),
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() {}

// TryAdvisoryLock emulates pg_try_advisory_lock within the process.
func (m *MemoryStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.locks, key)
			m.mu.Unlock()
		})
	}, true, nil
}

// ReplaceCorridorHour swaps the full set of rows for hour.
func (m *MemoryStore) ReplaceCorridorHour(_ context.Context, hour time.Time, rows []CorridorMetricsHourly) error {
	hour = hour.UTC()
	set := make(map[string]CorridorMetricsHourly, len(rows))
	now := m.now()
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			return err
		}
		if !row.HourBucket.Equal(hour) {
			return fmt.Errorf("%w: %s: hour %s does not match %s", ErrInvalidRow, row.CorridorKey, row.HourBucket, hour)
		}
		row.HourBucket = hour
		row.UpdatedAt = now
		set[row.CorridorKey] = row
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(set) == 0 {
		delete(m.metrics, hour)
		return nil
	}
	m.metrics[hour] = set
	return nil
}

// ListCorridorMetricsHour lists the rows of one hour ordered by corridor key.
func (m *MemoryStore) ListCorridorMetricsHour(_ context.Context, hour time.Time) ([]CorridorMetricsHourly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedRows(m.metrics[hour.UTC()]), nil
}

// ListCorridorMetricsBetween lists rows with from <= hour < to.
func (m *MemoryStore) ListCorridorMetricsBetween(_ context.Context, from, to time.Time) ([]CorridorMetricsHourly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CorridorMetricsHourly, 0)
	for _, hour := range m.hoursLocked() {
		if hour.Before(from) || !hour.Before(to) {
			continue
		}
		out = append(out, sortedRows(m.metrics[hour])...)
	}
	return out, nil
}

// ListRecentCorridorMetrics lists rows newest hour first.
func (m *MemoryStore) ListRecentCorridorMetrics(_ context.Context, limit int) ([]CorridorMetricsHourly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hours := m.hoursLocked()
	out := make([]CorridorMetricsHourly, 0, limit)
	for i := len(hours) - 1; i >= 0 && len(out) < limit; i-- {
		for _, row := range sortedRows(m.metrics[hours[i]]) {
			if len(out) == limit {
				break
			}
			out = append(out, row)
		}
	}
	return out, nil
}

// LatestHourBucket returns the newest hour with rows.
func (m *MemoryStore) LatestHourBucket(_ context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hours := m.hoursLocked()
	if len(hours) == 0 {
		return time.Time{}, false, nil
	}
	return hours[len(hours)-1], true, nil
}

func (m *MemoryStore) hoursLocked() []time.Time {
	hours := make([]time.Time, 0, len(m.metrics))
	for hour := range m.metrics {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })
	return hours
}

func sortedRows(set map[string]CorridorMetricsHourly) []CorridorMetricsHourly {
	out := make([]CorridorMetricsHourly, 0, len(set))
	for _, row := range set {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CorridorKey < out[j].CorridorKey })
	return out
}

// CreateJob appends a pending job.
func (m *MemoryStore) CreateJob(_ context.Context, jobType string) (AggregationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	job := AggregationJob{
		ID:        int64(len(m.jobs) + 1),
		JobType:   jobType,
		Status:    JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs = append(m.jobs, job)
	return job, nil
}

// UpdateJob overwrites the mutable fields of a job.
func (m *MemoryStore) UpdateJob(_ context.Context, job AggregationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID <= 0 || int(job.ID) > len(m.jobs) {
		return fmt.Errorf("update job %d: %w", job.ID, ErrNotFound)
	}
	stored := &m.jobs[job.ID-1]
	stored.Status = job.Status
	stored.LastProcessedHour = copyTime(job.LastProcessedHour)
	stored.RetryCount = job.RetryCount
	stored.ErrorMessage = job.ErrorMessage
	stored.UpdatedAt = m.now()
	return nil
}

// FindRunningJob returns the newest running job of jobType.
func (m *MemoryStore) FindRunningJob(_ context.Context, jobType string) (AggregationJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.jobs) - 1; i >= 0; i-- {
		if m.jobs[i].JobType == jobType && m.jobs[i].Status == JobRunning {
			return m.jobs[i], true, nil
		}
	}
	return AggregationJob{}, false, nil
}

// LatestCheckpoint returns the furthest processed hour of jobType.
func (m *MemoryStore) LatestCheckpoint(_ context.Context, jobType string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		latest time.Time
		found  bool
	)
	for _, job := range m.jobs {
		if job.JobType != jobType || job.LastProcessedHour == nil {
			continue
		}
		if !found || job.LastProcessedHour.After(latest) {
			latest = *job.LastProcessedHour
			found = true
		}
	}
	return latest, found, nil
}

// ListRecentJobs lists jobs newest first.
func (m *MemoryStore) ListRecentJobs(_ context.Context, limit int) ([]AggregationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AggregationJob, 0, limit)
	for i := len(m.jobs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.jobs[i])
	}
	return out, nil
}

// Jobs returns a copy of every job, oldest first.
func (m *MemoryStore) Jobs() []AggregationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AggregationJob(nil), m.jobs...)
}

// InsertSnapshot appends a snapshot; existing epochs are never overwritten.
func (m *MemoryStore) InsertSnapshot(_ context.Context, rec SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[rec.Epoch]; ok {
		return fmt.Errorf("epoch %d: %w", rec.Epoch, ErrSnapshotExists)
	}
	rec.CanonicalJSON = append([]byte(nil), rec.CanonicalJSON...)
	rec.CreatedAt = m.now()
	m.snapshots[rec.Epoch] = rec
	return nil
}

// GetSnapshotByEpoch loads the snapshot for epoch.
func (m *MemoryStore) GetSnapshotByEpoch(_ context.Context, epoch uint64) (SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.snapshots[epoch]
	if !ok {
		return SnapshotRecord{}, fmt.Errorf("snapshot epoch %d: %w", epoch, ErrNotFound)
	}
	rec.CanonicalJSON = append([]byte(nil), rec.CanonicalJSON...)
	return rec, nil
}

// LatestSnapshot returns the snapshot with the highest epoch.
func (m *MemoryStore) LatestSnapshot(ctx context.Context) (SnapshotRecord, bool, error) {
	m.mu.Lock()
	var (
		latest uint64
		found  bool
	)
	for epoch := range m.snapshots {
		if !found || epoch > latest {
			latest, found = epoch, true
		}
	}
	m.mu.Unlock()
	if !found {
		return SnapshotRecord{}, false, nil
	}
	rec, err := m.GetSnapshotByEpoch(ctx, latest)
	return rec, err == nil, err
}

// InsertSubmission appends to the submission trail.
func (m *MemoryStore) InsertSubmission(_ context.Context, rec SubmissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.submissions) + 1)
	rec.CreatedAt = m.now()
	m.submissions = append(m.submissions, rec)
	return nil
}

// ListSubmissions lists the trail for epoch, oldest first.
func (m *MemoryStore) ListSubmissions(_ context.Context, epoch uint64) ([]SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SubmissionRecord, 0)
	for _, rec := range m.submissions {
		if rec.Epoch == epoch {
			out = append(out, rec)
		}
	}
	return out, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
