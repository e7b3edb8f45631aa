package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrSnapshotExists is returned when a snapshot for the epoch is already stored.
	ErrSnapshotExists = errors.New("storage: snapshot already exists for epoch")
	// ErrInvalidRow marks a corridor metrics row that breaks its invariants.
	ErrInvalidRow = errors.New("storage: invalid corridor metrics row")
)

// CorridorMetricsStore persists hourly corridor aggregates.
type CorridorMetricsStore interface {
	// ReplaceCorridorHour atomically makes rows the complete set for hour.
	ReplaceCorridorHour(ctx context.Context, hour time.Time, rows []CorridorMetricsHourly) error
	ListCorridorMetricsHour(ctx context.Context, hour time.Time) ([]CorridorMetricsHourly, error)
	ListCorridorMetricsBetween(ctx context.Context, from, to time.Time) ([]CorridorMetricsHourly, error)
	ListRecentCorridorMetrics(ctx context.Context, limit int) ([]CorridorMetricsHourly, error)
	LatestHourBucket(ctx context.Context) (time.Time, bool, error)
}

// JobStore persists aggregation job state.
type JobStore interface {
	CreateJob(ctx context.Context, jobType string) (AggregationJob, error)
	UpdateJob(ctx context.Context, job AggregationJob) error
	FindRunningJob(ctx context.Context, jobType string) (AggregationJob, bool, error)
	LatestCheckpoint(ctx context.Context, jobType string) (time.Time, bool, error)
	ListRecentJobs(ctx context.Context, limit int) ([]AggregationJob, error)
}

// SnapshotStore persists snapshots and their submission trail. Snapshots
// are append-only.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, rec SnapshotRecord) error
	GetSnapshotByEpoch(ctx context.Context, epoch uint64) (SnapshotRecord, error)
	LatestSnapshot(ctx context.Context) (SnapshotRecord, bool, error)
	InsertSubmission(ctx context.Context, rec SubmissionRecord) error
	ListSubmissions(ctx context.Context, epoch uint64) ([]SubmissionRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is everything the pipeline needs from persistence.
type Repository interface {
	CorridorMetricsStore
	JobStore
	SnapshotStore
	AdvisoryLocker
	Close()
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*MemoryStore)(nil)
)
