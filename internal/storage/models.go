package storage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CorridorMetricsHourly is the aggregate of one corridor over one UTC hour.
// (CorridorKey, HourBucket) is unique.
type CorridorMetricsHourly struct {
	CorridorKey            string
	HourBucket             time.Time
	TotalTx                int64
	SuccessTx              int64
	FailTx                 int64
	SuccessRate            decimal.Decimal
	VolumeUSD              decimal.Decimal
	AvgSlippageBps         decimal.Decimal
	AvgSettlementLatencyMs decimal.Decimal
	LiquidityDepthUSD      decimal.Decimal
	UpdatedAt              time.Time
}

// Validate checks the row invariants before it is written. Failures wrap
// ErrInvalidRow.
func (m CorridorMetricsHourly) Validate() error {
	if m.CorridorKey == "" {
		return fmt.Errorf("%w: empty corridor key", ErrInvalidRow)
	}
	if !m.HourBucket.Equal(m.HourBucket.Truncate(time.Hour)) {
		return fmt.Errorf("%w: %s: hour bucket %s is not hour aligned", ErrInvalidRow, m.CorridorKey, m.HourBucket)
	}
	if m.TotalTx != m.SuccessTx+m.FailTx {
		return fmt.Errorf("%w: %s: total %d != success %d + fail %d", ErrInvalidRow, m.CorridorKey, m.TotalTx, m.SuccessTx, m.FailTx)
	}
	if m.SuccessRate.IsNegative() || m.SuccessRate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: %s: success rate %s out of range", ErrInvalidRow, m.CorridorKey, m.SuccessRate)
	}
	return nil
}

// JobStatus is the lifecycle state of an aggregation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// AggregationJob tracks one aggregation run and its checkpoint.
type AggregationJob struct {
	ID                int64
	JobType           string
	Status            JobStatus
	LastProcessedHour *time.Time
	RetryCount        int
	ErrorMessage      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SnapshotRecord is the immutable, persisted form of a snapshot.
type SnapshotRecord struct {
	ID            string
	Epoch         uint64
	CanonicalJSON []byte
	Hash          [32]byte
	Timestamp     time.Time
	CreatedAt     time.Time
}

// SubmissionStatus records how an on-chain submission attempt ended.
type SubmissionStatus string

const (
	SubmissionSkipped   SubmissionStatus = "skipped"
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionFailed    SubmissionStatus = "failed"
)

// SubmissionRecord is the audit trail of one submission and its verification.
type SubmissionRecord struct {
	ID              int64
	SnapshotID      string
	Epoch           uint64
	Status          SubmissionStatus
	TransactionHash *string
	Ledger          *int64
	Attempts        int
	Error           *string
	Verified        bool
	OnChainHash     *string
	CreatedAt       time.Time
}
