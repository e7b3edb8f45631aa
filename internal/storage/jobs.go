package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	jobColumns = `id, job_type, status, last_processed_hour, retry_count, error_message, created_at, updated_at`

	insertJobSQL = `INSERT INTO aggregation_jobs (job_type, status)
    VALUES ($1, 'pending')
    RETURNING ` + jobColumns + `;`

	updateJobSQL = `UPDATE aggregation_jobs
    SET status              = $2,
        last_processed_hour = $3,
        retry_count         = $4,
        error_message       = $5,
        updated_at          = now()
    WHERE id = $1;`

	findRunningJobSQL = `SELECT ` + jobColumns + `
    FROM aggregation_jobs
    WHERE job_type = $1
      AND status = 'running'
    ORDER BY id DESC
    LIMIT 1;`

	latestCheckpointSQL = `SELECT MAX(last_processed_hour)
    FROM aggregation_jobs
    WHERE job_type = $1;`

	listRecentJobsSQL = `SELECT ` + jobColumns + `
    FROM aggregation_jobs
    ORDER BY id DESC
    LIMIT $1;`
)

// CreateJob inserts a pending job.
func (s *Store) CreateJob(ctx context.Context, jobType string) (AggregationJob, error) {
	pool, err := s.getPool()
	if err != nil {
		return AggregationJob{}, err
	}
	job, err := scanJob(pool.QueryRow(ctx, insertJobSQL, jobType))
	if err != nil {
		return AggregationJob{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// UpdateJob persists status, checkpoint, retry count and error of a job.
func (s *Store) UpdateJob(ctx context.Context, job AggregationJob) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, updateJobSQL,
		job.ID,
		string(job.Status),
		job.LastProcessedHour,
		job.RetryCount,
		job.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %d: %w", job.ID, ErrNotFound)
	}
	return nil
}

// FindRunningJob returns the newest job of jobType in the running state.
func (s *Store) FindRunningJob(ctx context.Context, jobType string) (AggregationJob, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return AggregationJob{}, false, err
	}
	job, err := scanJob(pool.QueryRow(ctx, findRunningJobSQL, jobType))
	if errors.Is(err, pgx.ErrNoRows) {
		return AggregationJob{}, false, nil
	}
	if err != nil {
		return AggregationJob{}, false, fmt.Errorf("find running job: %w", err)
	}
	return job, true, nil
}

// LatestCheckpoint returns the furthest hour any job of jobType has processed.
func (s *Store) LatestCheckpoint(ctx context.Context, jobType string) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}
	var hour *time.Time
	if err := pool.QueryRow(ctx, latestCheckpointSQL, jobType).Scan(&hour); err != nil {
		return time.Time{}, false, fmt.Errorf("latest checkpoint: %w", err)
	}
	if hour == nil {
		return time.Time{}, false, nil
	}
	return hour.UTC(), true, nil
}

// ListRecentJobs lists jobs newest first.
func (s *Store) ListRecentJobs(ctx context.Context, limit int) ([]AggregationJob, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentJobsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]AggregationJob, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list recent jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (AggregationJob, error) {
	var (
		job    AggregationJob
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.JobType,
		&status,
		&job.LastProcessedHour,
		&job.RetryCount,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return AggregationJob{}, err
	}
	job.Status = JobStatus(status)
	if job.LastProcessedHour != nil {
		hour := job.LastProcessedHour.UTC()
		job.LastProcessedHour = &hour
	}
	return job, nil
}
