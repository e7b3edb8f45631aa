package storage

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
)

const (
	snapshotColumns = `id::text, epoch, canonical_json, hash, snapshot_ts, created_at`

	insertSnapshotSQL = `INSERT INTO snapshots (id, epoch, canonical_json, hash, snapshot_ts)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (epoch) DO NOTHING;`

	getSnapshotByEpochSQL = `SELECT ` + snapshotColumns + `
    FROM snapshots
    WHERE epoch = $1;`

	latestSnapshotSQL = `SELECT ` + snapshotColumns + `
    FROM snapshots
    ORDER BY epoch DESC
    LIMIT 1;`

	insertSubmissionSQL = `INSERT INTO snapshot_submissions (
        snapshot_id,
        epoch,
        status,
        tx_hash,
        ledger,
        attempts,
        error,
        verified,
        onchain_hash
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	listSubmissionsSQL = `SELECT
        id,
        snapshot_id::text,
        epoch,
        status,
        tx_hash,
        ledger,
        attempts,
        error,
        verified,
        onchain_hash,
        created_at
    FROM snapshot_submissions
    WHERE epoch = $1
    ORDER BY id;`
)

// InsertSnapshot appends a snapshot. A second snapshot for the same epoch
// yields ErrSnapshotExists and leaves the stored one untouched.
func (s *Store) InsertSnapshot(ctx context.Context, rec SnapshotRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	epoch, err := epochParam(rec.Epoch)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, insertSnapshotSQL,
		rec.ID,
		epoch,
		rec.CanonicalJSON,
		rec.Hash[:],
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot epoch %d: %w", rec.Epoch, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("epoch %d: %w", rec.Epoch, ErrSnapshotExists)
	}
	return nil
}

// GetSnapshotByEpoch loads the snapshot stored for epoch.
func (s *Store) GetSnapshotByEpoch(ctx context.Context, epoch uint64) (SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return SnapshotRecord{}, err
	}
	param, err := epochParam(epoch)
	if err != nil {
		return SnapshotRecord{}, err
	}
	rec, err := scanSnapshot(pool.QueryRow(ctx, getSnapshotByEpochSQL, param))
	if errors.Is(err, pgx.ErrNoRows) {
		return SnapshotRecord{}, fmt.Errorf("snapshot epoch %d: %w", epoch, ErrNotFound)
	}
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("get snapshot epoch %d: %w", epoch, err)
	}
	return rec, nil
}

// LatestSnapshot returns the snapshot with the highest epoch.
func (s *Store) LatestSnapshot(ctx context.Context) (SnapshotRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return SnapshotRecord{}, false, err
	}
	rec, err := scanSnapshot(pool.QueryRow(ctx, latestSnapshotSQL))
	if errors.Is(err, pgx.ErrNoRows) {
		return SnapshotRecord{}, false, nil
	}
	if err != nil {
		return SnapshotRecord{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	return rec, true, nil
}

// InsertSubmission appends a submission attempt to the audit trail.
func (s *Store) InsertSubmission(ctx context.Context, rec SubmissionRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	epoch, err := epochParam(rec.Epoch)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertSubmissionSQL,
		rec.SnapshotID,
		epoch,
		string(rec.Status),
		rec.TransactionHash,
		rec.Ledger,
		rec.Attempts,
		rec.Error,
		rec.Verified,
		rec.OnChainHash,
	); err != nil {
		return fmt.Errorf("insert submission epoch %d: %w", rec.Epoch, err)
	}
	return nil
}

// ListSubmissions lists the submission trail of an epoch, oldest first.
func (s *Store) ListSubmissions(ctx context.Context, epoch uint64) ([]SubmissionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	param, err := epochParam(epoch)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSubmissionsSQL, param)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	out := make([]SubmissionRecord, 0)
	for rows.Next() {
		var (
			rec    SubmissionRecord
			epoch  int64
			status string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SnapshotID,
			&epoch,
			&status,
			&rec.TransactionHash,
			&rec.Ledger,
			&rec.Attempts,
			&rec.Error,
			&rec.Verified,
			&rec.OnChainHash,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("list submissions: %w", err)
		}
		rec.Epoch = uint64(epoch)
		rec.Status = SubmissionStatus(status)
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanSnapshot(row pgx.Row) (SnapshotRecord, error) {
	var (
		rec   SnapshotRecord
		epoch int64
		hash  []byte
	)
	if err := row.Scan(&rec.ID, &epoch, &rec.CanonicalJSON, &hash, &rec.Timestamp, &rec.CreatedAt); err != nil {
		return SnapshotRecord{}, err
	}
	if len(hash) != len(rec.Hash) {
		return SnapshotRecord{}, fmt.Errorf("snapshot epoch %d: stored hash has %d bytes", epoch, len(hash))
	}
	copy(rec.Hash[:], hash)
	rec.Epoch = uint64(epoch)
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

func epochParam(epoch uint64) (int64, error) {
	if epoch > math.MaxInt64 {
		return 0, fmt.Errorf("epoch %d exceeds storage range", epoch)
	}
	return int64(epoch), nil
}
