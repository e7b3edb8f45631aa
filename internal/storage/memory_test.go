package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func row(key string, hour time.Time, success, fail int64) CorridorMetricsHourly {
	total := success + fail
	rate := decimal.Zero
	if total > 0 {
		rate = decimal.NewFromInt(success).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(total))
	}
	return CorridorMetricsHourly{
		CorridorKey: key,
		HourBucket:  hour,
		TotalTx:     total,
		SuccessTx:   success,
		FailTx:      fail,
		SuccessRate: rate,
	}
}

func TestMemoryStoreReplaceCorridorHour(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	hour := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := store.ReplaceCorridorHour(ctx, hour, []CorridorMetricsHourly{
		row("A->B", hour, 9, 1),
		row("B->A", hour, 5, 5),
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := store.ReplaceCorridorHour(ctx, hour, []CorridorMetricsHourly{row("A->B", hour, 950, 50)}); err != nil {
		t.Fatalf("replace again: %v", err)
	}

	rows, err := store.ListCorridorMetricsHour(ctx, hour)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after recompute, got %d", len(rows))
	}
	if rows[0].TotalTx != 1000 || !rows[0].SuccessRate.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("unexpected row: %+v", rows[0])
	}

	latest, ok, err := store.LatestHourBucket(ctx)
	if err != nil || !ok || !latest.Equal(hour) {
		t.Fatalf("latest hour = %v %v %v", latest, ok, err)
	}
}

func TestMemoryStoreRejectsInvalidRows(t *testing.T) {
	store := NewMemoryStore()
	hour := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	bad := row("A->B", hour, 1, 1)
	bad.TotalTx = 3

	if err := store.ReplaceCorridorHour(context.Background(), hour, []CorridorMetricsHourly{bad}); !errors.Is(err, ErrInvalidRow) {
		t.Fatalf("expected ErrInvalidRow for inconsistent counts, got %v", err)
	}
	unaligned := row("A->B", hour.Add(time.Minute), 1, 0)
	if err := store.ReplaceCorridorHour(context.Background(), hour.Add(time.Minute), []CorridorMetricsHourly{unaligned}); !errors.Is(err, ErrInvalidRow) {
		t.Fatalf("expected ErrInvalidRow for unaligned hour, got %v", err)
	}
}

func TestMemoryStoreSnapshotsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := SnapshotRecord{ID: "a", Epoch: 7, CanonicalJSON: []byte(`{"epoch":7}`)}

	if err := store.InsertSnapshot(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rec.ID = "b"
	if err := store.InsertSnapshot(ctx, rec); !errors.Is(err, ErrSnapshotExists) {
		t.Fatalf("expected ErrSnapshotExists, got %v", err)
	}

	got, err := store.GetSnapshotByEpoch(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "a" {
		t.Fatalf("stored snapshot was overwritten: %s", got.ID)
	}
	if _, err := store.GetSnapshotByEpoch(ctx, 8); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreAdvisoryLock(t *testing.T) {
	store := NewMemoryStore()
	unlock, ok, err := store.TryAdvisoryLock(context.Background(), 42)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := store.TryAdvisoryLock(context.Background(), 42); ok {
		t.Fatal("second lock should not be acquired")
	}
	unlock()
	unlock()
	if _, ok, _ := store.TryAdvisoryLock(context.Background(), 42); !ok {
		t.Fatal("lock should be free after unlock")
	}
}

func TestMemoryStoreCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job, _ := store.CreateJob(ctx, "hourly")

	if _, ok, _ := store.LatestCheckpoint(ctx, "hourly"); ok {
		t.Fatal("no checkpoint expected yet")
	}
	hour := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	job.Status = JobCompleted
	job.LastProcessedHour = &hour
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok, err := store.LatestCheckpoint(ctx, "hourly")
	if err != nil || !ok || !got.Equal(hour) {
		t.Fatalf("checkpoint = %v %v %v", got, ok, err)
	}
}
