package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/cache"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/contract"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/logging"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/scoring"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/storage"
)

var (
	// ErrEpochConflict means the epoch already holds a snapshot with a different hash.
	ErrEpochConflict = errors.New("snapshot epoch already holds a different hash")
	// ErrEpochLocked means another process is generating the same epoch.
	ErrEpochLocked = errors.New("snapshot epoch is being generated elsewhere")
	// ErrNoAttestor is returned by Verify when no contract is configured.
	ErrNoAttestor = errors.New("no attestation contract configured")
	// ErrIntegrity means stored canonical bytes no longer hash to the stored hash.
	ErrIntegrity = errors.New("stored snapshot does not match its hash")
)

// Store is the persistence the service needs.
type Store interface {
	LatestHourBucket(ctx context.Context) (time.Time, bool, error)
	ListCorridorMetricsHour(ctx context.Context, hour time.Time) ([]storage.CorridorMetricsHourly, error)
	InsertSnapshot(ctx context.Context, rec storage.SnapshotRecord) error
	GetSnapshotByEpoch(ctx context.Context, epoch uint64) (storage.SnapshotRecord, error)
	LatestSnapshot(ctx context.Context) (storage.SnapshotRecord, bool, error)
	InsertSubmission(ctx context.Context, rec storage.SubmissionRecord) error
}

// Attestor writes and reads epoch hashes on chain.
type Attestor interface {
	SubmitSnapshot(ctx context.Context, epoch uint64, hash [32]byte) (contract.SubmissionResult, error)
	GetSnapshot(ctx context.Context, epoch uint64) ([32]byte, bool, error)
}

// Options tune snapshot generation.
type Options struct {
	Window        time.Duration
	SchemaVersion int
	LockKey       int64
	CacheTTL      time.Duration
	// OnResult is called after every generation that persisted a snapshot.
	OnResult func(Result)
}

// Result is the outcome of GenerateAndSubmit.
type Result struct {
	SnapshotID    string
	Epoch         uint64
	Timestamp     time.Time
	Hash          Digest
	CanonicalJSON []byte
	// Reused is set when the epoch was already stored with the same hash.
	Reused bool
	// Submission is nil when nothing was submitted or submission failed.
	Submission       *contract.SubmissionResult
	SubmissionStatus storage.SubmissionStatus
	SubmissionError  error
	Verified         bool
	OnChainHash      *Digest
}

// Verification compares a stored snapshot with the chain.
type Verification struct {
	Epoch       uint64
	LocalHash   Digest
	OnChainHash *Digest
	Match       bool
}

// Service generates, persists, attests and verifies snapshots.
type Service struct {
	store    Store
	locker   storage.AdvisoryLocker
	cache    cache.Cache
	scorer   *scoring.Scorer
	attestor Attestor
	opts     Options
	logger   zerolog.Logger
}

// NewService wires a service. locker, c and attestor may be nil; without
// an attestor snapshots are persisted but not submitted.
func NewService(opts Options, store Store, locker storage.AdvisoryLocker, c cache.Cache, scorer *scoring.Scorer, attestor Attestor, logger zerolog.Logger) *Service {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	opts.Window = opts.Window.Truncate(time.Hour)
	if opts.Window < time.Hour {
		opts.Window = time.Hour
	}
	if opts.SchemaVersion <= 0 {
		opts.SchemaVersion = SchemaVersion
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Service{
		store:    store,
		locker:   locker,
		cache:    c,
		scorer:   scorer,
		attestor: attestor,
		opts:     opts,
		logger:   logging.Component(logger, "snapshot"),
	}
}

// HasAttestor reports whether a contract is configured.
func (s *Service) HasAttestor() bool {
	return s.attestor != nil
}

// NextEpoch is one past the newest stored epoch, starting at 1.
func (s *Service) NextEpoch(ctx context.Context) (uint64, error) {
	latest, ok, err := s.store.LatestSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest snapshot: %w", err)
	}
	if !ok {
		return 1, nil
	}
	return latest.Epoch + 1, nil
}

// GenerateAndSubmit builds the snapshot for epoch, persists it, and when
// submit is set and a contract is configured attests and verifies it.
// Submission failures and verification mismatches are reported in the
// result; only failures before persistence are returned as errors.
func (s *Service) GenerateAndSubmit(ctx context.Context, epoch uint64, submit bool) (Result, error) {
	logger := s.logger.With().Uint64("epoch", epoch).Logger()

	if s.locker != nil {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey+int64(epoch))
		if err != nil {
			return Result{}, fmt.Errorf("lock epoch %d: %w", epoch, err)
		}
		if !acquired {
			return Result{}, fmt.Errorf("epoch %d: %w", epoch, ErrEpochLocked)
		}
		defer unlock()
	}

	snap, err := s.Build(ctx, epoch)
	if err != nil {
		return Result{}, fmt.Errorf("build snapshot %d: %w", epoch, err)
	}
	canonical, err := Serialize(snap)
	if err != nil {
		return Result{}, fmt.Errorf("serialize snapshot %d: %w", epoch, err)
	}
	digest := Hash(canonical)

	res := Result{
		SnapshotID:       uuid.NewString(),
		Epoch:            epoch,
		Timestamp:        snap.Timestamp,
		Hash:             digest,
		CanonicalJSON:    canonical,
		SubmissionStatus: storage.SubmissionSkipped,
	}
	if err := s.persist(ctx, &res); err != nil {
		return Result{}, err
	}
	logger.Info().
		Str("snapshot_id", res.SnapshotID).
		Str("hash", digest.Hex()).
		Bool("reused", res.Reused).
		Int("corridors", len(snap.CorridorMetrics)).
		Int("anchors", len(snap.AnchorMetrics)).
		Msg("snapshot persisted")

	if submit && s.attestor != nil {
		s.submitAndVerify(ctx, &res, logger)
	}

	s.recordSubmission(ctx, res, logger)
	if s.opts.OnResult != nil {
		s.opts.OnResult(res)
	}
	return res, nil
}

func (s *Service) persist(ctx context.Context, res *Result) error {
	err := s.store.InsertSnapshot(ctx, storage.SnapshotRecord{
		ID:            res.SnapshotID,
		Epoch:         res.Epoch,
		CanonicalJSON: res.CanonicalJSON,
		Hash:          [32]byte(res.Hash),
		Timestamp:     res.Timestamp,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrSnapshotExists) {
		return fmt.Errorf("persist snapshot %d: %w", res.Epoch, err)
	}

	existing, getErr := s.store.GetSnapshotByEpoch(ctx, res.Epoch)
	if getErr != nil {
		return fmt.Errorf("load existing snapshot %d: %w", res.Epoch, getErr)
	}
	if Digest(existing.Hash) != res.Hash {
		return fmt.Errorf("epoch %d stored %s, computed %s: %w", res.Epoch, Digest(existing.Hash).Hex(), res.Hash.Hex(), ErrEpochConflict)
	}
	res.SnapshotID = existing.ID
	res.Reused = true
	return nil
}

// submitAndVerify hands the hash to the contract and then reads the epoch
// back from the chain. The read happens even when submission reported a
// failure, since a timed-out transaction may still have landed.
func (s *Service) submitAndVerify(ctx context.Context, res *Result, logger zerolog.Logger) {
	sub, err := s.attestor.SubmitSnapshot(ctx, res.Epoch, res.Hash)
	if err != nil {
		res.SubmissionStatus = storage.SubmissionFailed
		res.SubmissionError = err
		logger.Error().Err(err).Int("attempts", sub.Attempts).Msg("snapshot submission failed; snapshot kept for follow-up")
	} else {
		res.SubmissionStatus = storage.SubmissionSubmitted
		res.Submission = &sub
	}

	onChain, found, err := s.attestor.GetSnapshot(ctx, res.Epoch)
	if err != nil {
		logger.Warn().Err(err).Msg("snapshot verification query failed")
		return
	}
	if found {
		d := Digest(onChain)
		res.OnChainHash = &d
	}
	res.Verified = found && bytes.Equal(onChain[:], res.Hash[:])
	switch {
	case res.Verified && res.SubmissionError != nil:
		logger.Warn().Msg("submission reported failure but the chain holds the snapshot hash")
	case res.Verified:
		logger.Info().Str("tx_hash", sub.TransactionHash).Uint32("ledger", sub.Ledger).Msg("snapshot attested and verified")
	default:
		logger.Warn().Str("local_hash", res.Hash.Hex()).Bool("found", found).Msg("on-chain hash does not match snapshot")
	}
}

func (s *Service) recordSubmission(ctx context.Context, res Result, logger zerolog.Logger) {
	rec := storage.SubmissionRecord{
		SnapshotID: res.SnapshotID,
		Epoch:      res.Epoch,
		Status:     res.SubmissionStatus,
		Verified:   res.Verified,
	}
	if res.Submission != nil {
		txHash := res.Submission.TransactionHash
		ledger := int64(res.Submission.Ledger)
		rec.TransactionHash = &txHash
		rec.Ledger = &ledger
		rec.Attempts = res.Submission.Attempts
	}
	if res.SubmissionError != nil {
		msg := res.SubmissionError.Error()
		rec.Error = &msg
	}
	if res.OnChainHash != nil {
		h := res.OnChainHash.Hex()
		rec.OnChainHash = &h
	}
	if err := s.store.InsertSubmission(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("record submission trail")
	}
}

// Verify re-reads the stored snapshot for epoch, checks its bytes still
// hash to the stored hash, and compares that hash with the chain.
func (s *Service) Verify(ctx context.Context, epoch uint64) (Verification, error) {
	rec, err := s.store.GetSnapshotByEpoch(ctx, epoch)
	if err != nil {
		return Verification{}, fmt.Errorf("load snapshot %d: %w", epoch, err)
	}
	canonical, err := Canonicalize(rec.CanonicalJSON)
	if err != nil {
		return Verification{}, fmt.Errorf("snapshot %d: %w", epoch, err)
	}
	local := Hash(canonical)
	if local != Digest(rec.Hash) || !bytes.Equal(canonical, rec.CanonicalJSON) {
		return Verification{}, fmt.Errorf("snapshot %d: %w", epoch, ErrIntegrity)
	}

	v := Verification{Epoch: epoch, LocalHash: local}
	if s.attestor == nil {
		return v, ErrNoAttestor
	}
	onChain, found, err := s.attestor.GetSnapshot(ctx, epoch)
	if err != nil {
		return v, fmt.Errorf("query chain for epoch %d: %w", epoch, err)
	}
	if found {
		d := Digest(onChain)
		v.OnChainHash = &d
		v.Match = d == local
	}
	s.logger.Info().Uint64("epoch", epoch).Bool("match", v.Match).Bool("found", found).Msg("snapshot verified against chain")
	return v, nil
}
