package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/alerting"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/snapshot"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/storage"
)

// Snapshot generates, persists and optionally attests one epoch.
func (a *App) Snapshot(ctx context.Context, opts SnapshotOptions) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := a.snapshot(ctx, rt, opts)
	if err != nil {
		return err
	}

	a.printf("epoch:      %d\n", res.Epoch)
	a.printf("snapshot:   %s (reused=%t)\n", res.SnapshotID, res.Reused)
	a.printf("hash:       %s\n", res.Hash.Hex())
	a.printf("submission: %s\n", res.SubmissionStatus)
	if res.Submission != nil {
		a.printf("tx:         %s (ledger %d, attempts %d)\n", res.Submission.TransactionHash, res.Submission.Ledger, res.Submission.Attempts)
	}
	if res.SubmissionError != nil {
		a.printf("error:      %v\n", res.SubmissionError)
	}
	a.printf("verified:   %t\n", res.Verified)
	return nil
}

func (a *App) snapshot(ctx context.Context, rt *runtime, opts SnapshotOptions) (snapshot.Result, error) {
	epoch := opts.Epoch
	if epoch == 0 {
		next, err := rt.snapshots.NextEpoch(ctx)
		if err != nil {
			return snapshot.Result{}, err
		}
		epoch = next
	}

	res, err := rt.snapshots.GenerateAndSubmit(ctx, epoch, opts.Submit)
	if err != nil {
		return res, err
	}

	switch {
	case res.SubmissionStatus == storage.SubmissionFailed:
		detail := res.SubmissionError.Error()
		if res.Verified {
			detail += "; the chain already holds this hash"
		}
		a.notify(ctx, rt, alerting.Notification{
			Kind:   alerting.KindSubmissionFailed,
			Epoch:  res.Epoch,
			Hash:   res.Hash.Hex(),
			Detail: detail,
		})
	case res.SubmissionStatus == storage.SubmissionSubmitted && !res.Verified:
		a.notify(ctx, rt, alerting.Notification{
			Kind:   alerting.KindVerificationMismatch,
			Epoch:  res.Epoch,
			Hash:   res.Hash.Hex(),
			Detail: mismatchDetail(res.OnChainHash),
		})
	}
	return res, nil
}

// Verify compares the stored snapshot of epoch with the chain.
func (a *App) Verify(ctx context.Context, epoch uint64) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	v, err := rt.snapshots.Verify(ctx, epoch)
	if err != nil && !errors.Is(err, snapshot.ErrNoAttestor) {
		return err
	}

	a.printf("epoch:     %d\n", v.Epoch)
	a.printf("local:     %s\n", v.LocalHash.Hex())
	if errors.Is(err, snapshot.ErrNoAttestor) {
		a.printf("on-chain:  (no contract configured)\n")
		return nil
	}
	if v.OnChainHash == nil {
		a.printf("on-chain:  (not found)\n")
	} else {
		a.printf("on-chain:  %s\n", v.OnChainHash.Hex())
	}
	a.printf("match:     %t\n", v.Match)

	if !v.Match {
		a.notify(ctx, rt, alerting.Notification{
			Kind:   alerting.KindVerificationMismatch,
			Epoch:  v.Epoch,
			Hash:   v.LocalHash.Hex(),
			Detail: mismatchDetail(v.OnChainHash),
		})
	}
	return nil
}

func mismatchDetail(onChain *snapshot.Digest) string {
	if onChain == nil {
		return "no hash stored on chain for this epoch"
	}
	return fmt.Sprintf("on-chain hash %s", onChain.Hex())
}
