package horizon

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Ledger is the subset of a Horizon ledger resource used by the pipeline.
type Ledger struct {
	ID                         string    `json:"id"`
	Sequence                   uint32    `json:"sequence"`
	Hash                       string    `json:"hash"`
	PrevHash                   string    `json:"prev_hash"`
	SuccessfulTransactionCount int32     `json:"successful_transaction_count"`
	FailedTransactionCount     *int32    `json:"failed_transaction_count"`
	OperationCount             int32     `json:"operation_count"`
	ClosedAt                   time.Time `json:"closed_at"`
	ProtocolVersion            int32     `json:"protocol_version"`
}

// Ledger fetches a single ledger by sequence.
func (c *Client) Ledger(ctx context.Context, seq uint32) (Ledger, error) {
	var ledger Ledger
	if err := c.getJSON(ctx, "/ledgers/"+strconv.FormatUint(uint64(seq), 10), nil, &ledger); err != nil {
		return Ledger{}, fmt.Errorf("ledger %d: %w", seq, err)
	}
	return ledger, nil
}

// LedgerAtOrAfter binary-searches Horizon history for the first ledger that
// closed at or after t. When t is beyond the latest ingested ledger it
// returns latest+1.
func (c *Client) LedgerAtOrAfter(ctx context.Context, t time.Time) (uint32, error) {
	root, err := c.Root(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger bounds: %w", err)
	}
	lo, hi := root.HistoryElderLedger, root.HistoryLatestLedger
	if lo == 0 {
		lo = 1
	}
	if hi < lo {
		return 0, fmt.Errorf("ledger bounds: empty history [%d, %d]", lo, hi)
	}
	if root.HistoryLatestClosedAt.Before(t) {
		return hi + 1, nil
	}

	// Invariant: ledger hi closed at or after t.
	for lo < hi {
		mid := lo + (hi-lo)/2
		ledger, err := c.Ledger(ctx, mid)
		if err != nil {
			return 0, err
		}
		if ledger.ClosedAt.Before(t) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return hi, nil
}
