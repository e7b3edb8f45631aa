package horizon

import (
	"context"
	"fmt"
	"time"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/corridor"
)

// maxPagesPerWindow guards against a cursor that never advances.
const maxPagesPerWindow = 10_000

// Source reads payment records for closed time windows straight from Horizon.
type Source struct {
	client *Client
}

// NewSource wraps a client.
func NewSource(client *Client) *Source {
	return &Source{client: client}
}

// LatestClosedAt returns the close time of the newest ingested ledger.
func (s *Source) LatestClosedAt(ctx context.Context) (time.Time, error) {
	root, err := s.client.Root(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return root.HistoryLatestClosedAt.UTC(), nil
}

// Records returns every payment-kind operation whose ledger closed in
// [from, to), in ledger order, with the preceding ledger's close time set.
func (s *Source) Records(ctx context.Context, from, to time.Time) ([]corridor.RawPaymentRecord, error) {
	start, err := s.client.LedgerAtOrAfter(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("locate ledger for %s: %w", from.Format(time.RFC3339), err)
	}

	closes := make(map[uint32]time.Time)
	out := make([]corridor.RawPaymentRecord, 0)
	cursor := LedgerCursor(start)
	skipped := 0

	for page := 0; ; page++ {
		if page >= maxPagesPerWindow {
			return nil, fmt.Errorf("payments window %s: exceeded %d pages", from.Format(time.RFC3339), maxPagesPerWindow)
		}
		records, err := s.client.Payments(ctx, cursor, 0)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}

		done := false
		for _, rec := range records {
			raw := rec.Raw()
			if !raw.LedgerCloseTime.IsZero() && !raw.LedgerCloseTime.Before(to) {
				done = true
				break
			}
			if !rec.IsPaymentKind() {
				skipped++
				continue
			}
			if raw.LedgerSequence != 0 && !raw.LedgerCloseTime.IsZero() {
				closes[raw.LedgerSequence] = raw.LedgerCloseTime
			}
			out = append(out, raw)
		}
		if done {
			break
		}
		cursor = records[len(records)-1].PagingToken
	}

	if err := s.attachPreviousClose(ctx, out, closes); err != nil {
		return nil, err
	}

	s.client.logger.Debug().
		Time("from", from).
		Time("to", to).
		Int("records", len(out)).
		Int("skipped_non_payment", skipped).
		Msg("payments window loaded")
	return out, nil
}

func (s *Source) attachPreviousClose(ctx context.Context, records []corridor.RawPaymentRecord, closes map[uint32]time.Time) error {
	for i := range records {
		seq := records[i].LedgerSequence
		if seq <= 1 {
			continue
		}
		prev, ok := closes[seq-1]
		if !ok {
			ledger, err := s.client.Ledger(ctx, seq-1)
			if err != nil {
				if IsNotFound(err) {
					continue
				}
				return err
			}
			prev = ledger.ClosedAt.UTC()
			closes[seq-1] = prev
		}
		records[i].PrevLedgerCloseTime = prev
	}
	return nil
}
