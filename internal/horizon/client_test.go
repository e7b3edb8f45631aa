package horizon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/toid"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/corridor"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/ratelimit"
)

var genesis = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

const (
	elderLedger  = 1000
	latestLedger = 3000
)

func closeTime(seq uint32) time.Time {
	return genesis.Add(time.Duration(seq-elderLedger) * 5 * time.Second)
}

func opID(seq uint32, tx, op int32) string {
	return strconv.FormatInt(toid.New(int32(seq), tx, op).ToInt64(), 10)
}

type fakeHorizon struct {
	t          *testing.T
	payments   map[string][]PaymentRecord
	ledgerGets int
}

func (f *fakeHorizon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/hal+json")
	switch {
	case r.URL.Path == "/":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"history_latest_ledger":           latestLedger,
			"history_latest_ledger_closed_at": closeTime(latestLedger).Format(time.RFC3339),
			"history_elder_ledger":            elderLedger,
		})
	case strings.HasPrefix(r.URL.Path, "/ledgers/"):
		f.ledgerGets++
		seq, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, "/ledgers/"), 10, 32)
		if err != nil || seq < elderLedger || seq > latestLedger {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"type":"not_found","title":"Resource Missing","status":404}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sequence":  seq,
			"closed_at": closeTime(uint32(seq)).Format(time.RFC3339),
		})
	case r.URL.Path == "/payments":
		if r.URL.Query().Get("include_failed") != "true" {
			f.t.Errorf("payments requested without include_failed")
		}
		records := f.payments[r.URL.Query().Get("cursor")]
		_ = json.NewEncoder(w).Encode(map[string]any{"_embedded": map[string]any{"records": records}})
	case r.URL.Path == "/order_book":
		_, _ = w.Write([]byte(`{"bids":[{"price":"0.9","amount":"100.5"},{"price":"0.8","amount":"50"}],"asks":[]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: 60000, Burst: 1000, QueueSize: 100})
	return NewClient(Options{BaseURL: srv.URL, Timeout: 5 * time.Second}, limiter, zerolog.Nop())
}

func TestLedgerAtOrAfter(t *testing.T) {
	client := newTestClient(t, &fakeHorizon{t: t})
	ctx := context.Background()

	target := closeTime(1720).Add(-2 * time.Second)
	seq, err := client.LedgerAtOrAfter(ctx, target)
	if err != nil {
		t.Fatalf("LedgerAtOrAfter: %v", err)
	}
	if seq != 1720 {
		t.Fatalf("expected ledger 1720, got %d", seq)
	}

	seq, err = client.LedgerAtOrAfter(ctx, closeTime(1720))
	if err != nil || seq != 1720 {
		t.Fatalf("exact close time: got %d err %v", seq, err)
	}

	seq, err = client.LedgerAtOrAfter(ctx, closeTime(latestLedger).Add(time.Hour))
	if err != nil || seq != latestLedger+1 {
		t.Fatalf("future time: got %d err %v", seq, err)
	}
}

func TestSourceRecordsWindow(t *testing.T) {
	issuer := keypair.MustRandom().Address()
	from := closeTime(1720)
	to := from.Add(time.Minute)

	payment := func(seq uint32, op int32, kind string, ok bool) PaymentRecord {
		id := opID(seq, 1, op)
		return PaymentRecord{
			ID: id, PagingToken: id, Type: kind, TransactionSuccessful: ok,
			CreatedAt: closeTime(seq).Format(time.RFC3339),
			AssetType: "credit_alphanum4", AssetCode: "USDC", AssetIssuer: issuer, Amount: "10.0000000",
		}
	}
	first := []PaymentRecord{
		payment(1720, 1, "payment", true),
		payment(1720, 2, "create_account", true),
		payment(1721, 1, "payment", false),
	}
	second := []PaymentRecord{
		payment(1723, 1, "payment", true),
		payment(1740, 1, "payment", true),
	}

	fake := &fakeHorizon{t: t, payments: map[string][]PaymentRecord{
		LedgerCursor(1720):   first,
		first[2].PagingToken: second,
	}}
	source := NewSource(newTestClient(t, fake))

	records, err := source.Records(context.Background(), from, to)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 payment records inside window, got %d", len(records))
	}
	if records[1].Successful {
		t.Fatalf("failed payment should be reported as unsuccessful")
	}
	if got := records[1].LedgerCloseTime.Sub(records[1].PrevLedgerCloseTime); got != 5*time.Second {
		t.Fatalf("latency for consecutive ledger = %s", got)
	}
	if records[0].PrevLedgerCloseTime.IsZero() || records[2].PrevLedgerCloseTime.IsZero() {
		t.Fatalf("previous close times should be fetched for gaps")
	}
	for _, rec := range records {
		if _, ok := corridor.Extract(rec); !ok {
			t.Fatalf("record %s should extract: %v", rec.ID, corridor.Validate(rec))
		}
	}
}

func TestBidDepth(t *testing.T) {
	client := newTestClient(t, &fakeHorizon{t: t})
	pair := corridor.AssetPair{
		Source:      corridor.NativeAsset(),
		Destination: corridor.Asset{Code: "USDC", Issuer: keypair.MustRandom().Address()},
	}

	depth, err := client.BidDepth(context.Background(), pair, 20)
	if err != nil {
		t.Fatalf("BidDepth: %v", err)
	}
	if depth.String() != "150.5" {
		t.Fatalf("unexpected depth %s", depth)
	}

	same, err := client.BidDepth(context.Background(), corridor.AssetPair{Source: pair.Destination, Destination: pair.Destination}, 20)
	if err != nil || !same.IsZero() {
		t.Fatalf("same-asset depth should be zero, got %s %v", same, err)
	}
}

func TestStatusErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"type":"stale_history","title":"Historical DB Is Too Stale","status":503}`)
	}))

	_, err := client.Ledger(context.Background(), 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Fatalf("503 should be retryable: %v", err)
	}
	if !strings.Contains(err.Error(), "Historical DB Is Too Stale") {
		t.Fatalf("problem title missing from %q", err)
	}
	if IsRetryable(&StatusError{StatusCode: http.StatusBadRequest}) {
		t.Fatal("400 should not be retryable")
	}
}
