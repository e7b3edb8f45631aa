package horizon

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/stellar/go/toid"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/corridor"
)

// Asset is the Horizon wire form of an asset.
type Asset struct {
	Type   string `json:"asset_type"`
	Code   string `json:"asset_code,omitempty"`
	Issuer string `json:"asset_issuer,omitempty"`
}

// PaymentRecord is one record of the /payments stream. Non-payment
// operation types share the stream and leave most fields empty.
type PaymentRecord struct {
	ID                    string `json:"id"`
	PagingToken           string `json:"paging_token"`
	TransactionSuccessful bool   `json:"transaction_successful"`
	SourceAccount         string `json:"source_account"`
	Type                  string `json:"type"`
	TypeI                 int32  `json:"type_i"`
	CreatedAt             string `json:"created_at"`
	TransactionHash       string `json:"transaction_hash"`

	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`

	SourceAssetType   string  `json:"source_asset_type"`
	SourceAssetCode   string  `json:"source_asset_code"`
	SourceAssetIssuer string  `json:"source_asset_issuer"`
	SourceAmount      string  `json:"source_amount"`
	SourceMax         string  `json:"source_max"`
	DestinationMin    string  `json:"destination_min"`
	Path              []Asset `json:"path"`
}

// LedgerSequence decodes the ledger from the operation id.
func (r PaymentRecord) LedgerSequence() (uint32, error) {
	id, err := strconv.ParseInt(r.PagingToken, 10, 64)
	if err != nil {
		id, err = strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("operation %q: invalid id: %w", r.ID, err)
		}
	}
	seq := toid.Parse(id).LedgerSequence
	if seq <= 0 {
		return 0, fmt.Errorf("operation %q: no ledger in id", r.ID)
	}
	return uint32(seq), nil
}

// Raw converts the wire record into the extractor's input. Unparseable
// timestamps are left zero so the extractor rejects the record.
func (r PaymentRecord) Raw() corridor.RawPaymentRecord {
	raw := corridor.RawPaymentRecord{
		ID:             r.ID,
		OperationType:  r.Type,
		Successful:     r.TransactionSuccessful,
		From:           r.From,
		To:             r.To,
		Asset:          corridor.AssetFields{Type: r.AssetType, Code: r.AssetCode, Issuer: r.AssetIssuer},
		SourceAsset:    corridor.AssetFields{Type: r.SourceAssetType, Code: r.SourceAssetCode, Issuer: r.SourceAssetIssuer},
		Amount:         r.Amount,
		SourceAmount:   r.SourceAmount,
		SourceMax:      r.SourceMax,
		DestinationMin: r.DestinationMin,
	}
	if seq, err := r.LedgerSequence(); err == nil {
		raw.LedgerSequence = seq
	}
	if ts, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
		raw.LedgerCloseTime = ts.UTC()
	}
	return raw
}

// IsPaymentKind reports whether the operation moves value between accounts
// in a way the corridor model covers.
func (r PaymentRecord) IsPaymentKind() bool {
	switch r.Type {
	case corridor.OpPayment, corridor.OpPathPayment, corridor.OpPathPaymentStrictReceive, corridor.OpPathPaymentStrictSend:
		return true
	}
	return false
}

// Payments returns one ascending page of the payments stream after cursor,
// failed transactions included.
func (c *Client) Payments(ctx context.Context, cursor string, limit int) ([]PaymentRecord, error) {
	if limit <= 0 || limit > c.opts.PageLimit {
		limit = c.opts.PageLimit
	}
	q := url.Values{}
	q.Set("order", "asc")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("include_failed", "true")
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var page struct {
		Embedded struct {
			Records []PaymentRecord `json:"records"`
		} `json:"_embedded"`
	}
	if err := c.getJSON(ctx, "/payments", q, &page); err != nil {
		return nil, fmt.Errorf("payments after %q: %w", cursor, err)
	}
	return page.Embedded.Records, nil
}

// LedgerCursor is the paging token positioned just before ledger seq.
func LedgerCursor(seq uint32) string {
	return strconv.FormatInt(toid.New(int32(seq), 0, 0).ToInt64(), 10)
}
