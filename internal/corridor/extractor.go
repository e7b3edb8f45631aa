package corridor

import (
	"errors"
	"fmt"
	"time"

	"github.com/stellar/go/amount"
)

// ErrMalformedRecord marks a payment record that cannot be mapped to a corridor.
var ErrMalformedRecord = errors.New("malformed payment record")

// Operation types understood by the extractor.
const (
	OpPayment                  = "payment"
	OpPathPayment              = "path_payment"
	OpPathPaymentStrictReceive = "path_payment_strict_receive"
	OpPathPaymentStrictSend    = "path_payment_strict_send"
)

// AssetFields are the loosely typed asset attributes of an upstream record.
type AssetFields struct {
	Type   string
	Code   string
	Issuer string
}

// RawPaymentRecord is one payment-like operation as reported upstream.
// It is consumed by the extractor and never persisted.
type RawPaymentRecord struct {
	ID            string
	OperationType string
	Successful    bool
	From          string
	To            string

	// Asset is the destination leg; SourceAsset is only set on path payments.
	Asset          AssetFields
	SourceAsset    AssetFields
	Amount         string
	SourceAmount   string
	SourceMax      string
	DestinationMin string

	LedgerSequence      uint32
	LedgerCloseTime     time.Time
	PrevLedgerCloseTime time.Time
}

// IsPathPayment reports whether the operation may cross assets.
func (r RawPaymentRecord) IsPathPayment() bool {
	switch r.OperationType {
	case OpPathPayment, OpPathPaymentStrictReceive, OpPathPaymentStrictSend:
		return true
	}
	return false
}

// Extract maps a record to its directional asset pair. It is total: any
// record it cannot interpret yields ok=false.
func Extract(rec RawPaymentRecord) (AssetPair, bool) {
	pair, err := extract(rec)
	return pair, err == nil
}

// Validate explains why Extract would reject rec. It returns nil for
// records Extract accepts.
func Validate(rec RawPaymentRecord) error {
	_, err := extract(rec)
	return err
}

func extract(rec RawPaymentRecord) (AssetPair, error) {
	if rec.LedgerCloseTime.IsZero() {
		return AssetPair{}, malformed(rec, "missing ledger timestamp")
	}
	if rec.Amount == "" {
		return AssetPair{}, malformed(rec, "missing amount")
	}
	if _, err := amount.ParseInt64(rec.Amount); err != nil {
		return AssetPair{}, malformed(rec, fmt.Sprintf("amount %q: %v", rec.Amount, err))
	}

	destination, err := assetFrom(rec.Asset)
	if err != nil {
		return AssetPair{}, malformed(rec, "destination asset: "+err.Error())
	}

	switch {
	case rec.OperationType == OpPayment:
		return AssetPair{Source: destination, Destination: destination}, nil
	case rec.IsPathPayment():
		source, err := assetFrom(rec.SourceAsset)
		if err != nil {
			return AssetPair{}, malformed(rec, "source asset: "+err.Error())
		}
		return AssetPair{Source: source, Destination: destination}, nil
	default:
		return AssetPair{}, malformed(rec, fmt.Sprintf("unsupported operation type %q", rec.OperationType))
	}
}

func assetFrom(f AssetFields) (Asset, error) {
	switch f.Type {
	case "native":
		return NativeAsset(), nil
	case "credit_alphanum4", "credit_alphanum12":
		a := Asset{Code: f.Code, Issuer: f.Issuer}
		if err := validateCredit(a); err != nil {
			return Asset{}, err
		}
		if f.Type == "credit_alphanum4" && len(f.Code) > 4 {
			return Asset{}, fmt.Errorf("asset code %q too long for credit_alphanum4", f.Code)
		}
		return a, nil
	case "":
		return Asset{}, errors.New("missing asset type")
	default:
		return Asset{}, fmt.Errorf("unsupported asset type %q", f.Type)
	}
}

func malformed(rec RawPaymentRecord, reason string) error {
	return fmt.Errorf("%w: operation %s: %s", ErrMalformedRecord, rec.ID, reason)
}
