package aggregation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/corridor"
)

var bpsFactor = decimal.NewFromInt(10_000)

// Observation is a validated payment mapped onto its corridor.
type Observation struct {
	Pair       corridor.AssetPair
	Successful bool
	// Amount is denominated in the destination asset.
	Amount      decimal.Decimal
	VolumeUSD   decimal.Decimal
	SlippageBps decimal.Decimal
	// Latency is zero when the previous ledger close time is unknown.
	Latency   time.Duration
	Timestamp time.Time
}

// Observe derives an observation from a record the extractor accepted.
func Observe(rec corridor.RawPaymentRecord, pair corridor.AssetPair, prices PriceTable) (Observation, error) {
	amount, err := decimal.NewFromString(rec.Amount)
	if err != nil {
		return Observation{}, fmt.Errorf("operation %s: amount: %w", rec.ID, err)
	}

	obs := Observation{
		Pair:       pair,
		Successful: rec.Successful,
		Amount:     amount,
		Timestamp:  rec.LedgerCloseTime,
	}
	if !rec.PrevLedgerCloseTime.IsZero() && rec.LedgerCloseTime.After(rec.PrevLedgerCloseTime) {
		obs.Latency = rec.LedgerCloseTime.Sub(rec.PrevLedgerCloseTime)
	}
	if !rec.Successful {
		return obs, nil
	}

	if usd, ok := prices.USDValue(pair.Destination, amount); ok {
		obs.VolumeUSD = usd
	} else if src, err := decimal.NewFromString(rec.SourceAmount); err == nil {
		if usd, ok := prices.USDValue(pair.Source, src); ok {
			obs.VolumeUSD = usd
		}
	}

	obs.SlippageBps = slippageBps(rec, amount)
	return obs, nil
}

// slippageBps measures how much of the payer's tolerance a path payment used.
// Plain payments have none.
func slippageBps(rec corridor.RawPaymentRecord, destAmount decimal.Decimal) decimal.Decimal {
	switch rec.OperationType {
	case corridor.OpPathPaymentStrictReceive, corridor.OpPathPayment:
		sourceMax, err1 := decimal.NewFromString(rec.SourceMax)
		sourceAmount, err2 := decimal.NewFromString(rec.SourceAmount)
		if err1 != nil || err2 != nil || !sourceMax.IsPositive() {
			return decimal.Zero
		}
		return sourceMax.Sub(sourceAmount).Div(sourceMax).Mul(bpsFactor)
	case corridor.OpPathPaymentStrictSend:
		destMin, err := decimal.NewFromString(rec.DestinationMin)
		if err != nil || !destMin.IsPositive() {
			return decimal.Zero
		}
		return destAmount.Sub(destMin).Div(destMin).Mul(bpsFactor)
	default:
		return decimal.Zero
	}
}
