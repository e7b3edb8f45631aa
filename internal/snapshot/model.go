package snapshot

import (
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is the layout version written into every snapshot.
const SchemaVersion = 1

// AnalyticsSnapshot is built fresh for each epoch and never persisted
// partially; only its canonical encoding is stored.
type AnalyticsSnapshot struct {
	Epoch           uint64
	Timestamp       time.Time
	SchemaVersion   int
	WindowStart     time.Time
	WindowEnd       time.Time
	AnchorMetrics   []AnchorMetrics
	CorridorMetrics []CorridorMetrics
}

// CorridorMetrics summarises one directional corridor over the window.
type CorridorMetrics struct {
	CorridorKey            string
	SourceAsset            string
	DestinationAsset       string
	TotalTx                int64
	SuccessTx              int64
	FailTx                 int64
	SuccessRate            decimal.Decimal
	VolumeUSD              decimal.Decimal
	AvgSlippageBps         decimal.Decimal
	AvgSettlementLatencyMs decimal.Decimal
	LiquidityDepthUSD      decimal.Decimal
	HealthScore            decimal.Decimal
}

// AnchorMetrics summarises every corridor touching one issuer.
type AnchorMetrics struct {
	Anchor                 string
	TotalTx                int64
	SuccessTx              int64
	FailTx                 int64
	SuccessRate            decimal.Decimal
	VolumeUSD              decimal.Decimal
	CorridorCount          int
	AvgSettlementLatencyMs decimal.Decimal
	ReliabilityScore       decimal.Decimal
}

// Digest is a SHA-256 over canonical snapshot bytes.
type Digest [32]byte

// Hex is the lowercase hex form of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}
