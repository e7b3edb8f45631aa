package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/hash"
)

// ErrSerializationDefect means a snapshot could not be encoded
// canonically. It indicates a bug, not bad input.
var ErrSerializationDefect = errors.New("snapshot serialization defect")

// TimestampLayout is the only timestamp form allowed in canonical JSON.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Fixed decimal places per quantity.
const (
	rateScale    = 4
	usdScale     = 7
	bpsScale     = 4
	latencyScale = 4
	scoreScale   = 2
)

// Serialize produces the canonical JSON of s: object keys sorted, arrays
// sorted by their stable identifier, decimals at fixed precision, UTC
// second-precision timestamps and no insignificant whitespace.
func Serialize(s AnalyticsSnapshot) ([]byte, error) {
	corridors := append([]CorridorMetrics(nil), s.CorridorMetrics...)
	sort.Slice(corridors, func(i, j int) bool { return corridors[i].CorridorKey < corridors[j].CorridorKey })
	anchors := append([]AnchorMetrics(nil), s.AnchorMetrics...)
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].Anchor < anchors[j].Anchor })

	corridorDocs := make([]any, 0, len(corridors))
	for i, c := range corridors {
		if c.CorridorKey == "" {
			return nil, fmt.Errorf("%w: corridor %d has no key", ErrSerializationDefect, i)
		}
		if i > 0 && corridors[i-1].CorridorKey == c.CorridorKey {
			return nil, fmt.Errorf("%w: duplicate corridor %s", ErrSerializationDefect, c.CorridorKey)
		}
		corridorDocs = append(corridorDocs, map[string]any{
			"corridor_key":              c.CorridorKey,
			"source_asset":              c.SourceAsset,
			"destination_asset":         c.DestinationAsset,
			"total_tx":                  c.TotalTx,
			"success_tx":                c.SuccessTx,
			"fail_tx":                   c.FailTx,
			"success_rate":              fixed(c.SuccessRate, rateScale),
			"volume_usd":                fixed(c.VolumeUSD, usdScale),
			"avg_slippage_bps":          fixed(c.AvgSlippageBps, bpsScale),
			"avg_settlement_latency_ms": fixed(c.AvgSettlementLatencyMs, latencyScale),
			"liquidity_depth_usd":       fixed(c.LiquidityDepthUSD, usdScale),
			"health_score":              fixed(c.HealthScore, scoreScale),
		})
	}

	anchorDocs := make([]any, 0, len(anchors))
	for i, a := range anchors {
		if a.Anchor == "" {
			return nil, fmt.Errorf("%w: anchor %d has no id", ErrSerializationDefect, i)
		}
		if i > 0 && anchors[i-1].Anchor == a.Anchor {
			return nil, fmt.Errorf("%w: duplicate anchor %s", ErrSerializationDefect, a.Anchor)
		}
		anchorDocs = append(anchorDocs, map[string]any{
			"anchor":                    a.Anchor,
			"total_tx":                  a.TotalTx,
			"success_tx":                a.SuccessTx,
			"fail_tx":                   a.FailTx,
			"success_rate":              fixed(a.SuccessRate, rateScale),
			"volume_usd":                fixed(a.VolumeUSD, usdScale),
			"corridor_count":            a.CorridorCount,
			"avg_settlement_latency_ms": fixed(a.AvgSettlementLatencyMs, latencyScale),
			"reliability_score":         fixed(a.ReliabilityScore, scoreScale),
		})
	}

	doc := map[string]any{
		"epoch":            s.Epoch,
		"timestamp":        timestamp(s.Timestamp),
		"schema_version":   s.SchemaVersion,
		"window_start":     timestamp(s.WindowStart),
		"window_end":       timestamp(s.WindowEnd),
		"anchor_metrics":   anchorDocs,
		"corridor_metrics": corridorDocs,
	}
	return encode(doc)
}

// Canonicalize re-encodes canonical JSON read back from storage. For bytes
// produced by Serialize the output is identical to the input.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode canonical json: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode canonical json: trailing data")
	}
	return encode(doc)
}

// Hash is SHA-256 over canonical bytes.
func Hash(canonical []byte) Digest {
	return Digest(hash.Hash(canonical))
}

func encode(doc any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationDefect, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func fixed(d decimal.Decimal, places int32) json.Number {
	return json.Number(d.StringFixed(places))
}

func timestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}
