package snapshot

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Summary is a light view of stored canonical JSON, read without decoding
// the whole document.
type Summary struct {
	Epoch         uint64
	SchemaVersion int
	Timestamp     time.Time
	Corridors     int
	Anchors       int
	TopCorridor   string
	TopVolumeUSD  string
}

// Summarize extracts a Summary from canonical snapshot bytes.
func Summarize(raw []byte) (Summary, error) {
	if !gjson.ValidBytes(raw) {
		return Summary{}, fmt.Errorf("summarize snapshot: invalid json")
	}
	fields := gjson.GetManyBytes(raw, "epoch", "schema_version", "timestamp", "corridor_metrics.#", "anchor_metrics.#")
	ts, err := time.Parse(TimestampLayout, fields[2].String())
	if err != nil {
		return Summary{}, fmt.Errorf("summarize snapshot: timestamp: %w", err)
	}

	sum := Summary{
		Epoch:         fields[0].Uint(),
		SchemaVersion: int(fields[1].Int()),
		Timestamp:     ts,
		Corridors:     int(fields[3].Int()),
		Anchors:       int(fields[4].Int()),
	}
	var best float64
	gjson.GetBytes(raw, "corridor_metrics").ForEach(func(_, c gjson.Result) bool {
		volume := c.Get("volume_usd")
		if sum.TopCorridor == "" || volume.Float() > best {
			best = volume.Float()
			sum.TopCorridor = c.Get("corridor_key").String()
			sum.TopVolumeUSD = volume.Raw
		}
		return true
	})
	return sum, nil
}
