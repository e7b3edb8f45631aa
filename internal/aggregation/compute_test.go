package aggregation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/corridor"
)

var testHour = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testAssets() (corridor.Asset, corridor.Asset) {
	return corridor.Asset{Code: "USDC", Issuer: keypair.MustRandom().Address()},
		corridor.Asset{Code: "EURC", Issuer: keypair.MustRandom().Address()}
}

func TestSuccessRate(t *testing.T) {
	assert.True(t, SuccessRate(950, 1000).Equal(decimal.NewFromInt(95)))
	assert.True(t, SuccessRate(0, 0).IsZero())
	assert.True(t, SuccessRate(1, 3).Equal(decimal.RequireFromString("33.3333")))
}

func TestComputeHourScenario(t *testing.T) {
	usd, eur := testAssets()
	pair := corridor.AssetPair{Source: usd, Destination: eur}

	observations := make([]Observation, 0, 1000)
	for i := 0; i < 1000; i++ {
		observations = append(observations, Observation{
			Pair:       pair,
			Successful: i < 950,
			VolumeUSD:  decimal.NewFromInt(2),
			Latency:    5 * time.Second,
			Timestamp:  testHour.Add(time.Duration(i) * time.Second),
		})
	}

	rows := ComputeHour(testHour, observations, nil)
	require.Len(t, rows, 1)
	row := rows[0]

	assert.Equal(t, pair.CorridorKey(), row.CorridorKey)
	assert.Equal(t, int64(1000), row.TotalTx)
	assert.Equal(t, int64(950), row.SuccessTx)
	assert.Equal(t, int64(50), row.FailTx)
	assert.True(t, row.SuccessRate.Equal(decimal.NewFromInt(95)), row.SuccessRate.String())
	assert.True(t, row.VolumeUSD.Equal(decimal.NewFromInt(1900)), row.VolumeUSD.String())
	assert.True(t, row.AvgSettlementLatencyMs.Equal(decimal.NewFromInt(5000)))
	require.NoError(t, row.Validate())
}

func TestComputeHourSeparatesDirections(t *testing.T) {
	usd, eur := testAssets()
	forward := corridor.AssetPair{Source: usd, Destination: eur}
	reverse := corridor.AssetPair{Source: eur, Destination: usd}

	rows := ComputeHour(testHour, []Observation{
		{Pair: forward, Successful: true},
		{Pair: reverse, Successful: false},
		{Pair: reverse, Successful: true},
	}, map[string]decimal.Decimal{forward.CorridorKey(): decimal.NewFromInt(10)})

	require.Len(t, rows, 2)
	for _, row := range rows {
		require.NoError(t, row.Validate())
		switch row.CorridorKey {
		case forward.CorridorKey():
			assert.Equal(t, int64(1), row.TotalTx)
			assert.True(t, row.LiquidityDepthUSD.Equal(decimal.NewFromInt(10)))
		case reverse.CorridorKey():
			assert.Equal(t, int64(2), row.TotalTx)
			assert.True(t, row.SuccessRate.Equal(decimal.NewFromInt(50)))
			assert.True(t, row.LiquidityDepthUSD.IsZero())
		default:
			t.Fatalf("unexpected corridor %s", row.CorridorKey)
		}
	}
}

func TestComputeHourIsDeterministic(t *testing.T) {
	usd, eur := testAssets()
	obs := []Observation{
		{Pair: corridor.AssetPair{Source: usd, Destination: eur}, Successful: true, VolumeUSD: decimal.RequireFromString("1.23456789")},
		{Pair: corridor.AssetPair{Source: eur, Destination: usd}, Successful: true, SlippageBps: decimal.NewFromInt(12)},
		{Pair: corridor.AssetPair{Source: usd, Destination: usd}, Successful: false},
	}
	first := ComputeHour(testHour, obs, nil)
	reversed := []Observation{obs[2], obs[1], obs[0]}
	second := ComputeHour(testHour, reversed, nil)
	assert.Equal(t, first, second)
}

func TestObserveSlippageAndVolume(t *testing.T) {
	usd, eur := testAssets()
	prices := PriceTable{eur.String(): decimal.RequireFromString("1.1")}
	closed := testHour.Add(10 * time.Minute)

	strictSend := corridor.RawPaymentRecord{
		ID: "1", OperationType: corridor.OpPathPaymentStrictSend, Successful: true,
		Amount: "102", DestinationMin: "100", SourceAmount: "110",
		LedgerCloseTime: closed, PrevLedgerCloseTime: closed.Add(-6 * time.Second),
	}
	obs, err := Observe(strictSend, corridor.AssetPair{Source: usd, Destination: eur}, prices)
	require.NoError(t, err)
	assert.True(t, obs.SlippageBps.Equal(decimal.NewFromInt(200)), obs.SlippageBps.String())
	assert.True(t, obs.VolumeUSD.Equal(decimal.RequireFromString("112.2")), obs.VolumeUSD.String())
	assert.Equal(t, 6*time.Second, obs.Latency)

	strictReceive := corridor.RawPaymentRecord{
		ID: "2", OperationType: corridor.OpPathPaymentStrictReceive, Successful: true,
		Amount: "50", SourceMax: "100", SourceAmount: "99",
		LedgerCloseTime: closed,
	}
	obs, err = Observe(strictReceive, corridor.AssetPair{Source: eur, Destination: usd}, prices)
	require.NoError(t, err)
	assert.True(t, obs.SlippageBps.Equal(decimal.NewFromInt(100)), obs.SlippageBps.String())
	assert.True(t, obs.VolumeUSD.Equal(decimal.RequireFromString("108.9")), "priced via source leg: %s", obs.VolumeUSD)
	assert.Zero(t, obs.Latency)

	failed := strictReceive
	failed.Successful = false
	obs, err = Observe(failed, corridor.AssetPair{Source: eur, Destination: usd}, prices)
	require.NoError(t, err)
	assert.True(t, obs.VolumeUSD.IsZero())
}

func TestParsePriceTable(t *testing.T) {
	usd, _ := testAssets()
	table, err := ParsePriceTable(map[string]string{
		"xlm:native":         "0.12",
		"usdc:" + usd.Issuer: "1",
	})
	require.NoError(t, err)

	v, ok := table.USDValue(corridor.NativeAsset(), decimal.NewFromInt(100))
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(12)))

	_, ok = table.USDValue(usd, decimal.NewFromInt(1))
	assert.True(t, ok)

	_, err = ParsePriceTable(map[string]string{"bogus": "1"})
	assert.Error(t, err)
}
