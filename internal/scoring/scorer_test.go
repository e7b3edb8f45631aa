package scoring

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())

	bad := []Weights{
		{SuccessRate: 0.5, Volume: 0.5, Speed: 0.5},
		{SuccessRate: 1.2, Volume: -0.2},
		{},
	}
	for _, w := range bad {
		err := w.Validate()
		assert.True(t, errors.Is(err, ErrInvalidWeights), "%+v", w)
	}

	_, err := New(Weights{SuccessRate: 1, Volume: 1}, Params{})
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestScoreBounds(t *testing.T) {
	s, err := New(DefaultWeights(), DefaultParams())
	require.NoError(t, err)

	zero := s.Score(Inputs{})
	assert.True(t, zero.IsZero(), zero.String())

	perfect := s.Score(Inputs{
		SuccessRate:            decimal.NewFromInt(100),
		VolumeUSD:              decimal.NewFromInt(1_000_000_000),
		AvgSettlementLatencyMs: decimal.NewFromInt(1),
		Diversity:              1000,
	})
	assert.True(t, perfect.LessThanOrEqual(decimal.NewFromInt(100)))
	assert.True(t, perfect.GreaterThan(decimal.NewFromInt(99)), perfect.String())

	garbage := s.Score(Inputs{
		SuccessRate:            decimal.NewFromInt(500),
		VolumeUSD:              decimal.NewFromInt(-10),
		AvgSettlementLatencyMs: decimal.NewFromInt(-1),
		Diversity:              -3,
	})
	assert.True(t, garbage.Equal(decimal.NewFromInt(40)), garbage.String())
}

func TestScoreIsMonotoneInSuccessRate(t *testing.T) {
	s, err := New(DefaultWeights(), DefaultParams())
	require.NoError(t, err)

	base := Inputs{VolumeUSD: decimal.NewFromInt(5000), AvgSettlementLatencyMs: decimal.NewFromInt(5000), Diversity: 2}
	prev := decimal.NewFromInt(-1)
	for _, rate := range []int64{0, 25, 50, 95, 100} {
		in := base
		in.SuccessRate = decimal.NewFromInt(rate)
		score := s.Score(in)
		assert.True(t, score.GreaterThan(prev), "rate %d -> %s", rate, score)
		prev = score
	}
}

func TestComponents(t *testing.T) {
	s, err := New(DefaultWeights(), Params{VolumeReferenceUSD: 999, LatencyTargetMs: 10_000, DiversityReference: 4})
	require.NoError(t, err)

	c := s.Components(Inputs{
		SuccessRate:            decimal.NewFromInt(95),
		VolumeUSD:              decimal.NewFromInt(999),
		AvgSettlementLatencyMs: decimal.NewFromInt(5000),
		Diversity:              2,
	})
	assert.InDelta(t, 0.95, c.SuccessRate, 1e-9)
	assert.InDelta(t, 1.0, c.Volume, 1e-9)
	assert.InDelta(t, 0.5, c.Speed, 1e-9)
	assert.InDelta(t, 0.5, c.Diversity, 1e-9)

	score := s.Score(Inputs{
		SuccessRate:            decimal.NewFromInt(95),
		VolumeUSD:              decimal.NewFromInt(999),
		AvgSettlementLatencyMs: decimal.NewFromInt(5000),
		Diversity:              2,
	})
	// 0.4*0.95 + 0.3*1 + 0.2*0.5 + 0.1*0.5 = 0.83
	assert.True(t, score.Equal(decimal.NewFromInt(83)), score.String())
}

func TestScoreGolden(t *testing.T) {
	s, err := New(DefaultWeights(), Params{VolumeReferenceUSD: 1_000_000, LatencyTargetMs: 10_000, DiversityReference: 4})
	require.NoError(t, err)

	cases := []struct {
		in   Inputs
		want string
	}{
		{Inputs{SuccessRate: decimal.NewFromInt(50), AvgSettlementLatencyMs: decimal.NewFromInt(2500), Diversity: 1}, "37.5"},
		{Inputs{SuccessRate: decimal.RequireFromString("95.0000"), AvgSettlementLatencyMs: decimal.NewFromInt(5000), Diversity: 2}, "53"},
		{Inputs{SuccessRate: decimal.NewFromInt(100), Diversity: 4}, "50"},
	}
	for _, tc := range cases {
		got := s.Score(tc.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "%+v -> %s", tc.in, got)
	}
}
