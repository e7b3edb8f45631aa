package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const weightTolerance = 1e-6

// ErrInvalidWeights is returned when weights are negative or do not sum to 1.
var ErrInvalidWeights = errors.New("scoring weights must be non-negative and sum to 1")

// Weights of the four score components.
type Weights struct {
	SuccessRate float64
	Volume      float64
	Speed       float64
	Diversity   float64
}

// DefaultWeights returns 0.4 / 0.3 / 0.2 / 0.1.
func DefaultWeights() Weights {
	return Weights{SuccessRate: 0.4, Volume: 0.3, Speed: 0.2, Diversity: 0.1}
}

// Validate checks the weights.
func (w Weights) Validate() error {
	for _, v := range []float64{w.SuccessRate, w.Volume, w.Speed, w.Diversity} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: got %+v", ErrInvalidWeights, w)
		}
	}
	sum := w.SuccessRate + w.Volume + w.Speed + w.Diversity
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: sum is %g", ErrInvalidWeights, sum)
	}
	return nil
}

// Params set the reference points used to normalise each component to [0,1].
type Params struct {
	// VolumeReferenceUSD scores 1 on the log-scaled volume component.
	VolumeReferenceUSD float64
	// LatencyTargetMs scores 0 on speed; zero latency scores 1.
	LatencyTargetMs float64
	// DiversityReference is the corridor count that scores 1 on diversity.
	DiversityReference int
}

// DefaultParams returns the reference points used when none are configured.
func DefaultParams() Params {
	return Params{VolumeReferenceUSD: 1_000_000, LatencyTargetMs: 30_000, DiversityReference: 10}
}

// Inputs are the metrics a score is computed from.
type Inputs struct {
	SuccessRate decimal.Decimal
	VolumeUSD   decimal.Decimal
	// AvgSettlementLatencyMs of zero means no latency was observed.
	AvgSettlementLatencyMs decimal.Decimal
	Diversity              int
}

// Components is the normalised breakdown of a score.
type Components struct {
	SuccessRate float64
	Volume      float64
	Speed       float64
	Diversity   float64
}

// Scorer is a pure function of its inputs.
type Scorer struct {
	weights Weights
	params  Params
}

// New validates weights and returns a scorer.
func New(w Weights, p Params) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	defaults := DefaultParams()
	if p.VolumeReferenceUSD <= 0 {
		p.VolumeReferenceUSD = defaults.VolumeReferenceUSD
	}
	if p.LatencyTargetMs <= 0 {
		p.LatencyTargetMs = defaults.LatencyTargetMs
	}
	if p.DiversityReference <= 0 {
		p.DiversityReference = defaults.DiversityReference
	}
	return &Scorer{weights: w, params: p}, nil
}

// Components normalises the inputs.
func (s *Scorer) Components(in Inputs) Components {
	rate, _ := in.SuccessRate.Float64()
	volume, _ := in.VolumeUSD.Float64()
	latency, _ := in.AvgSettlementLatencyMs.Float64()

	c := Components{
		SuccessRate: clamp01(rate / 100),
		Diversity:   clamp01(float64(in.Diversity) / float64(s.params.DiversityReference)),
	}
	if volume > 0 {
		c.Volume = clamp01(math.Log10(1+volume) / math.Log10(1+s.params.VolumeReferenceUSD))
	}
	if latency > 0 {
		c.Speed = clamp01(1 - latency/s.params.LatencyTargetMs)
	}
	return c
}

// Score returns the weighted score in [0, 100], rounded to two places.
func (s *Scorer) Score(in Inputs) decimal.Decimal {
	c := s.Components(in)
	// Explicit conversions round each product, so no platform fuses them
	// into FMA instructions and the hashed score is the same everywhere.
	raw := float64(s.weights.SuccessRate*c.SuccessRate) +
		float64(s.weights.Volume*c.Volume) +
		float64(s.weights.Speed*c.Speed) +
		float64(s.weights.Diversity*c.Diversity)
	score := clamp(raw*100, 0, 100)
	return decimal.NewFromFloat(score).Round(2)
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
