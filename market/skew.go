package market

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// SkewBucket scales volatility for out-of-the-money options whose
// distance |K/S - 1| is at most MaxDistance.
type SkewBucket struct {
	MaxDistance float64 `json:"max_distance" yaml:"max_distance"`
	Multiplier  float64 `json:"multiplier" yaml:"multiplier"`
}

// Skew is a static, configured volatility skew. Buckets are matched in
// ascending MaxDistance order; beyond the last bucket its multiplier holds.
type Skew struct {
	Buckets []SkewBucket `json:"buckets" yaml:"buckets"`
}

func DefaultSkew() Skew {
	return Skew{Buckets: []SkewBucket{
		{MaxDistance: 0.05, Multiplier: 1.00},
		{MaxDistance: 0.15, Multiplier: 1.10},
		{MaxDistance: 0.30, Multiplier: 1.25},
	}}
}

// NewSkew sorts buckets by distance.
func NewSkew(buckets []SkewBucket) Skew {
	bs := append([]SkewBucket(nil), buckets...)
	sort.Slice(bs, func(i, j int) bool { return bs[i].MaxDistance < bs[j].MaxDistance })
	return Skew{Buckets: bs}
}

// Multiplier returns the factor for an option at spot. In-the-money and
// at-the-money options are never scaled.
func (s Skew) Multiplier(oc *OptionContract, spot decimal.Decimal) float64 {
	if len(s.Buckets) == 0 || !spot.IsPositive() || !oc.OutOfTheMoney(spot) {
		return 1
	}
	dist := math.Abs(oc.Strike.Div(spot).InexactFloat64() - 1)
	for _, b := range s.Buckets {
		if dist <= b.MaxDistance {
			return b.Multiplier
		}
	}
	return s.Buckets[len(s.Buckets)-1].Multiplier
}

func (s Skew) EffectiveVol(oc *OptionContract, spot decimal.Decimal, baseVol float64) float64 {
	return baseVol * s.Multiplier(oc, spot)
}
