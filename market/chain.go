package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StrikeBand is a symmetric band of strikes around spot, expressed as
// fractions of spot: Low=0.7, High=1.3, Step=0.05 lists 70%..130% in 5%
// steps.
type StrikeBand struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
	Step float64 `json:"step" yaml:"step"`
}

func DefaultStrikeBand() StrikeBand {
	return StrikeBand{Low: 0.7, High: 1.3, Step: 0.05}
}

func (b StrikeBand) validate() error {
	switch {
	case b.Low <= 0 || b.High <= 0:
		return fmt.Errorf("strike band bounds must be positive: %w", ErrInvalidContract)
	case b.Low > b.High:
		return fmt.Errorf("strike band low %.2f above high %.2f: %w", b.Low, b.High, ErrInvalidContract)
	case b.Step <= 0:
		return fmt.Errorf("strike band step must be positive: %w", ErrInvalidContract)
	}
	return nil
}

// Strikes lists the distinct, ascending strikes of the band for spot.
func (b StrikeBand) Strikes(spot decimal.Decimal) ([]decimal.Decimal, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	inc := StrikeIncrement(spot)
	low := decimal.NewFromFloat(b.Low)
	step := decimal.NewFromFloat(b.Step)
	high := decimal.NewFromFloat(b.High)

	var out []decimal.Decimal
	for f := low; f.LessThanOrEqual(high); f = f.Add(step) {
		k := roundTo(spot.Mul(f), inc)
		if !k.IsPositive() {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Equal(k) {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

// StrikeIncrement picks the listing grid from the magnitude of spot.
func StrikeIncrement(spot decimal.Decimal) decimal.Decimal {
	s := spot.InexactFloat64()
	switch {
	case s < 5:
		return decimal.RequireFromString("0.1")
	case s < 25:
		return decimal.RequireFromString("0.5")
	case s < 200:
		return decimal.NewFromInt(1)
	case s < 500:
		return decimal.NewFromInt(5)
	case s < 1000:
		return decimal.NewFromInt(10)
	default:
		return decimal.NewFromInt(50)
	}
}

func roundTo(v, inc decimal.Decimal) decimal.Decimal {
	return v.Div(inc).Round(0).Mul(inc)
}
