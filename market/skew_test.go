package market

import (
	"testing"

	"github.com/rustyeddy/derivatives/pricing"
	"github.com/stretchr/testify/assert"
)

func TestSkewMultiplier(t *testing.T) {
	t.Parallel()

	s := DefaultSkew()
	tests := []struct {
		name   string
		kind   pricing.Kind
		strike string
		want   float64
	}{
		{"atm_call", pricing.Call, "100", 1.0},
		{"itm_call_not_scaled", pricing.Call, "70", 1.0},
		{"near_otm_call", pricing.Call, "104", 1.0},
		{"otm_call", pricing.Call, "110", 1.10},
		{"far_otm_call", pricing.Call, "125", 1.25},
		{"beyond_last_bucket", pricing.Call, "160", 1.25},
		{"otm_put", pricing.Put, "88", 1.10},
		{"itm_put_not_scaled", pricing.Put, "120", 1.0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			oc := &OptionContract{Kind: tt.kind, Strike: dec(tt.strike)}
			assert.Equal(t, tt.want, s.Multiplier(oc, dec("100")))
			assert.InDelta(t, 0.2*tt.want, s.EffectiveVol(oc, dec("100"), 0.2), 1e-12)
		})
	}
}

func TestNewSkewSortsAndEmpty(t *testing.T) {
	t.Parallel()

	s := NewSkew([]SkewBucket{{MaxDistance: 0.5, Multiplier: 2}, {MaxDistance: 0.1, Multiplier: 1.5}})
	assert.Equal(t, 0.1, s.Buckets[0].MaxDistance)

	oc := &OptionContract{Kind: pricing.Put, Strike: dec("95")}
	assert.Equal(t, 1.5, s.Multiplier(oc, dec("100")))
	assert.Equal(t, 1.0, Skew{}.Multiplier(oc, dec("100")))
}
