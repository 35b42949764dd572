package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApplyReversal(t *testing.T) {
	t.Parallel()

	// long 10 @ 100, sell 15 @ 110
	f, err := Apply(10, dec("100"), -15, dec("110"))
	require.NoError(t, err)

	assert.Equal(t, int64(-5), f.Qty)
	assert.Equal(t, "110", f.Cost.String())
	assert.Equal(t, int64(10), f.Closed)
	assert.Equal(t, int64(5), f.Opened)
	assert.Equal(t, "100", f.Realized.String())
}

func TestApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		qty      int64
		cost     string
		fillQty  int64
		price    string
		wantQty  int64
		wantCost string
		realized string
	}{
		{"open_long", 0, "0", 3, "12.5", 3, "12.5", "0"},
		{"open_short", 0, "0", -4, "7", -4, "7", "0"},
		{"add_long", 10, "100", 10, "110", 20, "105", "0"},
		{"add_short", -2, "50", -6, "54", -8, "53", "0"},
		{"partial_close_long_gain", 10, "100", -4, "103", 6, "100", "12"},
		{"partial_close_long_loss", 10, "100", -4, "98", 6, "100", "-8"},
		{"partial_close_short_gain", -10, "100", 3, "95", -7, "100", "15"},
		{"close_flat", 5, "20", -5, "21", 0, "0", "5"},
		{"short_flip_to_long", -3, "40", 5, "38", 2, "38", "6"},
		{"flat_ignores_stale_cost", 0, "999", 2, "10", 2, "10", "0"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := Apply(tt.qty, dec(tt.cost), tt.fillQty, dec(tt.price))
			require.NoError(t, err)
			assert.Equal(t, tt.wantQty, f.Qty)
			assert.True(t, dec(tt.wantCost).Equal(f.Cost), "cost %s", f.Cost)
			assert.True(t, dec(tt.realized).Equal(f.Realized), "realized %s", f.Realized)
		})
	}
}

func TestApplyWeightedAverageGrid(t *testing.T) {
	t.Parallel()

	qtys := []int64{1, 2, 7, 10, 333}
	prices := []string{"0.01", "1", "99.99", "100.5", "4321.25"}

	for _, q0 := range qtys {
		for _, q1 := range qtys {
			for _, p0 := range prices {
				for _, p1 := range prices {
					f, err := Apply(q0, dec(p0), q1, dec(p1))
					require.NoError(t, err)

					want := dec(p0).Mul(decimal.NewFromInt(q0)).
						Add(dec(p1).Mul(decimal.NewFromInt(q1))).
						Div(decimal.NewFromInt(q0 + q1))
					assert.True(t, want.Equal(f.Cost), "%d@%s + %d@%s: %s", q0, p0, q1, p1, f.Cost)
					assert.Equal(t, q0+q1, f.Qty)
					assert.True(t, f.Realized.IsZero())

					// the same on the short side
					s, err := Apply(-q0, dec(p0), -q1, dec(p1))
					require.NoError(t, err)
					assert.True(t, want.Equal(s.Cost))
				}
			}
		}
	}
}

func TestApplyZeroQuantity(t *testing.T) {
	t.Parallel()

	_, err := Apply(10, dec("1"), 0, dec("1"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}
