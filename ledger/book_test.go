package ledger

import (
	"testing"
	"time"

	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var expiry = time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC)

func call(style market.Style) *market.OptionContract {
	return &market.OptionContract{
		ID:         "SPX-20240315-100-C",
		Underlying: "SPX",
		Kind:       pricing.Call,
		Strike:     dec("100"),
		Expiry:     expiry,
		Style:      style,
		Multiplier: 100,
	}
}

func crude() *market.FuturesContract {
	return &market.FuturesContract{
		ID:                "CL-FUT-202403",
		Underlying:        "CL",
		ContractSize:      dec("1000"),
		TickSize:          dec("0.01"),
		MarginRequirement: dec("2000"),
		MaintenanceMargin: dec("1500"),
		Expiry:            expiry,
	}
}

func TestFillOption(t *testing.T) {
	t.Parallel()

	b := NewBook("acct-1")
	oc := call(market.American)

	of, err := b.FillOption(oc, 2, dec("3.5"))
	require.NoError(t, err)
	assert.Equal(t, "-700", of.Premium.String())
	assert.Equal(t, int64(2), of.Position.Quantity)

	of, err = b.FillOption(oc, 2, dec("4.5"))
	require.NoError(t, err)
	assert.Equal(t, "4", of.Position.AvgPremium.String())

	of, err = b.FillOption(oc, -1, dec("5"))
	require.NoError(t, err)
	assert.Equal(t, "500", of.Premium.String())
	assert.Equal(t, "100", of.Position.Realized.String())
	assert.Equal(t, "4", of.Position.AvgPremium.String())

	// closing the rest removes the position
	_, err = b.FillOption(oc, -3, dec("4"))
	require.NoError(t, err)
	_, ok := b.Option(oc.ID)
	assert.False(t, ok)
	assert.True(t, b.IsEmpty())
	assert.Equal(t, "100", b.Realized().String())
}

func TestFillOptionRejects(t *testing.T) {
	t.Parallel()

	b := NewBook("acct-1")
	_, err := b.FillOption(call(market.European), 0, dec("1"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = b.FillOption(call(market.European), 1, dec("-1"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.True(t, b.IsEmpty())
}

func TestExercise(t *testing.T) {
	t.Parallel()

	window := 24 * time.Hour
	before := expiry.Add(-time.Hour)

	tests := []struct {
		name     string
		style    market.Style
		held     int64
		qty      int64
		spot     string
		now      time.Time
		wantErr  error
		declined bool
	}{
		{"american_early_itm", market.American, 5, 2, "110", before, nil, false},
		{"european_early", market.European, 5, 2, "110", before, ErrExerciseNotAllowed, false},
		{"european_at_expiry", market.European, 5, 5, "110", expiry, nil, false},
		{"european_in_window", market.European, 5, 1, "110", expiry.Add(time.Hour), nil, false},
		{"past_window", market.American, 5, 1, "110", expiry.Add(window + time.Second), market.ErrExpiredContract, false},
		{"out_of_money", market.American, 5, 1, "100", before, nil, true},
		{"short_position", market.American, -5, 1, "110", before, ErrInsufficientPosition, false},
		{"too_many", market.American, 5, 6, "110", before, ErrInsufficientPosition, false},
		{"zero", market.American, 5, 0, "110", before, ErrInvalidQuantity, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := NewBook("acct-1")
			oc := call(tt.style)
			_, err := b.FillOption(oc, tt.held, dec("4"))
			require.NoError(t, err)

			res, err := b.Exercise(oc, tt.qty, dec(tt.spot), tt.now, window)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				p, _ := b.Option(oc.ID)
				assert.Equal(t, tt.held, p.Quantity)
				return
			}
			require.NoError(t, err)
			p, _ := b.Option(oc.ID)
			if tt.declined {
				assert.True(t, res.Declined)
				assert.Equal(t, ReasonOutOfMoney, res.Reason)
				assert.True(t, res.Settlement.IsZero())
				assert.Equal(t, tt.held, p.Quantity)
				return
			}
			assert.False(t, res.Declined)
			assert.Equal(t, "10", res.Intrinsic.String())
			assert.True(t, dec("1000").Mul(decimal.NewFromInt(tt.qty)).Equal(res.Settlement))
			assert.True(t, dec("600").Mul(decimal.NewFromInt(tt.qty)).Equal(res.Realized))
			assert.Equal(t, tt.held-tt.qty, p.Quantity)
		})
	}
}

func TestFillFuturesMarksAndMargin(t *testing.T) {
	t.Parallel()

	b := NewBook("acct-1")
	fc := crude()

	assert.Equal(t, "20000", b.FuturesMarginDelta(fc, 10).String())
	ff, err := b.FillFutures(fc, 10, dec("80"))
	require.NoError(t, err)
	assert.True(t, ff.Variation.IsZero())
	assert.Equal(t, "20000", ff.MarginDelta.String())
	assert.Equal(t, "20000", ff.Position.MarginUsed.String())

	v, ok := b.MarkFutures(fc.ID, dec("81"), fc.ContractSize)
	require.True(t, ok)
	assert.Equal(t, "10000", v.String())

	// sell 15 at 82: the 10 held are marked 81 -> 82 first
	assert.Equal(t, "-10000", b.FuturesMarginDelta(fc, -15).String())
	ff, err = b.FillFutures(fc, -15, dec("82"))
	require.NoError(t, err)
	assert.Equal(t, "10000", ff.Variation.String())
	assert.Equal(t, "-10000", ff.MarginDelta.String())
	assert.Equal(t, int64(-5), ff.Position.Quantity)
	assert.Equal(t, "82", ff.Position.AvgPrice.String())
	assert.Equal(t, "82", ff.Position.LastMarked.String())
	assert.Equal(t, "10000", ff.Position.MarginUsed.String())
	assert.Equal(t, "20000", ff.Position.Realized.String())

	for _, p := range b.FuturesPositions() {
		assert.True(t, p.MarginUsed.Equal(fc.MarginRequirement.Mul(decimal.NewFromInt(abs(p.Quantity)))))
	}
	assert.Equal(t, "10000", b.MarginUsed().String())

	ff, err = b.FillFutures(fc, 5, dec("81"))
	require.NoError(t, err)
	assert.Equal(t, "5000", ff.Variation.String())
	assert.False(t, b.HoldsFutures(fc.ID))
	assert.True(t, b.MarginUsed().IsZero())

	_, ok = b.MarkFutures(fc.ID, dec("80"), fc.ContractSize)
	assert.False(t, ok)
}

func TestShortOptionMargin(t *testing.T) {
	t.Parallel()

	b := NewBook("acct-1")
	b.ShortOptionRate = dec("1.5")
	oc := call(market.American)

	assert.Equal(t, "1500", b.OptionMarginDelta(oc, -4, dec("2.5")).String())
	of, err := b.FillOption(oc, -4, dec("2.5"))
	require.NoError(t, err)
	assert.Equal(t, "1500", of.MarginDelta.String())
	assert.Equal(t, "1500", of.Position.MarginUsed.String())

	of, err = b.FillOption(oc, -2, dec("3"))
	require.NoError(t, err)
	assert.Equal(t, "900", of.MarginDelta.String())
	assert.Equal(t, "2400", b.MarginUsed().String())

	// buying back half the short releases half its margin
	assert.Equal(t, "-1200", b.OptionMarginDelta(oc, 3, dec("1")).String())
	of, err = b.FillOption(oc, 3, dec("1"))
	require.NoError(t, err)
	assert.Equal(t, "1200", of.Position.MarginUsed.String())

	// flipping long releases the rest
	of, err = b.FillOption(oc, 5, dec("1"))
	require.NoError(t, err)
	assert.Equal(t, "-1200", of.MarginDelta.String())
	assert.True(t, of.Position.MarginUsed.IsZero())
	assert.True(t, b.MarginUsed().IsZero())

	// selling through a long only holds margin for the new short
	of, err = b.FillOption(oc, -5, dec("2"))
	require.NoError(t, err)
	assert.Equal(t, int64(-3), of.Position.Quantity)
	assert.Equal(t, "900", of.MarginDelta.String())

	plain := NewBook("acct-2")
	of, err = plain.FillOption(oc, -1, dec("2"))
	require.NoError(t, err)
	assert.True(t, of.MarginDelta.IsZero())
}

func TestExpireOption(t *testing.T) {
	t.Parallel()

	oc := call(market.American)
	long := NewBook("long")
	_, err := long.FillOption(oc, 2, dec("4"))
	require.NoError(t, err)
	short := NewBook("short")
	short.ShortOptionRate = dec("1.5")
	_, err = short.FillOption(oc, -1, dec("4"))
	require.NoError(t, err)

	res, ok := long.ExpireOption(oc, dec("103"))
	require.True(t, ok)
	assert.Equal(t, int64(2), res.Quantity)
	assert.Equal(t, "600", res.Settlement.String())
	assert.Equal(t, "-200", res.Realized.String())
	assert.True(t, long.IsEmpty())
	assert.Equal(t, "-200", long.Realized().String())

	res, ok = short.ExpireOption(oc, dec("103"))
	require.True(t, ok)
	assert.Equal(t, int64(-1), res.Quantity)
	assert.Equal(t, "-300", res.Settlement.String())
	assert.Equal(t, "100", res.Realized.String())
	assert.Equal(t, "600", res.MarginReleased.String())
	assert.True(t, short.MarginUsed().IsZero())

	_, ok = short.ExpireOption(oc, dec("103"))
	assert.False(t, ok)

	worthless := NewBook("otm")
	_, err = worthless.FillOption(oc, 1, dec("4"))
	require.NoError(t, err)
	res, ok = worthless.ExpireOption(oc, dec("90"))
	require.True(t, ok)
	assert.True(t, res.Settlement.IsZero())
	assert.Equal(t, "-400", res.Realized.String())
}

func TestFillFuturesRejects(t *testing.T) {
	t.Parallel()

	b := NewBook("acct-1")
	_, err := b.FillFutures(crude(), 0, dec("80"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = b.FillFutures(crude(), 1, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestBookLoad(t *testing.T) {
	t.Parallel()

	b := NewBook("acct-9")
	b.Load(
		[]OptionPosition{{ContractID: "B", Quantity: 1, AvgPremium: dec("2")}, {ContractID: "A", Quantity: -3, AvgPremium: dec("1")}, {ContractID: "flat"}},
		[]FuturesPosition{{ContractID: "F", Quantity: 2, MarginUsed: dec("4000")}},
		dec("12"),
	)

	opts := b.Options()
	require.Len(t, opts, 2)
	assert.Equal(t, "A", opts[0].ContractID)
	assert.Equal(t, "acct-9", opts[0].Account)
	assert.Equal(t, "4000", b.MarginUsed().String())
	assert.Equal(t, "12", b.Realized().String())
}
