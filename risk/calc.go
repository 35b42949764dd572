package risk

import (
	"context"
	"fmt"

	"github.com/rustyeddy/derivatives/ledger"
	"github.com/rustyeddy/derivatives/market"
	"github.com/shopspring/decimal"
)

// AggregateFuturesExposure values every futures position at the feed's
// current price of its underlying: quantity x price x contract size.
func AggregateFuturesExposure(ctx context.Context, positions []ledger.FuturesPosition, lookup ContractLookup, feed market.Feed) (Exposure, error) {
	exp := Exposure{
		Net:        decimal.Zero,
		Gross:      decimal.Zero,
		ByContract: make(map[string]decimal.Decimal, len(positions)),
	}
	for _, p := range positions {
		fc, err := lookup.Futures(p.ContractID)
		if err != nil {
			return Exposure{}, err
		}
		price, err := feed.CurrentPrice(ctx, fc.Underlying)
		if err != nil {
			return Exposure{}, fmt.Errorf("exposure for %s: %w", p.ContractID, err)
		}
		n := p.Notional(price, fc.ContractSize)
		exp.Net = exp.Net.Add(n)
		exp.Gross = exp.Gross.Add(n.Abs())
		exp.ByContract[p.ContractID] = n
	}
	return exp, nil
}

// MarginPct is margin used as a fraction of equity. Non-positive equity is
// treated as fully used.
func MarginPct(marginUsed, equity decimal.Decimal) float64 {
	if !equity.IsPositive() {
		if marginUsed.IsZero() {
			return 0
		}
		return 1e9
	}
	return marginUsed.Div(equity).InexactFloat64()
}
