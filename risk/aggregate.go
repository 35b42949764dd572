// Package risk aggregates position-level sensitivities and exposure into
// portfolio figures and evaluates pre-trade limits. It never mutates state.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/derivatives/ledger"
	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/pricing"
	"github.com/shopspring/decimal"
)

// ContractLookup resolves listed contracts; *market.Catalog satisfies it.
type ContractLookup interface {
	Option(id string) (*market.OptionContract, error)
	Futures(id string) (*market.FuturesContract, error)
}

// Quoter values one option against the current market.
type Quoter interface {
	QuoteOption(ctx context.Context, oc *market.OptionContract) (pricing.Result, error)
}

// MarketQuoter prices options from a live feed through the catalog's skew.
// Every call reads the feed again.
type MarketQuoter struct {
	Kernel  *pricing.Kernel
	Catalog *market.Catalog
	Feed    market.Feed
	Rate    float64
	Now     func() time.Time
}

func (q MarketQuoter) QuoteOption(ctx context.Context, oc *market.OptionContract) (pricing.Result, error) {
	spot, err := q.Feed.CurrentPrice(ctx, oc.Underlying)
	if err != nil {
		return pricing.Result{}, err
	}
	vol, err := q.Feed.ImpliedVolatility(ctx, oc.Underlying)
	if err != nil {
		return pricing.Result{}, err
	}
	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	return q.Catalog.Quote(q.Kernel, oc, spot, vol, q.Rate, now())
}

// AggregateGreeks sums multiplier x quantity x Greek over option positions.
func AggregateGreeks(ctx context.Context, positions []ledger.OptionPosition, lookup ContractLookup, q Quoter) (pricing.Greeks, error) {
	var total pricing.Greeks
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		oc, err := lookup.Option(p.ContractID)
		if err != nil {
			return pricing.Greeks{}, err
		}
		res, err := q.QuoteOption(ctx, oc)
		if err != nil {
			return pricing.Greeks{}, fmt.Errorf("greeks for %s: %w", p.ContractID, err)
		}
		total = total.Add(res.Greeks.Scale(float64(oc.Multiplier * p.Quantity)))
	}
	return total, nil
}

// OptionDelta is the delta a signed quantity of oc would add.
func OptionDelta(ctx context.Context, oc *market.OptionContract, qty int64, q Quoter) (float64, error) {
	res, err := q.QuoteOption(ctx, oc)
	if err != nil {
		return 0, err
	}
	return res.Greeks.Delta * float64(oc.Multiplier*qty), nil
}

// Exposure is futures notional: Net keeps sign, Gross does not.
type Exposure struct {
	Net        decimal.Decimal
	Gross      decimal.Decimal
	ByContract map[string]decimal.Decimal
}
