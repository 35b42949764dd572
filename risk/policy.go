package risk

import "github.com/shopspring/decimal"

// Policy holds pre-trade limits. A zero limit is not enforced.
type Policy struct {
	// Per order
	MaxOrderQty int64

	// Per contract, after the fill
	MaxPositionQty int64

	// Portfolio
	MaxGrossNotional decimal.Decimal // futures, account currency
	MaxAbsDelta      float64         // options, in underlying units
	MaxMarginPct     float64         // margin used / equity, e.g. 0.8
}

type OrderIntent struct {
	ContractID string
	Quantity   int64

	// CurrentQty is the account's position before the fill.
	CurrentQty int64

	// Notional is the absolute futures notional the order adds.
	Notional decimal.Decimal

	// Delta is the option delta the order adds.
	Delta float64

	// MarginDelta is the margin the order would reserve.
	MarginDelta decimal.Decimal
}

type AccountSnapshot struct {
	Equity        decimal.Decimal
	Available     decimal.Decimal
	MarginUsed    decimal.Decimal
	GrossNotional decimal.Decimal
	NetDelta      float64
}
