package ledger

import "github.com/shopspring/decimal"

// OptionPosition is one account's holding in one option contract.
// Quantity is signed; AvgPremium is zero whenever Quantity is. MarginUsed
// is only held by short positions.
type OptionPosition struct {
	Account    string          `json:"account" yaml:"account"`
	ContractID string          `json:"contract_id" yaml:"contract_id"`
	Quantity   int64           `json:"quantity" yaml:"quantity"`
	AvgPremium decimal.Decimal `json:"avg_premium" yaml:"avg_premium"`
	MarginUsed decimal.Decimal `json:"margin_used" yaml:"margin_used"`
	Realized   decimal.Decimal `json:"realized" yaml:"realized"`
}

// Unrealized values the position at mark, in cash.
func (p OptionPosition) Unrealized(mark decimal.Decimal, multiplier int64) decimal.Decimal {
	return mark.Sub(p.AvgPremium).Mul(decimal.NewFromInt(p.Quantity * multiplier))
}

// FuturesPosition is one account's holding in one futures contract.
// MarginUsed always equals |Quantity| times the contract's margin requirement.
type FuturesPosition struct {
	Account    string          `json:"account" yaml:"account"`
	ContractID string          `json:"contract_id" yaml:"contract_id"`
	Quantity   int64           `json:"quantity" yaml:"quantity"`
	AvgPrice   decimal.Decimal `json:"avg_price" yaml:"avg_price"`
	LastMarked decimal.Decimal `json:"last_marked" yaml:"last_marked"`
	MarginUsed decimal.Decimal `json:"margin_used" yaml:"margin_used"`
	Realized   decimal.Decimal `json:"realized" yaml:"realized"`
}

func (p FuturesPosition) Unrealized(price, contractSize decimal.Decimal) decimal.Decimal {
	return price.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Quantity)).Mul(contractSize)
}

// Notional is the signed exposure at price.
func (p FuturesPosition) Notional(price, contractSize decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Quantity)).Mul(contractSize)
}

// ExerciseResult reports an exercise. A declined exercise changes nothing.
type ExerciseResult struct {
	ContractID string
	Quantity   int64
	Intrinsic  decimal.Decimal
	// Settlement is the cash paid to the holder.
	Settlement decimal.Decimal
	Realized   decimal.Decimal
	Declined   bool
	Reason     string
}

const ReasonOutOfMoney = "OUT_OF_MONEY"

// ExpiryResult reports an option position closed after expiry.
type ExpiryResult struct {
	ContractID string
	// Quantity is the signed quantity that expired.
	Quantity  int64
	Intrinsic decimal.Decimal
	// Settlement is the signed cash: paid to a long, charged to a short.
	Settlement     decimal.Decimal
	Realized       decimal.Decimal
	MarginReleased decimal.Decimal
}
