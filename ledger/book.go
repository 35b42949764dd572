package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/derivatives/market"
	"github.com/shopspring/decimal"
)

// Book holds one account's open positions. It does no locking of its own;
// the owner serialises every call for an account.
type Book struct {
	Account string

	// ShortOptionRate is the margin held per unit of premium received on
	// short options. Zero holds none.
	ShortOptionRate decimal.Decimal

	options  map[string]*OptionPosition
	futures  map[string]*FuturesPosition
	realized decimal.Decimal
}

func NewBook(account string) *Book {
	return &Book{
		Account:         account,
		ShortOptionRate: decimal.Zero,
		options:         make(map[string]*OptionPosition),
		futures:         make(map[string]*FuturesPosition),
	}
}

// OptionFill is what FillOption did.
type OptionFill struct {
	Position OptionPosition
	Fill     Fill
	// Premium is the signed cash moved: negative when buying.
	Premium decimal.Decimal
	// MarginDelta is the change in margin held against the short side.
	MarginDelta decimal.Decimal
}

// OptionMarginDelta is the margin change a fill of qty at premium would
// cause.
func (b *Book) OptionMarginDelta(oc *market.OptionContract, qty int64, premium decimal.Decimal) decimal.Decimal {
	var cur OptionPosition
	if p := b.options[oc.ID]; p != nil {
		cur = *p
	}
	return b.shortMargin(cur, qty, premium, oc.Multiplier).Sub(cur.MarginUsed)
}

// shortMargin is what a position holds after a fill of qty. Selling holds
// ShortOptionRate times the premium received on the contracts added to the
// short; buying back releases the short's margin pro rata.
func (b *Book) shortMargin(cur OptionPosition, qty int64, premium decimal.Decimal, mult int64) decimal.Decimal {
	q, n := cur.Quantity, cur.Quantity+qty
	switch {
	case n >= 0:
		return decimal.Zero
	case q < 0 && n > q:
		return cur.MarginUsed.Mul(decimal.NewFromInt(-n)).Div(decimal.NewFromInt(-q))
	case q < 0:
		return cur.MarginUsed.Add(b.premiumMargin(-qty, premium, mult))
	}
	return b.premiumMargin(-n, premium, mult)
}

func (b *Book) premiumMargin(contracts int64, premium decimal.Decimal, mult int64) decimal.Decimal {
	return premium.Mul(decimal.NewFromInt(contracts * mult)).Mul(b.ShortOptionRate)
}

// FillOption applies a signed option fill at premium.
func (b *Book) FillOption(oc *market.OptionContract, qty int64, premium decimal.Decimal) (OptionFill, error) {
	if qty == 0 {
		return OptionFill{}, fmt.Errorf("fill option %s: %w", oc.ID, ErrInvalidQuantity)
	}
	if premium.IsNegative() {
		return OptionFill{}, fmt.Errorf("fill option %s: negative premium %s: %w", oc.ID, premium, ErrInvalidQuantity)
	}

	p := b.options[oc.ID]
	if p == nil {
		p = &OptionPosition{Account: b.Account, ContractID: oc.ID, MarginUsed: decimal.Zero}
	}

	f, err := Apply(p.Quantity, p.AvgPremium, qty, premium)
	if err != nil {
		return OptionFill{}, err
	}

	mult := decimal.NewFromInt(oc.Multiplier)
	cashRealized := f.Realized.Mul(mult)
	oldMargin := p.MarginUsed
	p.MarginUsed = b.shortMargin(*p, qty, premium, oc.Multiplier)
	p.Quantity = f.Qty
	p.AvgPremium = f.Cost
	p.Realized = p.Realized.Add(cashRealized)
	b.realized = b.realized.Add(cashRealized)
	b.putOption(p)

	return OptionFill{
		Position:    *p,
		Fill:        f,
		Premium:     premium.Mul(decimal.NewFromInt(-qty)).Mul(mult),
		MarginDelta: p.MarginUsed.Sub(oldMargin),
	}, nil
}

// Exercise exercises qty of a long option position against spot. window is
// how long after expiry exercise is still accepted.
func (b *Book) Exercise(oc *market.OptionContract, qty int64, spot decimal.Decimal, now time.Time, window time.Duration) (ExerciseResult, error) {
	if qty <= 0 {
		return ExerciseResult{}, fmt.Errorf("exercise %s: %w", oc.ID, ErrInvalidQuantity)
	}
	p := b.options[oc.ID]
	if p == nil || p.Quantity < qty {
		held := int64(0)
		if p != nil {
			held = p.Quantity
		}
		return ExerciseResult{}, fmt.Errorf("exercise %d of %s, holding %d: %w", qty, oc.ID, held, ErrInsufficientPosition)
	}
	if now.After(oc.Expiry.Add(window)) {
		return ExerciseResult{}, fmt.Errorf("exercise %s: %w", oc.ID, market.ErrExpiredContract)
	}
	if oc.Style == market.European && now.Before(oc.Expiry) {
		return ExerciseResult{}, fmt.Errorf("exercise european %s before %s: %w", oc.ID, oc.Expiry.Format(time.RFC3339), ErrExerciseNotAllowed)
	}

	intrinsic := oc.Intrinsic(spot)
	res := ExerciseResult{ContractID: oc.ID, Quantity: qty, Intrinsic: intrinsic}
	if !intrinsic.IsPositive() {
		res.Declined = true
		res.Reason = ReasonOutOfMoney
		res.Quantity = 0
		return res, nil
	}

	units := decimal.NewFromInt(qty * oc.Multiplier)
	res.Settlement = intrinsic.Mul(units)
	res.Realized = intrinsic.Sub(p.AvgPremium).Mul(units)

	p.Quantity -= qty
	p.Realized = p.Realized.Add(res.Realized)
	b.realized = b.realized.Add(res.Realized)
	b.putOption(p)
	return res, nil
}

// ExpireOption closes the whole position in oc at its intrinsic value
// against spot. It reports false when the book holds none.
func (b *Book) ExpireOption(oc *market.OptionContract, spot decimal.Decimal) (ExpiryResult, bool) {
	p := b.options[oc.ID]
	if p == nil {
		return ExpiryResult{}, false
	}
	intrinsic := oc.Intrinsic(spot)
	units := decimal.NewFromInt(p.Quantity * oc.Multiplier)
	res := ExpiryResult{
		ContractID:     oc.ID,
		Quantity:       p.Quantity,
		Intrinsic:      intrinsic,
		Settlement:     intrinsic.Mul(units),
		Realized:       intrinsic.Sub(p.AvgPremium).Mul(units),
		MarginReleased: p.MarginUsed,
	}
	b.realized = b.realized.Add(res.Realized)
	delete(b.options, oc.ID)
	return res, true
}

// FuturesFill is what FillFutures did.
type FuturesFill struct {
	Position FuturesPosition
	Fill     Fill
	// Variation is the mark of the pre-fill quantity to the fill price.
	Variation decimal.Decimal
	// MarginDelta is the change in reserved margin.
	MarginDelta decimal.Decimal
}

// FuturesMarginDelta is the margin change a fill of qty would cause.
func (b *Book) FuturesMarginDelta(fc *market.FuturesContract, qty int64) decimal.Decimal {
	var cur int64
	if p := b.futures[fc.ID]; p != nil {
		cur = p.Quantity
	}
	return fc.MarginRequirement.Mul(decimal.NewFromInt(abs(cur+qty) - abs(cur)))
}

// FillFutures applies a signed futures fill at price. The existing quantity
// is first marked to price so variation never double counts a close.
func (b *Book) FillFutures(fc *market.FuturesContract, qty int64, price decimal.Decimal) (FuturesFill, error) {
	if qty == 0 {
		return FuturesFill{}, fmt.Errorf("fill futures %s: %w", fc.ID, ErrInvalidQuantity)
	}
	if !price.IsPositive() {
		return FuturesFill{}, fmt.Errorf("fill futures %s: non-positive price %s: %w", fc.ID, price, ErrInvalidQuantity)
	}

	p := b.futures[fc.ID]
	if p == nil {
		p = &FuturesPosition{Account: b.Account, ContractID: fc.ID, MarginUsed: decimal.Zero}
	}

	f, err := Apply(p.Quantity, p.AvgPrice, qty, price)
	if err != nil {
		return FuturesFill{}, err
	}

	var variation decimal.Decimal
	if p.Quantity != 0 {
		variation = price.Sub(p.LastMarked).Mul(decimal.NewFromInt(p.Quantity)).Mul(fc.ContractSize)
	}

	cashRealized := f.Realized.Mul(fc.ContractSize)
	oldMargin := p.MarginUsed
	p.Quantity = f.Qty
	p.AvgPrice = f.Cost
	p.LastMarked = price
	p.MarginUsed = fc.MarginRequirement.Mul(decimal.NewFromInt(abs(f.Qty)))
	p.Realized = p.Realized.Add(cashRealized)
	b.realized = b.realized.Add(cashRealized)
	b.putFutures(p)

	return FuturesFill{
		Position:    *p,
		Fill:        f,
		Variation:   variation,
		MarginDelta: p.MarginUsed.Sub(oldMargin),
	}, nil
}

// MarkFutures moves a futures position's last mark to price and returns the
// variation since the previous mark.
func (b *Book) MarkFutures(contractID string, price, contractSize decimal.Decimal) (decimal.Decimal, bool) {
	p := b.futures[contractID]
	if p == nil {
		return decimal.Zero, false
	}
	v := price.Sub(p.LastMarked).Mul(decimal.NewFromInt(p.Quantity)).Mul(contractSize)
	p.LastMarked = price
	return v, true
}

func (b *Book) putOption(p *OptionPosition) {
	if p.Quantity == 0 {
		delete(b.options, p.ContractID)
		return
	}
	b.options[p.ContractID] = p
}

func (b *Book) putFutures(p *FuturesPosition) {
	if p.Quantity == 0 {
		delete(b.futures, p.ContractID)
		return
	}
	b.futures[p.ContractID] = p
}

func (b *Book) Option(contractID string) (OptionPosition, bool) {
	p, ok := b.options[contractID]
	if !ok {
		return OptionPosition{}, false
	}
	return *p, true
}

func (b *Book) Futures(contractID string) (FuturesPosition, bool) {
	p, ok := b.futures[contractID]
	if !ok {
		return FuturesPosition{}, false
	}
	return *p, true
}

// Options returns copies of the open option positions ordered by contract.
func (b *Book) Options() []OptionPosition {
	out := make([]OptionPosition, 0, len(b.options))
	for _, p := range b.options {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContractID < out[j].ContractID })
	return out
}

// FuturesPositions returns copies of the open futures positions ordered by contract.
func (b *Book) FuturesPositions() []FuturesPosition {
	out := make([]FuturesPosition, 0, len(b.futures))
	for _, p := range b.futures {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContractID < out[j].ContractID })
	return out
}

// HoldsFutures reports whether the book has an open position in contractID.
func (b *Book) HoldsFutures(contractID string) bool {
	_, ok := b.futures[contractID]
	return ok
}

// MarginUsed sums the margin reserved by open positions.
func (b *Book) MarginUsed() decimal.Decimal {
	total := decimal.Zero
	for _, p := range b.futures {
		total = total.Add(p.MarginUsed)
	}
	for _, p := range b.options {
		total = total.Add(p.MarginUsed)
	}
	return total
}

// Realized is the cumulative realized P&L in cash, including closed positions.
func (b *Book) Realized() decimal.Decimal { return b.realized }

func (b *Book) IsEmpty() bool { return len(b.options) == 0 && len(b.futures) == 0 }

// Load replaces the book's contents, used when restoring a checkpoint.
func (b *Book) Load(options []OptionPosition, futures []FuturesPosition, realized decimal.Decimal) {
	b.options = make(map[string]*OptionPosition, len(options))
	b.futures = make(map[string]*FuturesPosition, len(futures))
	for _, p := range options {
		p := p
		p.Account = b.Account
		b.putOption(&p)
	}
	for _, p := range futures {
		p := p
		p.Account = b.Account
		b.putFutures(&p)
	}
	b.realized = realized
}
