package sim

import (
	"context"
	"fmt"

	"github.com/rustyeddy/derivatives/journal"
	"github.com/rustyeddy/derivatives/ledger"
	"github.com/rustyeddy/derivatives/margin"
	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/pkg/id"
	"github.com/rustyeddy/derivatives/pricing"
	"github.com/rustyeddy/derivatives/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	kindOption   = "option"
	kindFutures  = "futures"
	kindExercise = "exercise"

	outcomeFilled   = "filled"
	outcomeDeclined = "declined"
)

// OptionOrder buys (positive Quantity) or sells option contracts. Without a
// LimitPremium the order fills at the model premium.
type OptionOrder struct {
	Account      string
	ContractID   string
	Quantity     int64
	LimitPremium *decimal.Decimal
}

type OptionOrderResult struct {
	FillID   string
	Position ledger.OptionPosition
	// Premium is the per-unit fill premium.
	Premium decimal.Decimal
	// Cash is the signed premium paid or received.
	Cash decimal.Decimal
	// MarginDelta is the change in margin held against a short.
	MarginDelta decimal.Decimal
	Realized    decimal.Decimal
	Greeks      pricing.Greeks
}

// FuturesOrder trades futures contracts. Without a Price the order fills at
// the current feed price on the contract's tick grid.
type FuturesOrder struct {
	Account    string
	ContractID string
	Quantity   int64
	Price      *decimal.Decimal
}

type FuturesOrderResult struct {
	FillID      string
	Position    ledger.FuturesPosition
	Price       decimal.Decimal
	Variation   decimal.Decimal
	MarginDelta decimal.Decimal
	Realized    decimal.Decimal
}

// PlaceOptionOrder prices the contract through the skew, settles the
// premium in cash and updates the account's position.
func (e *Engine) PlaceOptionOrder(ctx context.Context, o OptionOrder) (OptionOrderResult, error) {
	res, err := e.placeOption(ctx, o)
	if err != nil {
		err = reject(err)
		e.rejected(kindOption, o.Account, o.ContractID, err)
		return OptionOrderResult{}, err
	}
	e.metrics.ObserveOrder(kindOption, outcomeFilled)
	return res, nil
}

func (e *Engine) placeOption(ctx context.Context, o OptionOrder) (OptionOrderResult, error) {
	if o.Quantity == 0 {
		return OptionOrderResult{}, fmt.Errorf("option order on %s: %w", o.ContractID, ErrInvalidQuantity)
	}
	oc, err := e.catalog.Option(o.ContractID)
	if err != nil {
		return OptionOrderResult{}, err
	}
	now := e.now()
	if oc.IsExpired(now) {
		return OptionOrderResult{}, fmt.Errorf("option order on %s: %w", oc.ID, ErrExpiredContract)
	}

	q := e.quoter()
	quote, err := q.QuoteOption(ctx, oc)
	if err != nil {
		return OptionOrderResult{}, fmt.Errorf("quote %s: %w", oc.ID, err)
	}
	premium := e.roundPremium(quote.Price)
	if o.LimitPremium != nil {
		lim := *o.LimitPremium
		if (o.Quantity > 0 && premium.GreaterThan(lim)) || (o.Quantity < 0 && premium.LessThan(lim)) {
			return OptionOrderResult{}, fmt.Errorf("%s premium %s against limit %s: %w", oc.ID, premium, lim, ErrLimitPrice)
		}
	}

	a, err := e.open(ctx, o.Account, true)
	if err != nil {
		return OptionOrderResult{}, err
	}
	var events []margin.Event
	defer func() {
		a.release()
		e.emit(events)
	}()

	if a.acct.Liquidated() {
		return OptionOrderResult{}, fmt.Errorf("option order for %s: %w", o.Account, ErrAccountLiquidated)
	}

	cur, _ := a.book.Option(oc.ID)
	if err := exposureLocked(a, cur.Quantity, o.Quantity); err != nil {
		return OptionOrderResult{}, err
	}
	intent := risk.OrderIntent{
		ContractID: oc.ID,
		Quantity:   o.Quantity,
		CurrentQty: cur.Quantity,
		Notional:   decimal.Zero,
		Delta:      quote.Greeks.Delta * float64(oc.Multiplier*o.Quantity),
	}
	if err := e.checkRiskLocked(ctx, a, q, intent); err != nil {
		return OptionOrderResult{}, err
	}

	cash := premium.Mul(decimal.NewFromInt(-o.Quantity * oc.Multiplier))
	marginDelta := a.book.OptionMarginDelta(oc, o.Quantity, premium)
	undo, err := moveOptionCash(a.acct, cash, marginDelta)
	if err != nil {
		return OptionOrderResult{}, err
	}
	f, err := a.book.FillOption(oc, o.Quantity, premium)
	if err != nil {
		undo()
		return OptionOrderResult{}, err
	}

	oc.AddVolume(o.Quantity)
	oc.AddOpenInterest(f.Fill.Opened - f.Fill.Closed)

	realized := f.Fill.Realized.Mul(decimal.NewFromInt(oc.Multiplier))
	fillID := id.NewAt(now)
	e.record("fill", e.journal.RecordFill(journal.FillRecord{
		FillID:     fillID,
		Time:       now,
		Account:    o.Account,
		ContractID: oc.ID,
		Kind:       journal.FillOption,
		Quantity:   o.Quantity,
		Price:      premium,
		Cash:       f.Premium,
		Realized:   realized,
	}))
	events = e.assessLocked(a, now)
	e.recordEquityLocked(a, now)

	e.log.Debug("option filled",
		zap.String("account", o.Account),
		zap.String("contract", oc.ID),
		zap.Int64("qty", o.Quantity),
		zap.String("premium", premium.String()),
		zap.String("margin_delta", f.MarginDelta.String()))

	return OptionOrderResult{
		FillID:      fillID,
		Position:    f.Position,
		Premium:     premium,
		Cash:        f.Premium,
		MarginDelta: f.MarginDelta,
		Realized:    realized,
		Greeks:      quote.Greeks,
	}, nil
}

// moveOptionCash pays or receives an option fill's premium and moves the
// short margin with it. Margin released by buying back a short is available
// to pay for it; a sale is credited before its margin is reserved. undo puts
// the account back as it was.
func moveOptionCash(acct *margin.Account, cash, marginDelta decimal.Decimal) (undo func(), err error) {
	balance, used := acct.Balance, acct.MarginUsed
	undo = func() { acct.Balance, acct.MarginUsed = balance, used }

	if marginDelta.IsNegative() {
		acct.Release(marginDelta)
	}
	if cash.IsNegative() {
		if err := acct.Spend(cash.Neg()); err != nil {
			undo()
			return nil, err
		}
	} else {
		acct.Credit(cash)
	}
	if marginDelta.IsPositive() {
		if err := acct.Reserve(marginDelta); err != nil {
			undo()
			return nil, err
		}
	}
	return undo, nil
}

// exposureLocked rejects an order that grows a position while the account
// has no margin available.
func exposureLocked(a *account, cur, qty int64) error {
	if abs(cur+qty) <= abs(cur) {
		return nil
	}
	if avail := a.acct.Available(); avail.IsNegative() {
		return fmt.Errorf("%s adds exposure with %s available: %w", a.acct.ID, avail.StringFixed(2), ErrInsufficientMargin)
	}
	return nil
}

// PlaceFuturesOrder marks any existing position to the fill price, reserves
// the extra initial margin the fill needs and updates the position.
func (e *Engine) PlaceFuturesOrder(ctx context.Context, o FuturesOrder) (FuturesOrderResult, error) {
	res, err := e.placeFutures(ctx, o)
	if err != nil {
		err = reject(err)
		e.rejected(kindFutures, o.Account, o.ContractID, err)
		return FuturesOrderResult{}, err
	}
	e.metrics.ObserveOrder(kindFutures, outcomeFilled)
	return res, nil
}

func (e *Engine) placeFutures(ctx context.Context, o FuturesOrder) (FuturesOrderResult, error) {
	if o.Quantity == 0 {
		return FuturesOrderResult{}, fmt.Errorf("futures order on %s: %w", o.ContractID, ErrInvalidQuantity)
	}
	fc, err := e.catalog.Futures(o.ContractID)
	if err != nil {
		return FuturesOrderResult{}, err
	}
	now := e.now()
	if fc.IsExpired(now) {
		return FuturesOrderResult{}, fmt.Errorf("futures order on %s: %w", fc.ID, ErrExpiredContract)
	}

	var price decimal.Decimal
	if o.Price != nil {
		price = *o.Price
	} else {
		price, err = e.feed.CurrentPrice(ctx, fc.Underlying)
		if err != nil {
			return FuturesOrderResult{}, fmt.Errorf("futures order on %s: %w", fc.ID, err)
		}
	}
	price = fc.RoundToTick(price)
	if !price.IsPositive() {
		return FuturesOrderResult{}, fmt.Errorf("futures order on %s at %s: %w", fc.ID, price, ErrInvalidQuantity)
	}

	a, err := e.open(ctx, o.Account, true)
	if err != nil {
		return FuturesOrderResult{}, err
	}
	var events []margin.Event
	defer func() {
		a.release()
		e.emit(events)
	}()

	if a.acct.Liquidated() {
		return FuturesOrderResult{}, fmt.Errorf("futures order for %s: %w", o.Account, ErrAccountLiquidated)
	}
	if !fc.WithinLimit(price) {
		ref, _ := fc.Settlement()
		return FuturesOrderResult{}, fmt.Errorf("%s at %s, settlement %s, limit %s: %w",
			fc.ID, price, ref, fc.DailyPriceLimit, ErrPriceLimit)
	}

	cur, _ := a.book.Futures(fc.ID)
	if err := exposureLocked(a, cur.Quantity, o.Quantity); err != nil {
		return FuturesOrderResult{}, err
	}
	marginDelta := a.book.FuturesMarginDelta(fc, o.Quantity)
	added := abs(cur.Quantity+o.Quantity) - abs(cur.Quantity)
	if added < 0 {
		added = 0
	}
	intent := risk.OrderIntent{
		ContractID:  fc.ID,
		Quantity:    o.Quantity,
		CurrentQty:  cur.Quantity,
		Notional:    price.Mul(fc.ContractSize).Mul(decimal.NewFromInt(added)),
		MarginDelta: marginDelta,
	}
	if err := e.checkRiskLocked(ctx, a, e.quoter(), intent); err != nil {
		return FuturesOrderResult{}, err
	}

	if marginDelta.IsPositive() {
		if err := a.acct.Reserve(marginDelta); err != nil {
			return FuturesOrderResult{}, err
		}
	}
	f, err := a.book.FillFutures(fc, o.Quantity, price)
	if err != nil {
		if marginDelta.IsPositive() {
			a.acct.Release(marginDelta)
		}
		return FuturesOrderResult{}, err
	}
	a.acct.ApplyVariation(f.Variation)
	if marginDelta.IsNegative() {
		a.acct.Release(marginDelta)
	}
	e.metrics.ObserveVariation(f.Variation.Abs().InexactFloat64())

	fc.AddVolume(o.Quantity)
	fc.AddOpenInterest(f.Fill.Opened - f.Fill.Closed)

	realized := f.Fill.Realized.Mul(fc.ContractSize)
	fillID := id.NewAt(now)
	e.record("fill", e.journal.RecordFill(journal.FillRecord{
		FillID:     fillID,
		Time:       now,
		Account:    o.Account,
		ContractID: fc.ID,
		Kind:       journal.FillFutures,
		Quantity:   o.Quantity,
		Price:      price,
		Cash:       f.Variation,
		Realized:   realized,
	}))
	events = e.assessLocked(a, now)
	e.recordEquityLocked(a, now)

	e.log.Debug("futures filled",
		zap.String("account", o.Account),
		zap.String("contract", fc.ID),
		zap.Int64("qty", o.Quantity),
		zap.String("price", price.String()),
		zap.String("margin_delta", marginDelta.String()))

	return FuturesOrderResult{
		FillID:      fillID,
		Position:    f.Position,
		Price:       price,
		Variation:   f.Variation,
		MarginDelta: f.MarginDelta,
		Realized:    realized,
	}, nil
}

// ExerciseOption exercises a long option position against the current spot.
// An out-of-the-money exercise is declined, not rejected.
func (e *Engine) ExerciseOption(ctx context.Context, accountID, contractID string, qty int64) (ledger.ExerciseResult, error) {
	res, err := e.exercise(ctx, accountID, contractID, qty)
	if err != nil {
		err = reject(err)
		e.rejected(kindExercise, accountID, contractID, err)
		return ledger.ExerciseResult{}, err
	}
	if res.Declined {
		e.metrics.ObserveOrder(kindExercise, outcomeDeclined)
	} else {
		e.metrics.ObserveOrder(kindExercise, outcomeFilled)
	}
	return res, nil
}

func (e *Engine) exercise(ctx context.Context, accountID, contractID string, qty int64) (ledger.ExerciseResult, error) {
	if qty <= 0 {
		return ledger.ExerciseResult{}, fmt.Errorf("exercise %s: %w", contractID, ErrInvalidQuantity)
	}
	oc, err := e.catalog.Option(contractID)
	if err != nil {
		return ledger.ExerciseResult{}, err
	}
	if _, err := e.lookup(accountID, false); err != nil {
		return ledger.ExerciseResult{}, err
	}
	spot, err := e.feed.CurrentPrice(ctx, oc.Underlying)
	if err != nil {
		return ledger.ExerciseResult{}, fmt.Errorf("exercise %s: %w", oc.ID, err)
	}

	a, err := e.open(ctx, accountID, false)
	if err != nil {
		return ledger.ExerciseResult{}, err
	}
	var events []margin.Event
	defer func() {
		a.release()
		e.emit(events)
	}()

	if a.acct.Liquidated() {
		return ledger.ExerciseResult{}, fmt.Errorf("exercise for %s: %w", accountID, ErrAccountLiquidated)
	}

	now := e.now()
	res, err := a.book.Exercise(oc, qty, spot, now, e.cfg.ExerciseWindow)
	if err != nil {
		return ledger.ExerciseResult{}, err
	}
	if res.Declined {
		e.log.Info("exercise declined",
			zap.String("account", accountID),
			zap.String("contract", oc.ID),
			zap.String("reason", res.Reason))
		return res, nil
	}

	a.acct.Credit(res.Settlement)
	oc.AddOpenInterest(-res.Quantity)

	e.record("fill", e.journal.RecordFill(journal.FillRecord{
		FillID:     id.NewAt(now),
		Time:       now,
		Account:    accountID,
		ContractID: oc.ID,
		Kind:       journal.FillExercise,
		Quantity:   -res.Quantity,
		Price:      res.Intrinsic,
		Cash:       res.Settlement,
		Realized:   res.Realized,
	}))
	events = e.assessLocked(a, now)
	e.recordEquityLocked(a, now)
	return res, nil
}

// checkRiskLocked evaluates the pre-trade policy. Portfolio figures are
// only computed for the limits that are enabled.
func (e *Engine) checkRiskLocked(ctx context.Context, a *account, q risk.Quoter, intent risk.OrderIntent) error {
	p := e.policy
	snap := risk.AccountSnapshot{
		Equity:        a.acct.Equity(),
		Available:     a.acct.Available(),
		MarginUsed:    a.acct.MarginUsed,
		GrossNotional: decimal.Zero,
	}
	if p.MaxGrossNotional.IsPositive() {
		exp, err := risk.AggregateFuturesExposure(ctx, a.book.FuturesPositions(), e.catalog, e.feed)
		if err != nil {
			return err
		}
		snap.GrossNotional = exp.Gross
	}
	if p.MaxAbsDelta > 0 {
		g, err := risk.AggregateGreeks(ctx, a.book.Options(), e.catalog, q)
		if err != nil {
			return err
		}
		snap.NetDelta = g.Delta
	}

	d := risk.Evaluate(p, intent, snap)
	if d.Allowed {
		return nil
	}
	v, _ := d.First()
	return &RejectError{
		Code:   CodeRiskLimit,
		Detail: v.Code,
		Err:    fmt.Errorf("%s: %w", v.Msg, ErrRiskLimit),
	}
}

func (e *Engine) roundPremium(p float64) decimal.Decimal {
	tick := decimal.NewFromFloat(e.kernel.Config().MinTick)
	v := decimal.NewFromFloat(p).Div(tick).Round(0).Mul(tick)
	if v.LessThan(tick) {
		return tick
	}
	return v
}

func (e *Engine) rejected(kind, accountID, contractID string, err error) {
	code, _ := Code(err)
	e.metrics.ObserveOrder(kind, string(code))
	e.log.Debug("order rejected",
		zap.String("kind", kind),
		zap.String("account", accountID),
		zap.String("contract", contractID),
		zap.String("code", string(code)),
		zap.Error(err))
}

// Quote values a listed option against the current market.
func (e *Engine) Quote(ctx context.Context, contractID string) (pricing.Result, error) {
	oc, err := e.catalog.Option(contractID)
	if err != nil {
		return pricing.Result{}, reject(err)
	}
	res, err := e.quoter().QuoteOption(ctx, oc)
	if err != nil {
		return pricing.Result{}, reject(err)
	}
	return res, nil
}

var _ risk.ContractLookup = (*market.Catalog)(nil)
