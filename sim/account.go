package sim

import (
	"context"
	"fmt"

	"github.com/rustyeddy/derivatives/ledger"
	"github.com/rustyeddy/derivatives/margin"
	"github.com/rustyeddy/derivatives/pricing"
	"github.com/rustyeddy/derivatives/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarginStatus is a point-in-time view of one margin account.
type MarginStatus struct {
	Account     string
	State       margin.State
	Balance     decimal.Decimal
	Variation   decimal.Decimal
	Equity      decimal.Decimal
	MarginUsed  decimal.Decimal
	Available   decimal.Decimal
	Initial     decimal.Decimal
	Maintenance decimal.Decimal
	PendingCall *margin.Call
	Calls       []margin.Call
}

type OptionView struct {
	ledger.OptionPosition
	Mark       decimal.Decimal
	Unrealized decimal.Decimal
	Greeks     pricing.Greeks
}

type FuturesView struct {
	ledger.FuturesPosition
	Price      decimal.Decimal
	Unrealized decimal.Decimal
	Notional   decimal.Decimal
}

// PositionSummary is every open position of an account valued against the
// current market.
type PositionSummary struct {
	Account  string
	Options  []OptionView
	Futures  []FuturesView
	Realized decimal.Decimal
	Greeks   pricing.Greeks
	Exposure risk.Exposure
	Margin   MarginStatus
}

func statusLocked(a *account, req margin.Requirement) MarginStatus {
	acct := a.acct.Clone()
	st := MarginStatus{
		Account:     acct.ID,
		State:       acct.State,
		Balance:     acct.Balance,
		Variation:   acct.Variation,
		Equity:      acct.Equity(),
		MarginUsed:  acct.MarginUsed,
		Available:   acct.Available(),
		Initial:     req.Initial,
		Maintenance: req.Maintenance,
		Calls:       acct.Calls,
	}
	if c, ok := acct.PendingCall(); ok {
		st.PendingCall = &c
	}
	return st
}

func (e *Engine) MarginStatus(ctx context.Context, accountID string) (MarginStatus, error) {
	a, err := e.open(ctx, accountID, false)
	if err != nil {
		return MarginStatus{}, reject(err)
	}
	defer a.release()

	req, err := e.requirementLocked(a)
	if err != nil {
		return MarginStatus{}, reject(err)
	}
	return statusLocked(a, req), nil
}

// PositionSummary copies the account under its lock and values the copy
// afterwards, so market data reads never hold the account.
func (e *Engine) PositionSummary(ctx context.Context, accountID string) (PositionSummary, error) {
	a, err := e.open(ctx, accountID, false)
	if err != nil {
		return PositionSummary{}, reject(err)
	}
	options := a.book.Options()
	futures := a.book.FuturesPositions()
	realized := a.book.Realized()
	req, err := e.requirementLocked(a)
	status := statusLocked(a, req)
	a.release()
	if err != nil {
		return PositionSummary{}, reject(err)
	}

	sum := PositionSummary{
		Account:  accountID,
		Realized: realized,
		Margin:   status,
		Options:  make([]OptionView, 0, len(options)),
		Futures:  make([]FuturesView, 0, len(futures)),
	}

	q := e.quoter()
	for _, p := range options {
		oc, err := e.catalog.Option(p.ContractID)
		if err != nil {
			return PositionSummary{}, reject(err)
		}
		res, err := q.QuoteOption(ctx, oc)
		if err != nil {
			return PositionSummary{}, reject(fmt.Errorf("value %s: %w", p.ContractID, err))
		}
		mark := e.roundPremium(res.Price)
		sum.Options = append(sum.Options, OptionView{
			OptionPosition: p,
			Mark:           mark,
			Unrealized:     p.Unrealized(mark, oc.Multiplier),
			Greeks:         res.Greeks,
		})
		sum.Greeks = sum.Greeks.Add(res.Greeks.Scale(float64(oc.Multiplier * p.Quantity)))
	}

	exp, err := risk.AggregateFuturesExposure(ctx, futures, e.catalog, e.feed)
	if err != nil {
		return PositionSummary{}, reject(err)
	}
	sum.Exposure = exp
	for _, p := range futures {
		fc, err := e.catalog.Futures(p.ContractID)
		if err != nil {
			return PositionSummary{}, reject(err)
		}
		price, err := e.feed.CurrentPrice(ctx, fc.Underlying)
		if err != nil {
			return PositionSummary{}, reject(err)
		}
		sum.Futures = append(sum.Futures, FuturesView{
			FuturesPosition: p,
			Price:           price,
			Unrealized:      p.Unrealized(price, fc.ContractSize),
			Notional:        exp.ByContract[p.ContractID],
		})
	}
	return sum, nil
}

// PortfolioGreeks sums the account's option Greeks at current market.
func (e *Engine) PortfolioGreeks(ctx context.Context, accountID string) (pricing.Greeks, error) {
	a, err := e.open(ctx, accountID, false)
	if err != nil {
		return pricing.Greeks{}, reject(err)
	}
	options := a.book.Options()
	a.release()

	g, err := risk.AggregateGreeks(ctx, options, e.catalog, e.quoter())
	if err != nil {
		return pricing.Greeks{}, reject(err)
	}
	return g, nil
}

func (e *Engine) FuturesExposure(ctx context.Context, accountID string) (risk.Exposure, error) {
	a, err := e.open(ctx, accountID, false)
	if err != nil {
		return risk.Exposure{}, reject(err)
	}
	futures := a.book.FuturesPositions()
	a.release()

	exp, err := risk.AggregateFuturesExposure(ctx, futures, e.catalog, e.feed)
	if err != nil {
		return risk.Exposure{}, reject(err)
	}
	return exp, nil
}

// Deposit adds cash, opening the account if needed. A deposit that restores
// equity resolves a pending margin call.
func (e *Engine) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (MarginStatus, error) {
	return e.deposit(ctx, accountID, amount, true)
}

// TopUp is Deposit for an existing account.
func (e *Engine) TopUp(ctx context.Context, accountID string, amount decimal.Decimal) (MarginStatus, error) {
	return e.deposit(ctx, accountID, amount, false)
}

func (e *Engine) deposit(ctx context.Context, accountID string, amount decimal.Decimal, create bool) (MarginStatus, error) {
	a, err := e.open(ctx, accountID, create)
	if err != nil {
		return MarginStatus{}, reject(err)
	}

	if err := a.acct.Deposit(amount); err != nil {
		a.release()
		return MarginStatus{}, reject(err)
	}
	req, err := e.requirementLocked(a)
	if err != nil {
		a.release()
		return MarginStatus{}, reject(err)
	}
	var events []margin.Event
	now := e.now()
	if _, ok := a.acct.PendingCall(); ok {
		events = a.acct.Assess(req, now, e.cfg.MarginCallDeadline)
	}
	e.recordEquityLocked(a, now)
	st := statusLocked(a, req)
	a.release()

	e.log.Info("deposit",
		zap.String("account", accountID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("equity", st.Equity.StringFixed(2)))
	e.emit(events)
	return st, nil
}

// CheckAndReserveMargin reserves required against the account's available
// margin in one step, or rejects with INSUFFICIENT_MARGIN.
func (e *Engine) CheckAndReserveMargin(ctx context.Context, accountID string, required decimal.Decimal) error {
	a, err := e.open(ctx, accountID, false)
	if err != nil {
		return reject(err)
	}
	defer a.release()
	return reject(a.acct.Reserve(required))
}

func (e *Engine) ReleaseMargin(ctx context.Context, accountID string, amount decimal.Decimal) error {
	a, err := e.open(ctx, accountID, false)
	if err != nil {
		return reject(err)
	}
	defer a.release()
	a.acct.Release(amount)
	return nil
}
