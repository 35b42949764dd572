// Package sim is the margin and mark-to-market engine. It owns the margin
// accounts and position books of every account and coordinates the
// catalog, the pricing kernel and the market feed around them.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/derivatives/journal"
	"github.com/rustyeddy/derivatives/ledger"
	"github.com/rustyeddy/derivatives/margin"
	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/metrics"
	"github.com/rustyeddy/derivatives/pricing"
	"github.com/rustyeddy/derivatives/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// account is the unit of exclusion: a margin ledger and its positions are
// only read or written while lock is held.
type account struct {
	lock chan struct{}
	acct *margin.Account
	book *ledger.Book

	// retired is set under lock once Restore has replaced the account.
	retired bool
}

func (e *Engine) newAccount(id string, now time.Time) *account {
	book := ledger.NewBook(id)
	book.ShortOptionRate = decimal.NewFromFloat(e.cfg.ShortOptionMargin)
	return &account{
		lock: make(chan struct{}, 1),
		acct: margin.NewAccount(id, now),
		book: book,
	}
}

// acquire waits for the account or for ctx, whichever comes first.
func (a *account) acquire(ctx context.Context) error {
	select {
	case a.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *account) release() { <-a.lock }

type Engine struct {
	cfg      Config
	catalog  *market.Catalog
	feed     market.Feed
	kernel   *pricing.Kernel
	policy   risk.Policy
	now      func() time.Time
	log      *zap.Logger
	journal  journal.Journal
	metrics  *metrics.Metrics
	listener Listener

	mu       sync.RWMutex
	accounts map[string]*account
}

func NewEngine(catalog *market.Catalog, feed market.Feed, opts ...Option) *Engine {
	e := &Engine{
		cfg:      DefaultConfig(),
		catalog:  catalog,
		feed:     feed,
		kernel:   pricing.NewKernel(pricing.DefaultConfig()),
		now:      time.Now,
		log:      zap.NewNop(),
		journal:  journal.Nop{},
		accounts: make(map[string]*account),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Catalog() *market.Catalog { return e.catalog }
func (e *Engine) Feed() market.Feed        { return e.feed }
func (e *Engine) Config() Config           { return e.cfg }

// Accounts lists every known account id, sorted.
func (e *Engine) Accounts() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.accounts))
	for id := range e.accounts {
		out = append(out, id)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

// lookup returns the account, creating it only when create is set.
func (e *Engine) lookup(id string, create bool) (*account, error) {
	if id == "" {
		return nil, fmt.Errorf("empty account id: %w", ErrAccountNotFound)
	}
	e.mu.RLock()
	a, ok := e.accounts[id]
	e.mu.RUnlock()
	if ok {
		return a, nil
	}
	if !create {
		return nil, fmt.Errorf("account %q: %w", id, ErrAccountNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.accounts[id]; ok {
		return a, nil
	}
	a = e.newAccount(id, e.now())
	e.accounts[id] = a
	e.metrics.SetAccounts(len(e.accounts))
	e.log.Debug("account opened", zap.String("account", id))
	return a, nil
}

// open looks up the account and acquires it. An account that Restore
// retired while the caller waited is looked up again.
func (e *Engine) open(ctx context.Context, id string, create bool) (*account, error) {
	for {
		a, err := e.lookup(id, create)
		if err != nil {
			return nil, err
		}
		if err := a.acquire(ctx); err != nil {
			return nil, err
		}
		if !a.retired {
			return a, nil
		}
		a.release()
	}
}

// snapshot returns the current accounts in id order. Callers that acquire
// them must skip retired ones.
func (e *Engine) snapshot() []*account {
	e.mu.RLock()
	out := make([]*account, 0, len(e.accounts))
	for _, a := range e.accounts {
		out = append(out, a)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].acct.ID < out[j].acct.ID })
	return out
}

func (e *Engine) quoter() risk.MarketQuoter {
	return risk.MarketQuoter{
		Kernel:  e.kernel,
		Catalog: e.catalog,
		Feed:    e.feed,
		Rate:    e.cfg.RiskFreeRate,
		Now:     e.now,
	}
}

// requirementLocked sums what the account's open positions demand. A short
// option's margin counts in full towards both levels.
func (e *Engine) requirementLocked(a *account) (margin.Requirement, error) {
	req := margin.Requirement{Initial: decimal.Zero, Maintenance: decimal.Zero}
	for _, p := range a.book.Options() {
		req.Initial = req.Initial.Add(p.MarginUsed)
		req.Maintenance = req.Maintenance.Add(p.MarginUsed)
	}
	for _, p := range a.book.FuturesPositions() {
		fc, err := e.catalog.Futures(p.ContractID)
		if err != nil {
			return margin.Requirement{}, err
		}
		req.Initial = req.Initial.Add(p.MarginUsed)
		req.Maintenance = req.Maintenance.Add(fc.MaintenanceMargin.Mul(decimal.NewFromInt(abs(p.Quantity))))
	}
	return req, nil
}

// feedPrice is the feed price of fc's underlying on its tick grid.
func (e *Engine) feedPrice(ctx context.Context, fc *market.FuturesContract) (decimal.Decimal, error) {
	p, err := e.feed.CurrentPrice(ctx, fc.Underlying)
	if err != nil {
		return decimal.Zero, fmt.Errorf("mark %s: %w", fc.ID, err)
	}
	return fc.RoundToTick(p), nil
}

// markPrice is the feed price inside the daily limit around the last
// settlement.
func (e *Engine) markPrice(ctx context.Context, fc *market.FuturesContract) (decimal.Decimal, error) {
	p, err := e.feedPrice(ctx, fc)
	if err != nil {
		return decimal.Zero, err
	}
	return fc.ClampToLimit(p), nil
}

// emit reports margin call transitions. It must be called without any
// account lock held.
func (e *Engine) emit(events []margin.Event) {
	for _, ev := range events {
		c := ev.Call
		fields := []zap.Field{
			zap.String("account", c.Account),
			zap.String("call", c.ID),
			zap.String("amount", c.Amount.StringFixed(2)),
			zap.String("equity", c.Equity.StringFixed(2)),
		}
		switch ev.Kind {
		case margin.EventCallIssued:
			e.log.Warn("margin call issued", append(fields, zap.Time("deadline", c.Deadline))...)
		case margin.EventCallMet:
			e.log.Info("margin call met", fields...)
		case margin.EventLiquidated:
			e.log.Warn("account liquidated", fields...)
		}

		e.metrics.ObserveMarginCall(string(c.Status))
		e.record("margin call", e.journal.RecordMarginCall(journal.MarginCallRecord{
			CallID:      c.ID,
			Time:        e.eventTime(c),
			Account:     c.Account,
			Status:      string(c.Status),
			Amount:      c.Amount,
			Maintenance: c.Maintenance,
			Equity:      c.Equity,
			Deadline:    c.Deadline,
		}))

		var fn func(margin.Call)
		switch ev.Kind {
		case margin.EventCallIssued:
			fn = e.listener.OnMarginCall
		case margin.EventCallMet:
			fn = e.listener.OnMarginCallMet
		case margin.EventLiquidated:
			fn = e.listener.OnLiquidation
		}
		if fn != nil {
			fn(c)
		}
	}
}

func (e *Engine) eventTime(c margin.Call) time.Time {
	if !c.ResolvedAt.IsZero() {
		return c.ResolvedAt
	}
	return c.IssuedAt
}

// record logs a journal failure. The engine state has already changed by
// the time anything is journaled, so the operation still succeeds.
func (e *Engine) record(what string, err error) {
	if err != nil {
		e.log.Error("journal write failed", zap.String("record", what), zap.Error(err))
	}
}

func (e *Engine) recordEquityLocked(a *account, at time.Time) {
	acct := a.acct
	e.record("equity", e.journal.RecordEquity(journal.EquitySnapshot{
		Time:       at,
		Account:    acct.ID,
		Balance:    acct.Balance,
		Variation:  acct.Variation,
		Equity:     acct.Equity(),
		MarginUsed: acct.MarginUsed,
		Available:  acct.Available(),
	}))
}

// assessLocked runs the margin call state machine after a fill moved cash
// or positions.
func (e *Engine) assessLocked(a *account, now time.Time) []margin.Event {
	req, err := e.requirementLocked(a)
	if err != nil {
		e.log.Error("margin requirement unavailable", zap.String("account", a.acct.ID), zap.Error(err))
		return nil
	}
	return a.acct.Assess(req, now, e.cfg.MarginCallDeadline)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
