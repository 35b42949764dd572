package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/derivatives/journal"
	"github.com/rustyeddy/derivatives/ledger"
	"github.com/rustyeddy/derivatives/margin"
	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/pkg/id"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MarkResult is one account's mark-to-market.
type MarkResult struct {
	Account     string
	Variation   decimal.Decimal
	Equity      decimal.Decimal
	Initial     decimal.Decimal
	Maintenance decimal.Decimal
	// Marked lists the contracts whose positions moved to a new mark.
	Marked []string
	// Expired lists the option positions closed after their exercise window.
	Expired []ledger.ExpiryResult
	Events  []margin.Event
}

// AccountFailure is an account a settlement sweep had to skip.
type AccountFailure struct {
	Account string
	Reason  string
	Err     error
}

var errSweepPanic = errors.New("panic")

const (
	reasonTimeout = "timeout"
	reasonPanic   = "panic"
	reasonError   = "error"
)

// SettlementReport summarises one daily settlement sweep.
type SettlementReport struct {
	Time      time.Time
	Prices    map[string]decimal.Decimal
	Skipped   map[string]error
	Marks     []MarkResult
	Failed    []AccountFailure
	Variation decimal.Decimal
	Duration  time.Duration
}

type priceFunc func(ctx context.Context, fc *market.FuturesContract) (decimal.Decimal, error)

// MarkToMarket marks every futures position of the account to the current
// feed price and runs the margin call state machine.
func (e *Engine) MarkToMarket(ctx context.Context, accountID string) (MarkResult, error) {
	a, err := e.open(ctx, accountID, false)
	if err != nil {
		return MarkResult{}, reject(err)
	}
	res, err := e.markLocked(ctx, a, e.markPrice)
	a.release()
	if err != nil {
		return MarkResult{}, reject(err)
	}
	e.emit(res.Events)
	return res, nil
}

// markLocked prices every position before it changes any, so a missing
// price leaves the account untouched.
func (e *Engine) markLocked(ctx context.Context, a *account, price priceFunc) (MarkResult, error) {
	positions := a.book.FuturesPositions()
	type mark struct {
		fc    *market.FuturesContract
		price decimal.Decimal
	}
	marks := make([]mark, 0, len(positions))
	for _, p := range positions {
		fc, err := e.catalog.Futures(p.ContractID)
		if err != nil {
			return MarkResult{}, err
		}
		px, err := price(ctx, fc)
		if err != nil {
			return MarkResult{}, err
		}
		marks = append(marks, mark{fc: fc, price: px})
	}

	res := MarkResult{Account: a.acct.ID, Variation: decimal.Zero}
	for _, m := range marks {
		v, ok := a.book.MarkFutures(m.fc.ID, m.price, m.fc.ContractSize)
		if !ok {
			continue
		}
		res.Variation = res.Variation.Add(v)
		res.Marked = append(res.Marked, m.fc.ID)
	}
	a.acct.ApplyVariation(res.Variation)
	e.metrics.ObserveVariation(res.Variation.Abs().InexactFloat64())

	req, err := e.requirementLocked(a)
	if err != nil {
		return MarkResult{}, err
	}
	now := e.now()
	res.Events = a.acct.Assess(req, now, e.cfg.MarginCallDeadline)
	res.Equity = a.acct.Equity()
	res.Initial = req.Initial
	res.Maintenance = req.Maintenance
	e.recordEquityLocked(a, now)
	return res, nil
}

// DailySettlement fixes a settlement price for every listed futures
// contract, resets daily volume and marks every holding account once
// against those prices. Option positions past expiry and the exercise
// window are closed at intrinsic value. Accounts are settled in parallel;
// one that fails or exceeds SweepTimeout is skipped and reported, never
// fatal to the sweep.
//
// Rerunning the sweep within a session refixes prices against the band
// the session started with.
func (e *Engine) DailySettlement(ctx context.Context) (SettlementReport, error) {
	start := time.Now()
	now := e.now()
	rep := SettlementReport{
		Time:      now,
		Prices:    make(map[string]decimal.Decimal),
		Skipped:   make(map[string]error),
		Variation: decimal.Zero,
	}

	session := market.SessionOf(now)
	for _, fc := range e.catalog.FuturesContracts() {
		raw, err := e.feedPrice(ctx, fc)
		if err != nil {
			rep.Skipped[fc.ID] = err
			e.log.Error("settlement price unavailable", zap.String("contract", fc.ID), zap.Error(err))
			continue
		}
		p := fc.FixSettlement(raw, session)
		fc.ResetDailyVolume()
		rep.Prices[fc.ID] = p
	}
	expiring := e.expiringOptions(ctx, now, rep.Skipped)
	e.log.Info("settlement sweep started",
		zap.Int("contracts", len(rep.Prices)),
		zap.Int("expiring", len(expiring)),
		zap.Int("accounts", len(e.Accounts())))

	fixed := func(_ context.Context, fc *market.FuturesContract) (decimal.Decimal, error) {
		p, ok := rep.Prices[fc.ID]
		if !ok {
			return decimal.Zero, fmt.Errorf("no settlement price for %s: %w", fc.ID, ErrNoMarketData)
		}
		return p, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.cfg.SweepConcurrency)
	for _, a := range e.snapshot() {
		a := a
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, held, err := e.settleAccount(ctx, a, fixed, expiring)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				f := AccountFailure{Account: a.acct.ID, Reason: failureReason(err), Err: err}
				rep.Failed = append(rep.Failed, f)
				e.metrics.ObserveSweepFailure(f.Reason)
				e.log.Error("account settlement failed",
					zap.String("account", f.Account),
					zap.String("reason", f.Reason),
					zap.Error(err))
				return nil
			}
			if held {
				rep.Marks = append(rep.Marks, res)
				rep.Variation = rep.Variation.Add(res.Variation)
			}
			return nil
		})
	}
	_ = g.Wait()

	sortMarks(rep.Marks)
	sortFailures(rep.Failed)
	for id, p := range rep.Prices {
		holders := 0
		for _, m := range rep.Marks {
			for _, c := range m.Marked {
				if c == id {
					holders++
				}
			}
		}
		e.record("settlement", e.journal.RecordSettlement(journal.SettlementRecord{
			Time:       now,
			ContractID: id,
			Price:      p,
			Accounts:   holders,
			Failed:     len(rep.Failed),
		}))
	}

	rep.Duration = time.Since(start)
	e.metrics.ObserveSweep(rep.Duration)
	e.log.Info("settlement sweep finished",
		zap.Int("settled", len(rep.Marks)),
		zap.Int("failed", len(rep.Failed)),
		zap.String("variation", rep.Variation.StringFixed(2)),
		zap.Duration("took", rep.Duration))

	return rep, ctx.Err()
}

// expiry is an option contract past its exercise window and the spot its
// positions close against.
type expiry struct {
	oc   *market.OptionContract
	spot decimal.Decimal
}

// expiringOptions lists the option contracts whose exercise window has
// closed by now. A contract without a spot is recorded in skipped and left
// for the next sweep.
func (e *Engine) expiringOptions(ctx context.Context, now time.Time, skipped map[string]error) []expiry {
	var out []expiry
	spots := make(map[string]decimal.Decimal)
	for _, oc := range e.catalog.Options() {
		if !now.After(oc.Expiry.Add(e.cfg.ExerciseWindow)) || oc.OpenInterest() == 0 {
			continue
		}
		spot, ok := spots[oc.Underlying]
		if !ok {
			p, err := e.feed.CurrentPrice(ctx, oc.Underlying)
			if err != nil {
				skipped[oc.ID] = err
				e.log.Error("expiry spot unavailable", zap.String("contract", oc.ID), zap.Error(err))
				continue
			}
			spot, spots[oc.Underlying] = p, p
		}
		out = append(out, expiry{oc: oc, spot: spot})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].oc.ID < out[j].oc.ID })
	return out
}

// expireLocked closes the account's positions in expiring contracts, moving
// the intrinsic value in cash and releasing any short margin.
func (e *Engine) expireLocked(a *account, expiring []expiry, now time.Time) []ledger.ExpiryResult {
	var out []ledger.ExpiryResult
	for _, x := range expiring {
		res, ok := a.book.ExpireOption(x.oc, x.spot)
		if !ok {
			continue
		}
		a.acct.Credit(res.Settlement)
		a.acct.Release(res.MarginReleased)
		x.oc.AddOpenInterest(-abs(res.Quantity))
		e.record("fill", e.journal.RecordFill(journal.FillRecord{
			FillID:     id.NewAt(now),
			Time:       now,
			Account:    a.acct.ID,
			ContractID: x.oc.ID,
			Kind:       journal.FillExpiry,
			Quantity:   -res.Quantity,
			Price:      res.Intrinsic,
			Cash:       res.Settlement,
			Realized:   res.Realized,
		}))
		e.log.Info("option expired",
			zap.String("account", a.acct.ID),
			zap.String("contract", x.oc.ID),
			zap.Int64("qty", res.Quantity),
			zap.String("settlement", res.Settlement.StringFixed(2)))
		out = append(out, res)
	}
	return out
}

// settleAccount marks one account under its own timeout and closes its
// expired options. held reports whether the account had any futures to
// mark or options to expire.
func (e *Engine) settleAccount(ctx context.Context, a *account, price priceFunc, expiring []expiry) (res MarkResult, held bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SweepTimeout)
	defer cancel()

	if err := a.acquire(ctx); err != nil {
		return MarkResult{}, false, fmt.Errorf("settle %s: %w", a.acct.ID, err)
	}
	defer func() {
		if r := recover(); r != nil {
			res, held = MarkResult{}, false
			err = fmt.Errorf("settle %s: %w: %v", a.acct.ID, errSweepPanic, r)
			a.release()
			return
		}
		a.release()
		if err == nil {
			e.emit(res.Events)
		}
	}()

	if a.retired {
		return MarkResult{}, false, nil
	}
	held = len(a.book.FuturesPositions()) > 0
	res, err = e.markLocked(ctx, a, price)
	if err != nil {
		return MarkResult{}, false, fmt.Errorf("settle %s: %w", a.acct.ID, err)
	}

	now := e.now()
	res.Expired = e.expireLocked(a, expiring, now)
	if len(res.Expired) == 0 {
		return res, held, nil
	}
	req, err := e.requirementLocked(a)
	if err != nil {
		return MarkResult{}, false, fmt.Errorf("settle %s: %w", a.acct.ID, err)
	}
	res.Events = append(res.Events, a.acct.Assess(req, now, e.cfg.MarginCallDeadline)...)
	res.Equity = a.acct.Equity()
	res.Initial = req.Initial
	res.Maintenance = req.Maintenance
	e.recordEquityLocked(a, now)
	return res, true, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	case errors.Is(err, errSweepPanic):
		return reasonPanic
	}
	return reasonError
}

func sortMarks(ms []MarkResult) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].Account < ms[j].Account })
}

func sortFailures(fs []AccountFailure) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].Account < fs[j].Account })
}

// ExpireMarginCalls liquidates every account whose pending call is past
// its deadline and returns the transitions.
func (e *Engine) ExpireMarginCalls(ctx context.Context) ([]margin.Event, error) {
	now := e.now()
	var out []margin.Event
	for _, a := range e.snapshot() {
		if err := a.acquire(ctx); err != nil {
			return out, reject(err)
		}
		if a.retired {
			a.release()
			continue
		}
		ev, ok := a.acct.Expire(now)
		if ok {
			e.recordEquityLocked(a, now)
		}
		a.release()
		if ok {
			e.emit([]margin.Event{ev})
			out = append(out, ev)
		}
	}
	return out, nil
}
