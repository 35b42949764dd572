// Package replay drives a sim.Engine from a CSV script of timestamped
// events.
//
// Events (case-insensitive):
//
//	PRICE:     p1=underlying  p2=price     p3=vol (optional)
//	ADVANCE:   p1=steps (optional, default 1) along the runner's price process
//	DEPOSIT:   p1=account     p2=amount
//	OPTION:    p1=account     p2=contract  p3=qty  p4=limit premium (optional)
//	FUTURES:   p1=account     p2=contract  p3=qty  p4=price (optional)
//	EXERCISE:  p1=account     p2=contract  p3=qty
//	MTM:       p1=account (optional, default every account)
//	SETTLE:    daily settlement sweep
//	EXPIRE:    liquidate accounts with overdue margin calls
//
// A rejected order is counted and logged; the replay continues.
package replay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/derivatives/margin"
	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/sim"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Clock is a settable simulation clock that never moves backwards.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{t: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t. Earlier times are an error.
func (c *Clock) Set(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.t) {
		return fmt.Errorf("time goes backwards: %s before %s", t.Format(time.RFC3339), c.t.Format(time.RFC3339))
	}
	c.t = t
	return nil
}

// Tally counts margin call transitions. Install its Listener on the engine.
type Tally struct {
	calls      atomic.Int64
	met        atomic.Int64
	liquidated atomic.Int64
}

func (t *Tally) Listener() sim.Listener {
	return sim.Listener{
		OnMarginCall:    func(margin.Call) { t.calls.Add(1) },
		OnMarginCallMet: func(margin.Call) { t.met.Add(1) },
		OnLiquidation:   func(margin.Call) { t.liquidated.Add(1) },
	}
}

func (t *Tally) Calls() int      { return int(t.calls.Load()) }
func (t *Tally) Met() int        { return int(t.met.Load()) }
func (t *Tally) Liquidated() int { return int(t.liquidated.Load()) }

// Runner applies script rows to an engine.
type Runner struct {
	Engine *sim.Engine
	Feed   *market.Store
	Clock  *Clock

	// Process moves prices on ADVANCE rows. Nil makes ADVANCE an error.
	Process market.PriceProcess

	Log *zap.Logger
}

// Rejection is one order the engine refused.
type Rejection struct {
	Line  int
	Event string
	Code  sim.RejectCode
	Err   error
}

// Result summarises a replay.
type Result struct {
	Start time.Time
	End   time.Time

	Rows         int
	Fills        int
	Declined     int
	Rejected     []Rejection
	Settles      []sim.SettlementReport
	Marks        int
	Liquidations int
}

// Run applies every row of feed in order.
func (r *Runner) Run(ctx context.Context, feed *CSVEventsFeed) (Result, error) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	res := Result{Start: r.Clock.Now()}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row, ok, err := feed.Next()
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}
		if err := r.Clock.Set(row.Time); err != nil {
			return res, fmt.Errorf("line %d: %w", row.Line, err)
		}
		res.Rows++
		if err := r.apply(ctx, row, &res); err != nil {
			return res, fmt.Errorf("line %d %s: %w", row.Line, row.Event, err)
		}
	}
	res.End = r.Clock.Now()
	log.Info("replay done",
		zap.Int("rows", res.Rows),
		zap.Int("fills", res.Fills),
		zap.Int("rejected", len(res.Rejected)),
		zap.Int("settlements", len(res.Settles)))
	return res, nil
}

func (r *Runner) apply(ctx context.Context, row EventRow, res *Result) error {
	e := r.Engine
	switch row.Event {
	case "PRICE":
		p, err := decimalArg("price", row.P2)
		if err != nil {
			return err
		}
		if row.P1 == "" {
			return fmt.Errorf("underlying is required")
		}
		if row.P3 == "" {
			r.Feed.SetPrice(row.P1, p, row.Time)
			return nil
		}
		vol, err := strconv.ParseFloat(row.P3, 64)
		if err != nil {
			return fmt.Errorf("bad vol %q: %w", row.P3, err)
		}
		r.Feed.Set(market.Quote{Underlying: row.P1, Price: p, Vol: vol, Time: row.Time})
		return nil

	case "ADVANCE":
		if r.Process == nil {
			return fmt.Errorf("no price process configured")
		}
		steps := int64(1)
		if row.P1 != "" {
			n, err := intArg("steps", row.P1)
			if err != nil {
				return err
			}
			steps = n
		}
		for i := int64(0); i < steps; i++ {
			r.Feed.Advance(r.Process, row.Time)
		}
		return nil

	case "DEPOSIT":
		amt, err := decimalArg("amount", row.P2)
		if err != nil {
			return err
		}
		_, err = e.Deposit(ctx, row.P1, amt)
		return r.outcome(row, res, err)

	case "OPTION":
		qty, err := intArg("qty", row.P3)
		if err != nil {
			return err
		}
		o := sim.OptionOrder{Account: row.P1, ContractID: row.P2, Quantity: qty}
		if row.P4 != "" {
			lim, err := decimalArg("limit premium", row.P4)
			if err != nil {
				return err
			}
			o.LimitPremium = &lim
		}
		_, err = e.PlaceOptionOrder(ctx, o)
		if err == nil {
			res.Fills++
		}
		return r.outcome(row, res, err)

	case "FUTURES":
		qty, err := intArg("qty", row.P3)
		if err != nil {
			return err
		}
		o := sim.FuturesOrder{Account: row.P1, ContractID: row.P2, Quantity: qty}
		if row.P4 != "" {
			p, err := decimalArg("price", row.P4)
			if err != nil {
				return err
			}
			o.Price = &p
		}
		_, err = e.PlaceFuturesOrder(ctx, o)
		if err == nil {
			res.Fills++
		}
		return r.outcome(row, res, err)

	case "EXERCISE":
		qty, err := intArg("qty", row.P3)
		if err != nil {
			return err
		}
		ex, err := e.ExerciseOption(ctx, row.P1, row.P2, qty)
		if err == nil {
			if ex.Declined {
				res.Declined++
			} else {
				res.Fills++
			}
		}
		return r.outcome(row, res, err)

	case "MTM":
		accounts := e.Accounts()
		if row.P1 != "" {
			accounts = []string{row.P1}
		}
		for _, id := range accounts {
			_, err := e.MarkToMarket(ctx, id)
			if err := r.outcome(row, res, err); err != nil {
				return err
			}
			if err == nil {
				res.Marks++
			}
		}
		return nil

	case "SETTLE":
		rep, err := e.DailySettlement(ctx)
		if err != nil {
			return err
		}
		res.Settles = append(res.Settles, rep)
		return nil

	case "EXPIRE":
		events, err := e.ExpireMarginCalls(ctx)
		res.Liquidations += len(events)
		return err

	case "":
		return nil
	}
	return fmt.Errorf("unknown event %q", row.Event)
}

// outcome records a refused order and keeps going; anything that is not a
// business rejection stops the replay.
func (r *Runner) outcome(row EventRow, res *Result, err error) error {
	if err == nil {
		return nil
	}
	code, ok := sim.Code(err)
	if !ok || code == sim.CodeInternal || code == sim.CodeCanceled {
		return err
	}
	res.Rejected = append(res.Rejected, Rejection{Line: row.Line, Event: row.Event, Code: code, Err: err})
	if r.Log != nil {
		r.Log.Debug("replay row rejected",
			zap.Int("line", row.Line),
			zap.String("event", row.Event),
			zap.String("code", string(code)),
			zap.Error(err))
	}
	return nil
}

func decimalArg(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("bad %s %q: %w", name, s, err)
	}
	return d, nil
}

func intArg(name, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", name, s, err)
	}
	return n, nil
}
