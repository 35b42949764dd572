package market

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/derivatives/pricing"
	"github.com/shopspring/decimal"
)

var (
	ErrContractNotFound = errors.New("contract not found")
	ErrExpiredContract  = errors.New("contract expired")
	ErrInvalidContract  = errors.New("invalid contract")
)

type Style string

const (
	European Style = "EUROPEAN"
	American Style = "AMERICAN"
)

// Contract is what every listed instrument has in common.
type Contract interface {
	ContractID() string
	UnderlyingSymbol() string
	ExpiresAt() time.Time
}

// counters are the only mutable part of a listed contract.
type counters struct {
	volume       atomic.Int64
	openInterest atomic.Int64
}

func (c *counters) Volume() int64       { return c.volume.Load() }
func (c *counters) OpenInterest() int64 { return c.openInterest.Load() }

// AddVolume records traded quantity. Volume only grows between resets.
func (c *counters) AddVolume(qty int64) {
	if qty < 0 {
		qty = -qty
	}
	c.volume.Add(qty)
}

// AddOpenInterest moves open interest by delta (negative on closes).
func (c *counters) AddOpenInterest(delta int64) {
	c.openInterest.Add(delta)
}

func (c *counters) ResetDailyVolume() { c.volume.Store(0) }

// SetCounters overwrites both counters, used when restoring a checkpoint.
func (c *counters) SetCounters(volume, openInterest int64) {
	c.volume.Store(volume)
	c.openInterest.Store(openInterest)
}

type OptionContract struct {
	ID         string
	Underlying string
	Kind       pricing.Kind
	Strike     decimal.Decimal
	Expiry     time.Time
	Style      Style
	Multiplier int64

	counters
}

func (c *OptionContract) ContractID() string       { return c.ID }
func (c *OptionContract) UnderlyingSymbol() string { return c.Underlying }
func (c *OptionContract) ExpiresAt() time.Time     { return c.Expiry }

func (c *OptionContract) validate() error {
	switch {
	case c.ID == "":
		return fmt.Errorf("option id is required: %w", ErrInvalidContract)
	case c.Underlying == "":
		return fmt.Errorf("option %s: underlying is required: %w", c.ID, ErrInvalidContract)
	case !c.Kind.Valid():
		return fmt.Errorf("option %s: unknown kind %q: %w", c.ID, c.Kind, ErrInvalidContract)
	case !c.Strike.IsPositive():
		return fmt.Errorf("option %s: strike must be positive: %w", c.ID, ErrInvalidContract)
	case c.Style != European && c.Style != American:
		return fmt.Errorf("option %s: unknown style %q: %w", c.ID, c.Style, ErrInvalidContract)
	case c.Multiplier < 1:
		return fmt.Errorf("option %s: multiplier must be >= 1: %w", c.ID, ErrInvalidContract)
	}
	return nil
}

// IsExpired reports whether now is at or past expiry.
func (c *OptionContract) IsExpired(now time.Time) bool {
	return !now.Before(c.Expiry)
}

// TimeToExpiry is the year fraction left, zero once expired.
func (c *OptionContract) TimeToExpiry(now time.Time) float64 {
	return pricing.YearFraction(c.Expiry.Sub(now).Seconds())
}

func (c *OptionContract) Intrinsic(spot decimal.Decimal) decimal.Decimal {
	var v decimal.Decimal
	if c.Kind == pricing.Call {
		v = spot.Sub(c.Strike)
	} else {
		v = c.Strike.Sub(spot)
	}
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// OutOfTheMoney treats spot == strike as out of the money.
func (c *OptionContract) OutOfTheMoney(spot decimal.Decimal) bool {
	return !c.Intrinsic(spot).IsPositive()
}

type FuturesContract struct {
	ID                string
	Underlying        string
	ContractSize      decimal.Decimal
	TickSize          decimal.Decimal
	MarginRequirement decimal.Decimal
	MaintenanceMargin decimal.Decimal
	Expiry            time.Time
	// DailyPriceLimit is the absolute move allowed around the previous
	// settlement price. Zero disables the limit.
	DailyPriceLimit decimal.Decimal

	counters
	settlement atomic.Pointer[SettlementFix]
}

func (c *FuturesContract) ContractID() string       { return c.ID }
func (c *FuturesContract) UnderlyingSymbol() string { return c.Underlying }
func (c *FuturesContract) ExpiresAt() time.Time     { return c.Expiry }

func (c *FuturesContract) IsExpired(now time.Time) bool {
	return !now.Before(c.Expiry)
}

// RoundToTick rounds a price to the nearest tick.
func (c *FuturesContract) RoundToTick(p decimal.Decimal) decimal.Decimal {
	if !c.TickSize.IsPositive() {
		return p
	}
	return p.Div(c.TickSize).Round(0).Mul(c.TickSize)
}

// SettlementFix is a fixed settlement price, the session it was fixed in
// and the price its daily band was centred on. Reference is nil when the
// fix was unclamped.
type SettlementFix struct {
	Price     decimal.Decimal
	Session   string
	Reference *decimal.Decimal
}

// SessionOf names the settlement session t falls in: its UTC date.
func SessionOf(t time.Time) string { return t.UTC().Format(time.DateOnly) }

// Settlement returns the last fixed settlement price.
func (c *FuturesContract) Settlement() (decimal.Decimal, bool) {
	f := c.settlement.Load()
	if f == nil {
		return decimal.Zero, false
	}
	return f.Price, true
}

// LastFix returns the last settlement fix with its session and reference.
func (c *FuturesContract) LastFix() (SettlementFix, bool) {
	f := c.settlement.Load()
	if f == nil {
		return SettlementFix{}, false
	}
	return *f, true
}

// SetSettlement records p as the settlement price outside any session, so
// the next fix treats it as the previous session's price.
func (c *FuturesContract) SetSettlement(p decimal.Decimal) {
	c.settlement.Store(&SettlementFix{Price: p})
}

// RestoreFix puts back a fix taken from LastFix.
func (c *FuturesContract) RestoreFix(f SettlementFix) {
	c.settlement.Store(&f)
}

// FixSettlement fixes the settlement price for session from p. The band is
// centred on the previous session's settlement; fixing the same session
// again reuses that centre, so a rerun with an unchanged p fixes the same
// price.
func (c *FuturesContract) FixSettlement(p decimal.Decimal, session string) decimal.Decimal {
	for {
		old := c.settlement.Load()
		next := &SettlementFix{Price: p, Session: session}
		switch {
		case old == nil:
		case old.Session == session && session != "":
			next.Reference = old.Reference
		default:
			ref := old.Price
			next.Reference = &ref
		}
		if next.Reference != nil && c.DailyPriceLimit.IsPositive() {
			next.Price = clamp(p, *next.Reference, c.DailyPriceLimit)
		}
		if c.settlement.CompareAndSwap(old, next) {
			return next.Price
		}
	}
}

// WithinLimit reports whether p is inside the daily band around the last
// settlement. Without a limit or a previous settlement every price is.
func (c *FuturesContract) WithinLimit(p decimal.Decimal) bool {
	ref, ok := c.Settlement()
	if !ok || !c.DailyPriceLimit.IsPositive() {
		return true
	}
	return p.Sub(ref).Abs().LessThanOrEqual(c.DailyPriceLimit)
}

// ClampToLimit pins p to the daily band around the last settlement.
func (c *FuturesContract) ClampToLimit(p decimal.Decimal) decimal.Decimal {
	ref, ok := c.Settlement()
	if !ok || !c.DailyPriceLimit.IsPositive() {
		return p
	}
	return clamp(p, ref, c.DailyPriceLimit)
}

func clamp(p, ref, limit decimal.Decimal) decimal.Decimal {
	lo, hi := ref.Sub(limit), ref.Add(limit)
	if p.LessThan(lo) {
		return lo
	}
	if p.GreaterThan(hi) {
		return hi
	}
	return p
}

// FuturesSpec describes a futures listing before registration.
type FuturesSpec struct {
	ID                string
	Underlying        string
	ContractSize      decimal.Decimal
	TickSize          decimal.Decimal
	MarginRequirement decimal.Decimal
	MaintenanceMargin decimal.Decimal
	Expiry            time.Time
	DailyPriceLimit   decimal.Decimal
}

func (s FuturesSpec) validate(now time.Time) error {
	if err := s.validateTerms(); err != nil {
		return err
	}
	if !now.Before(s.Expiry) {
		return fmt.Errorf("futures %s expiring %s: %w", s.Underlying, s.Expiry.Format(time.DateOnly), ErrExpiredContract)
	}
	return nil
}

func (s FuturesSpec) validateTerms() error {
	switch {
	case s.Underlying == "":
		return fmt.Errorf("futures: underlying is required: %w", ErrInvalidContract)
	case !s.ContractSize.IsPositive():
		return fmt.Errorf("futures %s: contract size must be positive: %w", s.Underlying, ErrInvalidContract)
	case !s.TickSize.IsPositive():
		return fmt.Errorf("futures %s: tick size must be positive: %w", s.Underlying, ErrInvalidContract)
	case !s.MarginRequirement.IsPositive():
		return fmt.Errorf("futures %s: margin requirement must be positive: %w", s.Underlying, ErrInvalidContract)
	case s.MaintenanceMargin.IsNegative():
		return fmt.Errorf("futures %s: maintenance margin is negative: %w", s.Underlying, ErrInvalidContract)
	case s.MaintenanceMargin.GreaterThan(s.MarginRequirement):
		return fmt.Errorf("futures %s: maintenance margin exceeds margin requirement: %w", s.Underlying, ErrInvalidContract)
	case s.DailyPriceLimit.IsNegative():
		return fmt.Errorf("futures %s: daily price limit is negative: %w", s.Underlying, ErrInvalidContract)
	}
	return nil
}

// Spec returns the listing terms of c.
func (c *FuturesContract) Spec() FuturesSpec {
	return FuturesSpec{
		ID:                c.ID,
		Underlying:        c.Underlying,
		ContractSize:      c.ContractSize,
		TickSize:          c.TickSize,
		MarginRequirement: c.MarginRequirement,
		MaintenanceMargin: c.MaintenanceMargin,
		Expiry:            c.Expiry,
		DailyPriceLimit:   c.DailyPriceLimit,
	}
}
