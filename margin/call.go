package margin

import (
	"time"

	"github.com/rustyeddy/derivatives/pkg/id"
	"github.com/shopspring/decimal"
)

type CallStatus string

const (
	CallPending    CallStatus = "PENDING"
	CallMet        CallStatus = "MET"
	CallLiquidated CallStatus = "LIQUIDATED"
)

// Call is a demand to restore equity to the initial requirement by Deadline.
type Call struct {
	ID          string          `json:"id" yaml:"id"`
	Account     string          `json:"account" yaml:"account"`
	Amount      decimal.Decimal `json:"amount" yaml:"amount"`
	Maintenance decimal.Decimal `json:"maintenance" yaml:"maintenance"`
	Equity      decimal.Decimal `json:"equity" yaml:"equity"`
	IssuedAt    time.Time       `json:"issued_at" yaml:"issued_at"`
	Deadline    time.Time       `json:"deadline" yaml:"deadline"`
	Status      CallStatus      `json:"status" yaml:"status"`
	ResolvedAt  time.Time       `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
}

type EventKind string

const (
	EventCallIssued EventKind = "CALL_ISSUED"
	EventCallMet    EventKind = "CALL_MET"
	EventLiquidated EventKind = "LIQUIDATED"
)

// Event is an observable transition of an account's call state.
type Event struct {
	Kind EventKind
	Call Call
}

// Requirement is what an account's open futures demand.
type Requirement struct {
	Initial     decimal.Decimal
	Maintenance decimal.Decimal
}

// PendingCall returns the outstanding call, if any.
func (a *Account) PendingCall() (Call, bool) {
	if i := a.pending(); i >= 0 {
		return a.Calls[i], true
	}
	return Call{}, false
}

func (a *Account) pending() int {
	for i := len(a.Calls) - 1; i >= 0; i-- {
		if a.Calls[i].Status == CallPending {
			return i
		}
	}
	return -1
}

// Assess runs the call state machine against req at now. At most one call
// is pending at a time: a pending call is met once equity covers
// maintenance, and liquidated once its deadline has passed.
func (a *Account) Assess(req Requirement, now time.Time, deadline time.Duration) []Event {
	if a.Liquidated() {
		return nil
	}
	equity := a.Equity()

	if i := a.pending(); i >= 0 {
		c := &a.Calls[i]
		switch {
		case equity.GreaterThanOrEqual(req.Maintenance):
			return []Event{a.meet(c, now)}
		case now.After(c.Deadline):
			return []Event{a.liquidate(c, now)}
		}
		return nil
	}

	if !equity.LessThan(req.Maintenance) {
		return nil
	}
	c := Call{
		ID:          id.NewPrefixed("mc", now),
		Account:     a.ID,
		Amount:      req.Initial.Sub(equity),
		Maintenance: req.Maintenance,
		Equity:      equity,
		IssuedAt:    now,
		Deadline:    now.Add(deadline),
		Status:      CallPending,
	}
	a.Calls = append(a.Calls, c)
	a.State = StateMarginCall
	return []Event{{Kind: EventCallIssued, Call: c}}
}

// Expire liquidates a pending call whose deadline passed.
func (a *Account) Expire(now time.Time) (Event, bool) {
	i := a.pending()
	if i < 0 || !now.After(a.Calls[i].Deadline) {
		return Event{}, false
	}
	return a.liquidate(&a.Calls[i], now), true
}

func (a *Account) meet(c *Call, now time.Time) Event {
	c.Status = CallMet
	c.ResolvedAt = now
	a.State = StateFunded
	return Event{Kind: EventCallMet, Call: *c}
}

func (a *Account) liquidate(c *Call, now time.Time) Event {
	c.Status = CallLiquidated
	c.ResolvedAt = now
	a.State = StateLiquidated
	return Event{Kind: EventLiquidated, Call: *c}
}
