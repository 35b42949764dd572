// Package margin holds margin accounts: cash, variation margin, reserved
// initial margin and the margin-call state machine.
package margin

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrAccountLiquidated  = errors.New("account liquidated")
	ErrInvalidAmount      = errors.New("invalid amount")
)

type State string

const (
	StateFunded     State = "FUNDED"
	StateMarginCall State = "MARGIN_CALL"
	StateLiquidated State = "LIQUIDATED"
)

// Account is one party's margin ledger. Equity is Balance plus cumulative
// Variation; Available is Equity less reserved margin and may go negative
// between settlements. Account does no locking of its own.
type Account struct {
	ID         string          `json:"id" yaml:"id"`
	Balance    decimal.Decimal `json:"balance" yaml:"balance"`
	Variation  decimal.Decimal `json:"variation" yaml:"variation"`
	MarginUsed decimal.Decimal `json:"margin_used" yaml:"margin_used"`
	State      State           `json:"state" yaml:"state"`
	Calls      []Call          `json:"calls,omitempty" yaml:"calls,omitempty"`
	CreatedAt  time.Time       `json:"created_at" yaml:"created_at"`
}

func NewAccount(id string, now time.Time) *Account {
	return &Account{
		ID:         id,
		Balance:    decimal.Zero,
		Variation:  decimal.Zero,
		MarginUsed: decimal.Zero,
		State:      StateFunded,
		CreatedAt:  now,
	}
}

func (a *Account) Equity() decimal.Decimal { return a.Balance.Add(a.Variation) }

func (a *Account) Available() decimal.Decimal { return a.Equity().Sub(a.MarginUsed) }

func (a *Account) Liquidated() bool { return a.State == StateLiquidated }

// Deposit adds cash. Deposits are accepted even after liquidation.
func (a *Account) Deposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("deposit %s into %s: %w", amount, a.ID, ErrInvalidAmount)
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

// Reserve checks that amount is available and reserves it in one step.
func (a *Account) Reserve(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("reserve %s on %s: %w", amount, a.ID, ErrInvalidAmount)
	}
	if a.Liquidated() {
		return fmt.Errorf("reserve on %s: %w", a.ID, ErrAccountLiquidated)
	}
	if avail := a.Available(); avail.LessThan(amount) {
		return fmt.Errorf("reserve %s on %s, available %s: %w", amount.StringFixed(2), a.ID, avail.StringFixed(2), ErrInsufficientMargin)
	}
	a.MarginUsed = a.MarginUsed.Add(amount)
	return nil
}

// Release returns reserved margin, never below zero.
func (a *Account) Release(amount decimal.Decimal) {
	a.MarginUsed = a.MarginUsed.Sub(amount.Abs())
	if a.MarginUsed.IsNegative() {
		a.MarginUsed = decimal.Zero
	}
}

// Spend debits cash that must be covered by available margin.
func (a *Account) Spend(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("spend %s on %s: %w", amount, a.ID, ErrInvalidAmount)
	}
	if a.Liquidated() {
		return fmt.Errorf("spend on %s: %w", a.ID, ErrAccountLiquidated)
	}
	if avail := a.Available(); avail.LessThan(amount) {
		return fmt.Errorf("spend %s on %s, available %s: %w", amount.StringFixed(2), a.ID, avail.StringFixed(2), ErrInsufficientMargin)
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}

// Credit moves cash by a signed amount without checks.
func (a *Account) Credit(amount decimal.Decimal) {
	a.Balance = a.Balance.Add(amount)
}

func (a *Account) ApplyVariation(v decimal.Decimal) {
	a.Variation = a.Variation.Add(v)
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Calls = append([]Call(nil), a.Calls...)
	return &cp
}
