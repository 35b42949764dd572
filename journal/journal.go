// Package journal records what the engine did: fills, settlements, margin
// call transitions and account equity.
package journal

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type FillKind string

const (
	FillOption   FillKind = "OPTION"
	FillFutures  FillKind = "FUTURES"
	FillExercise FillKind = "EXERCISE"
	FillExpiry   FillKind = "EXPIRY"
)

type FillRecord struct {
	FillID     string
	Time       time.Time
	Account    string
	ContractID string
	Kind       FillKind
	Quantity   int64
	Price      decimal.Decimal
	// Cash is the signed cash moved by the fill: premium, exercise or
	// expiry settlement.
	Cash     decimal.Decimal
	Realized decimal.Decimal
}

type SettlementRecord struct {
	Time       time.Time
	ContractID string
	Price      decimal.Decimal
	Accounts   int
	Failed     int
}

type MarginCallRecord struct {
	CallID      string
	Time        time.Time
	Account     string
	Status      string
	Amount      decimal.Decimal
	Maintenance decimal.Decimal
	Equity      decimal.Decimal
	Deadline    time.Time
}

type EquitySnapshot struct {
	Time       time.Time
	Account    string
	Balance    decimal.Decimal
	Variation  decimal.Decimal
	Equity     decimal.Decimal
	MarginUsed decimal.Decimal
	Available  decimal.Decimal
}

type Journal interface {
	RecordFill(FillRecord) error
	RecordSettlement(SettlementRecord) error
	RecordMarginCall(MarginCallRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordFill(FillRecord) error             { return nil }
func (Nop) RecordSettlement(SettlementRecord) error { return nil }
func (Nop) RecordMarginCall(MarginCallRecord) error { return nil }
func (Nop) RecordEquity(EquitySnapshot) error       { return nil }
func (Nop) Close() error                            { return nil }

// Memory keeps records in memory; safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	Fills       []FillRecord
	Settlements []SettlementRecord
	Calls       []MarginCallRecord
	Equity      []EquitySnapshot
	Closed      bool
}

func (m *Memory) RecordFill(r FillRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fills = append(m.Fills, r)
	return nil
}

func (m *Memory) RecordSettlement(r SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Settlements = append(m.Settlements, r)
	return nil
}

func (m *Memory) RecordMarginCall(r MarginCallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, r)
	return nil
}

func (m *Memory) RecordEquity(r EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Equity = append(m.Equity, r)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// CallsFor returns a copy of the margin call records for account.
func (m *Memory) CallsFor(account string) []MarginCallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MarginCallRecord
	for _, c := range m.Calls {
		if c.Account == account {
			out = append(out, c)
		}
	}
	return out
}

// FillCount is safe to call while the engine is running.
func (m *Memory) FillCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Fills)
}

// Multi fans every record out to several journals, stopping at the first error.
type Multi []Journal

func (m Multi) RecordFill(r FillRecord) error {
	for _, j := range m {
		if err := j.RecordFill(r); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) RecordSettlement(r SettlementRecord) error {
	for _, j := range m {
		if err := j.RecordSettlement(r); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) RecordMarginCall(r MarginCallRecord) error {
	for _, j := range m {
		if err := j.RecordMarginCall(r); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) RecordEquity(r EquitySnapshot) error {
	for _, j := range m {
		if err := j.RecordEquity(r); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Close() error {
	var first error
	for _, j := range m {
		if err := j.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
