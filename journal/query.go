package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("journal record not found")

// GetFill returns a single fill by id.
func (j *SQLite) GetFill(fillID string) (FillRecord, error) {
	row := j.db.QueryRow(`
		SELECT fill_id, time, account, contract_id, kind, quantity, price, cash, realized
		FROM fills
		WHERE fill_id = ?`, fillID)

	rec, err := scanFill(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FillRecord{}, fmt.Errorf("fill %q: %w", fillID, ErrNotFound)
		}
		return FillRecord{}, err
	}
	return rec, nil
}

// ListFills returns an account's fills within [start, end), oldest first.
// An empty account lists every account.
func (j *SQLite) ListFills(account string, start, end time.Time) ([]FillRecord, error) {
	rows, err := j.db.Query(`
		SELECT fill_id, time, account, contract_id, kind, quantity, price, cash, realized
		FROM fills
		WHERE (? = '' OR account = ?) AND time >= ? AND time < ?
		ORDER BY time ASC, fill_id ASC`, account, account, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		rec, err := scanFill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMarginCalls returns call transitions for account (all when empty),
// oldest first.
func (j *SQLite) ListMarginCalls(account string) ([]MarginCallRecord, error) {
	rows, err := j.db.Query(`
		SELECT call_id, time, account, status, amount, maintenance, equity, deadline
		FROM margin_calls
		WHERE (? = '' OR account = ?)
		ORDER BY time ASC, rowid ASC`, account, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MarginCallRecord
	for rows.Next() {
		var rec MarginCallRecord
		if err := rows.Scan(
			&rec.CallID,
			&rec.Time,
			&rec.Account,
			&rec.Status,
			&rec.Amount,
			&rec.Maintenance,
			&rec.Equity,
			&rec.Deadline,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEquityBetween returns equity snapshots within [start, end).
func (j *SQLite) ListEquityBetween(start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT time, account, balance, variation, equity, margin_used, available
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, rowid ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var rec EquitySnapshot
		if err := rows.Scan(
			&rec.Time,
			&rec.Account,
			&rec.Balance,
			&rec.Variation,
			&rec.Equity,
			&rec.MarginUsed,
			&rec.Available,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RealizedByAccount sums realized P&L per account over all fills.
func (j *SQLite) RealizedByAccount() (map[string]decimal.Decimal, error) {
	rows, err := j.db.Query(`SELECT account, realized FROM fills`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			account string
			r       decimal.Decimal
		)
		if err := rows.Scan(&account, &r); err != nil {
			return nil, err
		}
		out[account] = out[account].Add(r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFill(s scanner) (FillRecord, error) {
	var (
		rec  FillRecord
		kind string
	)
	err := s.Scan(
		&rec.FillID,
		&rec.Time,
		&rec.Account,
		&rec.ContractID,
		&kind,
		&rec.Quantity,
		&rec.Price,
		&rec.Cash,
		&rec.Realized,
	)
	rec.Kind = FillKind(kind)
	return rec, err
}
