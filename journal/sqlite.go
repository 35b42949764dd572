package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serialises anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordFill(f FillRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO fills
		(fill_id, time, account, contract_id, kind, quantity, price, cash, realized)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FillID, f.Time.UTC(), f.Account, f.ContractID, string(f.Kind), f.Quantity,
		f.Price.String(), f.Cash.String(), f.Realized.String(),
	)
	return err
}

func (j *SQLite) RecordSettlement(s SettlementRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO settlements
		(time, contract_id, price, accounts, failed)
		VALUES (?, ?, ?, ?, ?)`,
		s.Time.UTC(), s.ContractID, s.Price.String(), s.Accounts, s.Failed,
	)
	return err
}

func (j *SQLite) RecordMarginCall(c MarginCallRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO margin_calls
		(call_id, time, account, status, amount, maintenance, equity, deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CallID, c.Time.UTC(), c.Account, c.Status,
		c.Amount.String(), c.Maintenance.String(), c.Equity.String(), c.Deadline.UTC(),
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, account, balance, variation, equity, margin_used, available)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.Account, e.Balance.String(), e.Variation.String(),
		e.Equity.String(), e.MarginUsed.String(), e.Available.String(),
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
