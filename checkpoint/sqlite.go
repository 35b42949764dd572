package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/derivatives/margin"
)

var ErrNotFound = errors.New("checkpoint not found")

const storeSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	name TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	taken_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoint_entries (
	name TEXT NOT NULL,
	section TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (name, section, key)
);
`

const (
	sectionContract = "contract"
	sectionPosition = "position"
	sectionAccount  = "account"
)

// SQLiteStore keeps named checkpoints as key-value rows, one row per
// contract, account book and margin account.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save replaces the checkpoint called name in one transaction.
func (st *SQLiteStore) Save(ctx context.Context, name string, s Snapshot) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint_entries WHERE name = ?`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (name, version, taken_at) VALUES (?, ?, ?)`,
		name, s.Version, s.TakenAt.UTC()); err != nil {
		return err
	}

	put := func(section, key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", section, key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO checkpoint_entries (name, section, key, value) VALUES (?, ?, ?, ?)`,
			name, section, key, data)
		return err
	}
	for id, c := range s.Contracts {
		if err := put(sectionContract, id, c); err != nil {
			return err
		}
	}
	for id, p := range s.Positions {
		if err := put(sectionPosition, id, p); err != nil {
			return err
		}
	}
	for id, a := range s.Accounts {
		if err := put(sectionAccount, id, a); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (st *SQLiteStore) Load(ctx context.Context, name string) (Snapshot, error) {
	var (
		version int
		takenAt time.Time
	)
	err := st.db.QueryRowContext(ctx,
		`SELECT version, taken_at FROM checkpoints WHERE name = ?`, name).Scan(&version, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("checkpoint %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, err
	}

	s := New(takenAt)
	s.Version = version

	rows, err := st.db.QueryContext(ctx,
		`SELECT section, key, value FROM checkpoint_entries WHERE name = ?`, name)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			section, key string
			value        []byte
		)
		if err := rows.Scan(&section, &key, &value); err != nil {
			return Snapshot{}, err
		}
		switch section {
		case sectionContract:
			var c Contract
			err = json.Unmarshal(value, &c)
			s.Contracts[key] = c
		case sectionPosition:
			var p Positions
			err = json.Unmarshal(value, &p)
			s.Positions[key] = p
		case sectionAccount:
			var a margin.Account
			err = json.Unmarshal(value, &a)
			s.Accounts[key] = a
		default:
			err = fmt.Errorf("unknown section %q", section)
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("checkpoint %q %s %s: %w", name, section, key, err)
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// List returns checkpoint names, newest first.
func (st *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := st.db.QueryContext(ctx, `SELECT name FROM checkpoints ORDER BY taken_at DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (st *SQLiteStore) Close() error { return st.db.Close() }
