package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	fillsHeader       = []string{"fill_id", "time", "account", "contract_id", "kind", "quantity", "price", "cash", "realized"}
	settlementsHeader = []string{"time", "contract_id", "price", "accounts", "failed"}
	callsHeader       = []string{"call_id", "time", "account", "status", "amount", "maintenance", "equity", "deadline"}
	equityHeader      = []string{"time", "account", "balance", "variation", "equity", "margin_used", "available"}
)

// CSV writes one file per record kind into a directory.
type CSV struct {
	mu sync.Mutex

	fills, settlements, calls, equity *csv.Writer
	files                             []*os.File
}

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	j := &CSV{}
	open := func(name string, header []string) (*csv.Writer, error) {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		j.files = append(j.files, f)
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		w.Flush()
		return w, w.Error()
	}

	var err error
	if j.fills, err = open("fills.csv", fillsHeader); err != nil {
		return nil, errors.Join(err, j.closeFiles())
	}
	if j.settlements, err = open("settlements.csv", settlementsHeader); err != nil {
		return nil, errors.Join(err, j.closeFiles())
	}
	if j.calls, err = open("margin_calls.csv", callsHeader); err != nil {
		return nil, errors.Join(err, j.closeFiles())
	}
	if j.equity, err = open("equity.csv", equityHeader); err != nil {
		return nil, errors.Join(err, j.closeFiles())
	}
	return j, nil
}

func (j *CSV) write(w *csv.Writer, row []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSV) RecordFill(f FillRecord) error {
	return j.write(j.fills, []string{
		f.FillID,
		ts(f.Time),
		f.Account,
		f.ContractID,
		string(f.Kind),
		strconv.FormatInt(f.Quantity, 10),
		f.Price.String(),
		f.Cash.String(),
		f.Realized.String(),
	})
}

func (j *CSV) RecordSettlement(s SettlementRecord) error {
	return j.write(j.settlements, []string{
		ts(s.Time),
		s.ContractID,
		s.Price.String(),
		strconv.Itoa(s.Accounts),
		strconv.Itoa(s.Failed),
	})
}

func (j *CSV) RecordMarginCall(c MarginCallRecord) error {
	return j.write(j.calls, []string{
		c.CallID,
		ts(c.Time),
		c.Account,
		c.Status,
		c.Amount.String(),
		c.Maintenance.String(),
		c.Equity.String(),
		ts(c.Deadline),
	})
}

func (j *CSV) RecordEquity(e EquitySnapshot) error {
	return j.write(j.equity, []string{
		ts(e.Time),
		e.Account,
		e.Balance.String(),
		e.Variation.String(),
		e.Equity.String(),
		e.MarginUsed.String(),
		e.Available.String(),
	})
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, w := range []*csv.Writer{j.fills, j.settlements, j.calls, j.equity} {
		w.Flush()
		if err := w.Error(); err != nil {
			return errors.Join(err, j.closeFiles())
		}
	}
	return j.closeFiles()
}

func (j *CSV) closeFiles() error {
	var errs []error
	for _, f := range j.files {
		errs = append(errs, f.Close())
	}
	j.files = nil
	return errors.Join(errs...)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
