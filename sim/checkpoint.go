package sim

import (
	"context"
	"sort"

	"github.com/rustyeddy/derivatives/checkpoint"
	"github.com/rustyeddy/derivatives/margin"
	"go.uber.org/zap"
)

// Checkpoint captures the catalog and every account. Each account is copied
// under its own lock, one at a time.
func (e *Engine) Checkpoint(ctx context.Context) (checkpoint.Snapshot, error) {
	s := checkpoint.New(e.now())
	s.Contracts = checkpoint.CaptureCatalog(e.catalog)
	for _, a := range e.snapshot() {
		if err := a.acquire(ctx); err != nil {
			return checkpoint.Snapshot{}, err
		}
		if a.retired {
			a.release()
			continue
		}
		id := a.acct.ID
		s.Accounts[id] = *a.acct.Clone()
		s.Positions[id] = checkpoint.Positions{
			Options:  a.book.Options(),
			Futures:  a.book.FuturesPositions(),
			Realized: a.book.Realized(),
		}
		a.release()
	}
	return s, nil
}

// Restore replaces every account with the snapshot's and lists any
// contract the catalog is missing. Accounts not in the snapshot are dropped.
// Restore waits for every operation in flight on the current accounts; one
// that was waiting on a replaced account moves on to its replacement.
func (e *Engine) Restore(ctx context.Context, s checkpoint.Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkpoint.RestoreCatalog(e.catalog, s.Contracts); err != nil {
		return err
	}

	ids := s.AccountIDs()
	for id := range s.Positions {
		if _, ok := s.Accounts[id]; !ok {
			ids = append(ids, id)
		}
	}

	accounts := make(map[string]*account, len(ids))
	for _, id := range ids {
		a := e.newAccount(id, s.TakenAt)
		if acct, ok := s.Accounts[id]; ok {
			cp := acct.Clone()
			cp.ID = id
			if cp.State == "" {
				cp.State = margin.StateFunded
			}
			a.acct = cp
		}
		p := s.Positions[id]
		a.book.Load(p.Options, p.Futures, p.Realized)
		accounts[id] = a
	}

	// nothing takes e.mu while holding an account
	e.mu.Lock()
	old := make([]*account, 0, len(e.accounts))
	for _, a := range e.accounts {
		old = append(old, a)
	}
	sort.Slice(old, func(i, j int) bool { return old[i].acct.ID < old[j].acct.ID })
	for i, a := range old {
		if err := a.acquire(ctx); err != nil {
			for _, held := range old[:i] {
				held.release()
			}
			e.mu.Unlock()
			return err
		}
	}
	e.accounts = accounts
	e.mu.Unlock()
	for _, a := range old {
		a.retired = true
		a.release()
	}

	e.metrics.SetAccounts(len(accounts))
	e.log.Info("engine restored",
		zap.Time("taken_at", s.TakenAt),
		zap.Int("accounts", len(accounts)),
		zap.Int("contracts", len(s.Contracts)))
	return nil
}
