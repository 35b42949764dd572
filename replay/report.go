package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/derivatives/journal"
	"github.com/rustyeddy/derivatives/margin"
	"github.com/rustyeddy/derivatives/pkg/id"
	"github.com/rustyeddy/derivatives/sim"
)

// Report summarises a finished replay with every account's final state.
func Report(ctx context.Context, e *sim.Engine, script string, res Result, tally *Tally) (*journal.RunReport, error) {
	rep := &journal.RunReport{
		RunID:       id.NewPrefixed("run", time.Now()),
		Created:     time.Now(),
		Script:      script,
		Start:       res.Start,
		End:         res.End,
		Fills:       res.Fills,
		Settlements: len(res.Settles),
	}
	if tally != nil {
		rep.MarginCalls = tally.Calls()
		rep.Liquidated = tally.Liquidated()
	}

	for _, acct := range e.Accounts() {
		sum, err := e.PositionSummary(ctx, acct)
		if err != nil {
			return nil, fmt.Errorf("summarise %s: %w", acct, err)
		}
		rep.Accounts = append(rep.Accounts, journal.AccountSummary{
			Account:    acct,
			Equity:     sum.Margin.Equity,
			Variation:  sum.Margin.Variation,
			MarginUsed: sum.Margin.MarginUsed,
			Realized:   sum.Realized,
			State:      string(sum.Margin.State),
		})
		if sum.Margin.State == margin.StateLiquidated {
			rep.Notes = append(rep.Notes, fmt.Sprintf("%s was liquidated", acct))
		}
	}

	if n := len(res.Rejected); n > 0 {
		rep.Notes = append(rep.Notes, fmt.Sprintf("%d orders rejected", n))
	}
	for _, s := range res.Settles {
		for _, f := range s.Failed {
			rep.Notes = append(rep.Notes, fmt.Sprintf("settlement %s: %s failed (%s)",
				s.Time.Format(time.DateOnly), f.Account, f.Reason))
		}
	}
	return rep, nil
}
