package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/derivatives/journal"
	"github.com/rustyeddy/derivatives/logging"
	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/metrics"
	"github.com/rustyeddy/derivatives/pricing"
	"github.com/rustyeddy/derivatives/risk"
	"github.com/rustyeddy/derivatives/sim"
	"go.uber.org/zap"
)

// Runtime is an engine built from a Config together with the resources it
// owns. Close releases them.
type Runtime struct {
	Engine  *sim.Engine
	Catalog *market.Catalog
	Feed    *market.Store
	Journal journal.Journal
	Metrics *metrics.Metrics
	Log     *zap.Logger
	Start   time.Time

	// Futures lists the ids of the configured futures in config order.
	Futures []string
	// Chains maps an underlying to the ids of the options listed for it.
	Chains map[string][]string
}

// EngineConfig translates the engine section into a sim.Config.
func (c *Config) EngineConfig() (sim.Config, error) {
	if err := c.validateEngine(); err != nil {
		return sim.Config{}, err
	}
	deadline, _ := parseDuration(c.Engine.MarginCallDeadline)
	window, _ := parseDuration(c.Engine.ExerciseWindow)
	timeout, _ := parseDuration(c.Engine.SweepTimeout)
	return sim.Config{
		MarginCallDeadline: deadline,
		ExerciseWindow:     window,
		SweepTimeout:       timeout,
		SweepConcurrency:   c.Engine.SweepConcurrency,
		RiskFreeRate:       c.Engine.RiskFreeRate,
		ShortOptionMargin:  c.Engine.ShortOptionMargin,
	}, nil
}

func (c *Config) Policy() risk.Policy {
	return risk.Policy{
		MaxOrderQty:      c.Risk.MaxOrderQty,
		MaxPositionQty:   c.Risk.MaxPositionQty,
		MaxGrossNotional: c.Risk.MaxGrossNotional,
		MaxAbsDelta:      c.Risk.MaxAbsDelta,
		MaxMarginPct:     c.Risk.MaxMarginPct,
	}
}

func (c *Config) skew() market.Skew {
	if len(c.Skew) == 0 {
		return market.DefaultSkew()
	}
	return market.NewSkew(c.Skew)
}

// BuildMarket lists every configured contract and seeds a feed with the
// configured quotes at start.
func (c *Config) BuildMarket(now func() time.Time, start time.Time) (*market.Catalog, *market.Store, map[string][]string, []string, error) {
	cat := market.NewCatalog(market.WithCatalogClock(now), market.WithSkew(c.skew()))
	feed := market.NewStore()
	chains := make(map[string][]string)

	for _, u := range c.Underlyings {
		feed.Set(market.Quote{Underlying: u.Symbol, Price: u.Price, Vol: u.Vol, Time: start})
		if u.Chain == nil {
			continue
		}
		expiries := make([]time.Time, 0, len(u.Chain.Expiries))
		for _, s := range u.Chain.Expiries {
			exp, err := parseWhen(s, start)
			if err != nil {
				return nil, nil, nil, nil, fmt.Errorf("%s chain expiry: %w", u.Symbol, err)
			}
			expiries = append(expiries, exp)
		}
		style, err := parseStyle(u.Chain.Style)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		listed, err := cat.GenerateChain(u.Symbol, u.Price, expiries, u.Chain.band(),
			market.ChainSpec{Multiplier: u.Chain.Multiplier, Style: style})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		for _, oc := range listed {
			chains[u.Symbol] = append(chains[u.Symbol], oc.ID)
		}
	}

	futures := make([]string, 0, len(c.Futures))
	for _, f := range c.Futures {
		exp, err := parseWhen(f.Expiry, start)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("%s futures expiry: %w", f.Underlying, err)
		}
		id, err := cat.RegisterFutures(market.FuturesSpec{
			ID:                f.ID,
			Underlying:        f.Underlying,
			ContractSize:      f.ContractSize,
			TickSize:          f.TickSize,
			MarginRequirement: f.MarginRequirement,
			MaintenanceMargin: f.MaintenanceMargin,
			Expiry:            exp,
			DailyPriceLimit:   f.DailyPriceLimit,
		})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		futures = append(futures, id)
	}
	return cat, feed, chains, futures, nil
}

// OpenJournal opens the configured journal; "none" is a no-op journal.
func (c *Config) OpenJournal() (journal.Journal, error) {
	switch c.Journal.Type {
	case "csv":
		return journal.NewCSV(c.Journal.Dir)
	case "sqlite":
		return journal.NewSQLite(c.Journal.DBPath)
	case "", "none":
		return journal.Nop{}, nil
	}
	return nil, fmt.Errorf("unknown journal type %q", c.Journal.Type)
}

// Build assembles an engine from c using now as its clock and funds the
// configured accounts. Extra options are applied last.
func (c *Config) Build(ctx context.Context, now func() time.Time, extra ...sim.Option) (*Runtime, error) {
	if now == nil {
		now = time.Now
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	start, err := c.StartTime(now)
	if err != nil {
		return nil, err
	}
	ecfg, err := c.EngineConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(c.Logging)
	if err != nil {
		return nil, err
	}

	cat, feed, chains, futures, err := c.BuildMarket(now, start)
	if err != nil {
		return nil, err
	}
	j, err := c.OpenJournal()
	if err != nil {
		return nil, err
	}
	m := metrics.New(nil)

	opts := []sim.Option{
		sim.WithConfig(ecfg),
		sim.WithClock(now),
		sim.WithLogger(log),
		sim.WithJournal(j),
		sim.WithMetrics(m),
		sim.WithKernel(pricing.NewKernel(c.Kernel)),
		sim.WithPolicy(c.Policy()),
	}
	rt := &Runtime{
		Engine:  sim.NewEngine(cat, feed, append(opts, extra...)...),
		Catalog: cat,
		Feed:    feed,
		Journal: j,
		Metrics: m,
		Log:     log,
		Start:   start,
		Futures: futures,
		Chains:  chains,
	}

	for _, a := range c.Accounts {
		if !a.Deposit.IsPositive() {
			continue
		}
		if _, err := rt.Engine.Deposit(ctx, a.ID, a.Deposit); err != nil {
			return nil, errors.Join(fmt.Errorf("fund %s: %w", a.ID, err), rt.Close())
		}
	}

	log.Info("engine built",
		zap.Time("start", start),
		zap.Int("options", len(cat.Options())),
		zap.Int("futures", len(futures)),
		zap.Int("accounts", len(c.Accounts)),
		zap.String("journal", c.Journal.Type))
	return rt, nil
}

func (r *Runtime) Close() error {
	err := r.Journal.Close()
	_ = r.Log.Sync()
	return err
}
