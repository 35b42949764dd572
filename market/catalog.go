package market

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/derivatives/pricing"
	"github.com/shopspring/decimal"
)

// Catalog is the registry of listed contracts. Contracts are added at
// initialisation and read concurrently afterwards; only their counters and
// settlement prices change.
type Catalog struct {
	mu      sync.RWMutex
	options map[string]*OptionContract
	futures map[string]*FuturesContract

	now  func() time.Time
	skew Skew
}

type CatalogOption func(*Catalog)

func WithCatalogClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) { c.now = now }
}

func WithSkew(s Skew) CatalogOption {
	return func(c *Catalog) { c.skew = s }
}

func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		options: make(map[string]*OptionContract),
		futures: make(map[string]*FuturesContract),
		now:     time.Now,
		skew:    DefaultSkew(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Catalog) Skew() Skew { return c.skew }

// ChainSpec carries the per-listing terms shared by every contract in a chain.
type ChainSpec struct {
	Multiplier int64
	Style      Style
}

// GenerateChain lists a call and a put for every strike in band and every
// expiry. Re-listing an existing id returns the contract already listed.
func (c *Catalog) GenerateChain(underlying string, spot decimal.Decimal, expiries []time.Time, band StrikeBand, spec ChainSpec) ([]*OptionContract, error) {
	if underlying == "" {
		return nil, fmt.Errorf("generate chain: underlying is required: %w", ErrInvalidContract)
	}
	if !spot.IsPositive() {
		return nil, fmt.Errorf("generate chain %s: spot must be positive: %w", underlying, ErrInvalidContract)
	}
	if spec.Multiplier == 0 {
		spec.Multiplier = 100
	}
	if spec.Style == "" {
		spec.Style = European
	}

	strikes, err := band.Strikes(spot)
	if err != nil {
		return nil, fmt.Errorf("generate chain %s: %w", underlying, err)
	}

	now := c.now()
	for _, exp := range expiries {
		if !now.Before(exp) {
			return nil, fmt.Errorf("generate chain %s expiring %s: %w", underlying, exp.Format(time.DateOnly), ErrExpiredContract)
		}
	}

	exps := append([]time.Time(nil), expiries...)
	sort.Slice(exps, func(i, j int) bool { return exps[i].Before(exps[j]) })

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*OptionContract, 0, len(exps)*len(strikes)*2)
	for _, exp := range exps {
		for _, k := range strikes {
			for _, kind := range []pricing.Kind{pricing.Call, pricing.Put} {
				id := OptionID(underlying, exp, k, kind)
				if existing, ok := c.options[id]; ok {
					out = append(out, existing)
					continue
				}
				oc := &OptionContract{
					ID:         id,
					Underlying: underlying,
					Kind:       kind,
					Strike:     k,
					Expiry:     exp,
					Style:      spec.Style,
					Multiplier: spec.Multiplier,
				}
				if err := oc.validate(); err != nil {
					return nil, err
				}
				c.options[id] = oc
				out = append(out, oc)
			}
		}
	}
	return out, nil
}

// RegisterOption lists a single, fully specified option.
func (c *Catalog) RegisterOption(oc *OptionContract) error {
	if err := oc.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.options[oc.ID]; ok {
		return fmt.Errorf("option %s already listed: %w", oc.ID, ErrInvalidContract)
	}
	c.options[oc.ID] = oc
	return nil
}

// RegisterFutures validates and lists a futures contract, returning its id.
func (c *Catalog) RegisterFutures(spec FuturesSpec) (string, error) {
	if err := spec.validate(c.now()); err != nil {
		return "", err
	}
	id := spec.ID
	if id == "" {
		id = FuturesID(spec.Underlying, spec.Expiry)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.futures[id]; ok {
		return "", fmt.Errorf("futures %s already listed: %w", id, ErrInvalidContract)
	}
	c.futures[id] = &FuturesContract{
		ID:                id,
		Underlying:        spec.Underlying,
		ContractSize:      spec.ContractSize,
		TickSize:          spec.TickSize,
		MarginRequirement: spec.MarginRequirement,
		MaintenanceMargin: spec.MaintenanceMargin,
		Expiry:            spec.Expiry,
		DailyPriceLimit:   spec.DailyPriceLimit,
	}
	return id, nil
}

// RestoreFutures lists a futures contract from a checkpoint. Unlike
// RegisterFutures it accepts contracts that have since expired.
func (c *Catalog) RestoreFutures(spec FuturesSpec) (*FuturesContract, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("restore futures: id is required: %w", ErrInvalidContract)
	}
	if err := spec.validateTerms(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if fc, ok := c.futures[spec.ID]; ok {
		return fc, nil
	}
	fc := &FuturesContract{
		ID:                spec.ID,
		Underlying:        spec.Underlying,
		ContractSize:      spec.ContractSize,
		TickSize:          spec.TickSize,
		MarginRequirement: spec.MarginRequirement,
		MaintenanceMargin: spec.MaintenanceMargin,
		Expiry:            spec.Expiry,
		DailyPriceLimit:   spec.DailyPriceLimit,
	}
	c.futures[spec.ID] = fc
	return fc, nil
}

func (c *Catalog) Option(id string) (*OptionContract, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	oc, ok := c.options[id]
	if !ok {
		return nil, fmt.Errorf("option %q: %w", id, ErrContractNotFound)
	}
	return oc, nil
}

func (c *Catalog) Futures(id string) (*FuturesContract, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fc, ok := c.futures[id]
	if !ok {
		return nil, fmt.Errorf("futures %q: %w", id, ErrContractNotFound)
	}
	return fc, nil
}

// Contract resolves any listed id.
func (c *Catalog) Contract(id string) (Contract, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if oc, ok := c.options[id]; ok {
		return oc, nil
	}
	if fc, ok := c.futures[id]; ok {
		return fc, nil
	}
	return nil, fmt.Errorf("contract %q: %w", id, ErrContractNotFound)
}

// Options lists options sorted by id.
func (c *Catalog) Options() []*OptionContract {
	c.mu.RLock()
	out := make([]*OptionContract, 0, len(c.options))
	for _, oc := range c.options {
		out = append(out, oc)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) OptionsFor(underlying string) []*OptionContract {
	var out []*OptionContract
	for _, oc := range c.Options() {
		if oc.Underlying == underlying {
			out = append(out, oc)
		}
	}
	return out
}

// FuturesContracts lists futures sorted by id.
func (c *Catalog) FuturesContracts() []*FuturesContract {
	c.mu.RLock()
	out := make([]*FuturesContract, 0, len(c.futures))
	for _, fc := range c.futures {
		out = append(out, fc)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Quote values an option at spot using the skew-adjusted volatility.
func (c *Catalog) Quote(k *pricing.Kernel, oc *OptionContract, spot decimal.Decimal, baseVol, rate float64, now time.Time) (pricing.Result, error) {
	return k.PriceAndGreeks(pricing.Inputs{
		Spot:   spot.InexactFloat64(),
		Strike: oc.Strike.InexactFloat64(),
		T:      oc.TimeToExpiry(now),
		Rate:   rate,
		Vol:    c.skew.EffectiveVol(oc, spot, baseVol),
		Kind:   oc.Kind,
	})
}

// OptionID renders UND-YYYYMMDD-STRIKE-C|P.
func OptionID(underlying string, expiry time.Time, strike decimal.Decimal, kind pricing.Kind) string {
	return fmt.Sprintf("%s-%s-%s-%s",
		underlying, expiry.UTC().Format("20060102"), strike.String(), string(kind)[:1])
}

// FuturesID renders UND-FUT-YYYYMM.
func FuturesID(underlying string, expiry time.Time) string {
	return fmt.Sprintf("%s-FUT-%s", underlying, expiry.UTC().Format("200601"))
}
