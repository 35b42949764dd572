// Package checkpoint captures and restores engine state: the contract
// catalog, the position ledger and the margin ledger, each keyed by id.
package checkpoint

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/derivatives/ledger"
	"github.com/rustyeddy/derivatives/margin"
	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/pricing"
	"github.com/shopspring/decimal"
)

const Version = 1

var ErrUnsupportedVersion = errors.New("unsupported checkpoint version")

type Snapshot struct {
	Version   int                       `json:"version" yaml:"version"`
	TakenAt   time.Time                 `json:"taken_at" yaml:"taken_at"`
	Contracts map[string]Contract       `json:"contracts" yaml:"contracts"`
	Positions map[string]Positions      `json:"positions" yaml:"positions"`
	Accounts  map[string]margin.Account `json:"accounts" yaml:"accounts"`
}

func New(at time.Time) Snapshot {
	return Snapshot{
		Version:   Version,
		TakenAt:   at,
		Contracts: make(map[string]Contract),
		Positions: make(map[string]Positions),
		Accounts:  make(map[string]margin.Account),
	}
}

func (s Snapshot) Validate() error {
	if s.Version != Version {
		return fmt.Errorf("checkpoint version %d: %w", s.Version, ErrUnsupportedVersion)
	}
	for acct, p := range s.Positions {
		for _, op := range p.Options {
			if _, ok := s.Contracts[op.ContractID]; !ok {
				return fmt.Errorf("account %s holds unknown option %s: %w", acct, op.ContractID, market.ErrContractNotFound)
			}
		}
		for _, fp := range p.Futures {
			if _, ok := s.Contracts[fp.ContractID]; !ok {
				return fmt.Errorf("account %s holds unknown futures %s: %w", acct, fp.ContractID, market.ErrContractNotFound)
			}
		}
	}
	return nil
}

// AccountIDs lists the accounts in the snapshot, sorted.
func (s Snapshot) AccountIDs() []string {
	out := make([]string, 0, len(s.Accounts))
	for id := range s.Accounts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type Positions struct {
	Options  []ledger.OptionPosition  `json:"options,omitempty" yaml:"options,omitempty"`
	Futures  []ledger.FuturesPosition `json:"futures,omitempty" yaml:"futures,omitempty"`
	Realized decimal.Decimal          `json:"realized" yaml:"realized"`
}

type ContractType string

const (
	TypeOption  ContractType = "OPTION"
	TypeFutures ContractType = "FUTURES"
)

// Contract is one listed contract's terms plus its counters.
type Contract struct {
	Type         ContractType `json:"type" yaml:"type"`
	Underlying   string       `json:"underlying" yaml:"underlying"`
	Expiry       time.Time    `json:"expiry" yaml:"expiry"`
	Volume       int64        `json:"volume" yaml:"volume"`
	OpenInterest int64        `json:"open_interest" yaml:"open_interest"`

	Kind       pricing.Kind    `json:"kind,omitempty" yaml:"kind,omitempty"`
	Strike     decimal.Decimal `json:"strike,omitempty" yaml:"strike,omitempty"`
	Style      market.Style    `json:"style,omitempty" yaml:"style,omitempty"`
	Multiplier int64           `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`

	ContractSize      decimal.Decimal  `json:"contract_size,omitempty" yaml:"contract_size,omitempty"`
	TickSize          decimal.Decimal  `json:"tick_size,omitempty" yaml:"tick_size,omitempty"`
	MarginRequirement decimal.Decimal  `json:"margin_requirement,omitempty" yaml:"margin_requirement,omitempty"`
	MaintenanceMargin decimal.Decimal  `json:"maintenance_margin,omitempty" yaml:"maintenance_margin,omitempty"`
	DailyPriceLimit   decimal.Decimal  `json:"daily_price_limit,omitempty" yaml:"daily_price_limit,omitempty"`
	Settlement        *decimal.Decimal `json:"settlement,omitempty" yaml:"settlement,omitempty"`

	// SettlementSession and SettlementReference let a restored engine
	// refix the same session against the same limit band.
	SettlementSession   string           `json:"settlement_session,omitempty" yaml:"settlement_session,omitempty"`
	SettlementReference *decimal.Decimal `json:"settlement_reference,omitempty" yaml:"settlement_reference,omitempty"`
}

func FromOption(oc *market.OptionContract) Contract {
	return Contract{
		Type:         TypeOption,
		Underlying:   oc.Underlying,
		Expiry:       oc.Expiry,
		Volume:       oc.Volume(),
		OpenInterest: oc.OpenInterest(),
		Kind:         oc.Kind,
		Strike:       oc.Strike,
		Style:        oc.Style,
		Multiplier:   oc.Multiplier,
	}
}

func FromFutures(fc *market.FuturesContract) Contract {
	c := Contract{
		Type:              TypeFutures,
		Underlying:        fc.Underlying,
		Expiry:            fc.Expiry,
		Volume:            fc.Volume(),
		OpenInterest:      fc.OpenInterest(),
		ContractSize:      fc.ContractSize,
		TickSize:          fc.TickSize,
		MarginRequirement: fc.MarginRequirement,
		MaintenanceMargin: fc.MaintenanceMargin,
		DailyPriceLimit:   fc.DailyPriceLimit,
	}
	if f, ok := fc.LastFix(); ok {
		p := f.Price
		c.Settlement = &p
		c.SettlementSession = f.Session
		c.SettlementReference = f.Reference
	}
	return c
}

// CaptureCatalog records every listed contract.
func CaptureCatalog(cat *market.Catalog) map[string]Contract {
	out := make(map[string]Contract)
	for _, oc := range cat.Options() {
		out[oc.ID] = FromOption(oc)
	}
	for _, fc := range cat.FuturesContracts() {
		out[fc.ID] = FromFutures(fc)
	}
	return out
}

// RestoreCatalog lists every contract missing from cat and restores
// counters and settlement prices on all of them.
func RestoreCatalog(cat *market.Catalog, contracts map[string]Contract) error {
	ids := make([]string, 0, len(contracts))
	for id := range contracts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c := contracts[id]
		switch c.Type {
		case TypeOption:
			oc, err := cat.Option(id)
			if err != nil {
				oc = &market.OptionContract{
					ID:         id,
					Underlying: c.Underlying,
					Kind:       c.Kind,
					Strike:     c.Strike,
					Expiry:     c.Expiry,
					Style:      c.Style,
					Multiplier: c.Multiplier,
				}
				if err := cat.RegisterOption(oc); err != nil {
					return fmt.Errorf("restore option %s: %w", id, err)
				}
			}
			oc.SetCounters(c.Volume, c.OpenInterest)
		case TypeFutures:
			fc, err := cat.RestoreFutures(market.FuturesSpec{
				ID:                id,
				Underlying:        c.Underlying,
				ContractSize:      c.ContractSize,
				TickSize:          c.TickSize,
				MarginRequirement: c.MarginRequirement,
				MaintenanceMargin: c.MaintenanceMargin,
				Expiry:            c.Expiry,
				DailyPriceLimit:   c.DailyPriceLimit,
			})
			if err != nil {
				return fmt.Errorf("restore futures %s: %w", id, err)
			}
			fc.SetCounters(c.Volume, c.OpenInterest)
			if c.Settlement != nil {
				fc.RestoreFix(market.SettlementFix{
					Price:     *c.Settlement,
					Session:   c.SettlementSession,
					Reference: c.SettlementReference,
				})
			}
		default:
			return fmt.Errorf("restore %s: unknown contract type %q: %w", id, c.Type, market.ErrInvalidContract)
		}
	}
	return nil
}
