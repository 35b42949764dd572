package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rustyeddy/derivatives/logging"
	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/pricing"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete simulation configuration
type Config struct {
	Engine      EngineConfig        `json:"engine" yaml:"engine"`
	Kernel      pricing.Config      `json:"kernel" yaml:"kernel"`
	Skew        []market.SkewBucket `json:"skew,omitempty" yaml:"skew,omitempty"`
	Underlyings []UnderlyingConfig  `json:"underlyings" yaml:"underlyings"`
	Futures     []FuturesConfig     `json:"futures,omitempty" yaml:"futures,omitempty"`
	Accounts    []AccountConfig     `json:"accounts,omitempty" yaml:"accounts,omitempty"`
	Risk        RiskConfig          `json:"risk" yaml:"risk"`
	Journal     JournalConfig       `json:"journal" yaml:"journal"`
	Logging     logging.Config      `json:"logging" yaml:"logging"`
	Checkpoint  CheckpointConfig    `json:"checkpoint" yaml:"checkpoint"`
	Metrics     MetricsConfig       `json:"metrics" yaml:"metrics"`
}

// EngineConfig holds the engine tunables. Durations are strings such as
// "1h", "30m" or "5s".
type EngineConfig struct {
	// Start is the RFC3339 simulation start; empty means the wall clock.
	Start              string  `json:"start,omitempty" yaml:"start,omitempty"`
	MarginCallDeadline string  `json:"margin_call_deadline" yaml:"margin_call_deadline"`
	ExerciseWindow     string  `json:"exercise_window" yaml:"exercise_window"`
	SweepTimeout       string  `json:"sweep_timeout" yaml:"sweep_timeout"`
	SweepConcurrency   int     `json:"sweep_concurrency" yaml:"sweep_concurrency"`
	RiskFreeRate       float64 `json:"risk_free_rate" yaml:"risk_free_rate"`
	// ShortOptionMargin multiplies the premium received on a short option
	// into the margin it holds. Zero takes the engine default.
	ShortOptionMargin float64 `json:"short_option_margin,omitempty" yaml:"short_option_margin,omitempty"`
}

// UnderlyingConfig seeds the feed with a spot and volatility and optionally
// lists an option chain around that spot.
type UnderlyingConfig struct {
	Symbol string          `json:"symbol" yaml:"symbol"`
	Price  decimal.Decimal `json:"price" yaml:"price"`
	Vol    float64         `json:"vol" yaml:"vol"`
	Chain  *ChainConfig    `json:"chain,omitempty" yaml:"chain,omitempty"`
}

type ChainConfig struct {
	// Expiries are offsets from the start ("720h") or dates ("2025-06-20").
	Expiries   []string          `json:"expiries" yaml:"expiries"`
	Band       market.StrikeBand `json:"band" yaml:"band"`
	Multiplier int64             `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	Style      string            `json:"style,omitempty" yaml:"style,omitempty"` // european or american
}

type FuturesConfig struct {
	ID                string          `json:"id,omitempty" yaml:"id,omitempty"`
	Underlying        string          `json:"underlying" yaml:"underlying"`
	ContractSize      decimal.Decimal `json:"contract_size" yaml:"contract_size"`
	TickSize          decimal.Decimal `json:"tick_size" yaml:"tick_size"`
	MarginRequirement decimal.Decimal `json:"margin_requirement" yaml:"margin_requirement"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin" yaml:"maintenance_margin"`
	Expiry            string          `json:"expiry" yaml:"expiry"`
	DailyPriceLimit   decimal.Decimal `json:"daily_price_limit" yaml:"daily_price_limit"`
}

// AccountConfig funds an account before the run starts.
type AccountConfig struct {
	ID      string          `json:"id" yaml:"id"`
	Deposit decimal.Decimal `json:"deposit" yaml:"deposit"`
}

// RiskConfig contains the pre-trade limits; zero disables a limit.
type RiskConfig struct {
	MaxOrderQty      int64           `json:"max_order_qty,omitempty" yaml:"max_order_qty,omitempty"`
	MaxPositionQty   int64           `json:"max_position_qty,omitempty" yaml:"max_position_qty,omitempty"`
	MaxGrossNotional decimal.Decimal `json:"max_gross_notional,omitempty" yaml:"max_gross_notional,omitempty"`
	MaxAbsDelta      float64         `json:"max_abs_delta,omitempty" yaml:"max_abs_delta,omitempty"`
	MaxMarginPct     float64         `json:"max_margin_pct,omitempty" yaml:"max_margin_pct,omitempty"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type   string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"`
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// CheckpointConfig names where a run saves its final state. A path ending
// in .db is a SQLite store keyed by Name; anything else is a YAML or JSON file.
type CheckpointConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // e.g. ":9102"
}

// parseDuration converts a duration string; empty means zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// parseWhen reads an offset from start or an absolute date or timestamp.
func parseWhen(s string, start time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return start.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither a duration nor a date", s)
	}
	return t, nil
}

func parseStyle(s string) (market.Style, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "european":
		return market.European, nil
	case "american":
		return market.American, nil
	}
	return "", fmt.Errorf("style %q must be european or american", s)
}

// LoadFromFile loads configuration from a file (JSON or YAML)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	start, err := c.StartTime(time.Now)
	if err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if c.Kernel.MinTick < 0 || c.Kernel.VolFloor < 0 {
		return fmt.Errorf("kernel.min_tick and kernel.vol_floor must not be negative")
	}
	for i, b := range c.Skew {
		if b.MaxDistance <= 0 || b.Multiplier <= 0 {
			return fmt.Errorf("skew[%d] max_distance and multiplier must be positive", i)
		}
	}

	if len(c.Underlyings) == 0 {
		return fmt.Errorf("at least one underlying is required")
	}
	symbols := make(map[string]bool, len(c.Underlyings))
	for i, u := range c.Underlyings {
		if err := u.validate(start); err != nil {
			return fmt.Errorf("underlyings[%d]: %w", i, err)
		}
		if symbols[u.Symbol] {
			return fmt.Errorf("underlyings[%d]: duplicate symbol %s", i, u.Symbol)
		}
		symbols[u.Symbol] = true
	}

	for i, f := range c.Futures {
		if err := f.validate(start); err != nil {
			return fmt.Errorf("futures[%d]: %w", i, err)
		}
		if !symbols[f.Underlying] {
			return fmt.Errorf("futures[%d]: underlying %s is not configured", i, f.Underlying)
		}
	}

	ids := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if ids[a.ID] {
			return fmt.Errorf("accounts[%d]: duplicate id %s", i, a.ID)
		}
		ids[a.ID] = true
		if a.Deposit.IsNegative() {
			return fmt.Errorf("accounts[%d].deposit must not be negative", i)
		}
	}

	if c.Risk.MaxOrderQty < 0 || c.Risk.MaxPositionQty < 0 || c.Risk.MaxGrossNotional.IsNegative() ||
		c.Risk.MaxAbsDelta < 0 || c.Risk.MaxMarginPct < 0 {
		return fmt.Errorf("risk limits must not be negative")
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.Dir == "" {
			return fmt.Errorf("journal dir required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}

	return c.Logging.Validate()
}

func (c *Config) validateEngine() error {
	durations := []struct {
		name     string
		value    string
		positive bool
	}{
		{"engine.margin_call_deadline", c.Engine.MarginCallDeadline, true},
		{"engine.exercise_window", c.Engine.ExerciseWindow, false},
		{"engine.sweep_timeout", c.Engine.SweepTimeout, true},
	}
	for _, d := range durations {
		v, err := parseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v < 0 || (d.positive && d.value != "" && v == 0) {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if c.Engine.SweepConcurrency < 0 {
		return fmt.Errorf("engine.sweep_concurrency must not be negative")
	}
	if math.IsNaN(c.Engine.RiskFreeRate) || math.IsInf(c.Engine.RiskFreeRate, 0) {
		return fmt.Errorf("engine.risk_free_rate must be finite")
	}
	if c.Engine.ShortOptionMargin < 0 || math.IsNaN(c.Engine.ShortOptionMargin) || math.IsInf(c.Engine.ShortOptionMargin, 0) {
		return fmt.Errorf("engine.short_option_margin must be a non-negative number")
	}
	return nil
}

func (u UnderlyingConfig) validate(start time.Time) error {
	if u.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !u.Price.IsPositive() {
		return fmt.Errorf("%s: price must be positive", u.Symbol)
	}
	if u.Vol < 0 || math.IsNaN(u.Vol) {
		return fmt.Errorf("%s: vol must not be negative", u.Symbol)
	}
	if u.Chain == nil {
		return nil
	}
	if len(u.Chain.Expiries) == 0 {
		return fmt.Errorf("%s: chain needs at least one expiry", u.Symbol)
	}
	for _, s := range u.Chain.Expiries {
		exp, err := parseWhen(s, start)
		if err != nil {
			return fmt.Errorf("%s: chain expiry: %w", u.Symbol, err)
		}
		if !exp.After(start) {
			return fmt.Errorf("%s: chain expiry %s is not after the start", u.Symbol, s)
		}
	}
	if u.Chain.Multiplier < 0 {
		return fmt.Errorf("%s: chain multiplier must not be negative", u.Symbol)
	}
	if _, err := parseStyle(u.Chain.Style); err != nil {
		return fmt.Errorf("%s: %w", u.Symbol, err)
	}
	if _, err := u.Chain.band().Strikes(u.Price); err != nil {
		return fmt.Errorf("%s: %w", u.Symbol, err)
	}
	return nil
}

func (c *ChainConfig) band() market.StrikeBand {
	if c.Band == (market.StrikeBand{}) {
		return market.DefaultStrikeBand()
	}
	return c.Band
}

func (f FuturesConfig) validate(start time.Time) error {
	if f.Underlying == "" {
		return fmt.Errorf("underlying is required")
	}
	exp, err := parseWhen(f.Expiry, start)
	if err != nil {
		return fmt.Errorf("%s: expiry: %w", f.Underlying, err)
	}
	if !exp.After(start) {
		return fmt.Errorf("%s: expiry %s is not after the start", f.Underlying, f.Expiry)
	}
	switch {
	case !f.ContractSize.IsPositive():
		return fmt.Errorf("%s: contract_size must be positive", f.Underlying)
	case !f.TickSize.IsPositive():
		return fmt.Errorf("%s: tick_size must be positive", f.Underlying)
	case !f.MarginRequirement.IsPositive():
		return fmt.Errorf("%s: margin_requirement must be positive", f.Underlying)
	case f.MaintenanceMargin.IsNegative() || f.MaintenanceMargin.GreaterThan(f.MarginRequirement):
		return fmt.Errorf("%s: maintenance_margin must be between 0 and margin_requirement", f.Underlying)
	case f.DailyPriceLimit.IsNegative():
		return fmt.Errorf("%s: daily_price_limit must not be negative", f.Underlying)
	}
	return nil
}

// StartTime returns the configured start, or now() when none is set.
func (c *Config) StartTime(now func() time.Time) (time.Time, error) {
	if c.Engine.Start == "" {
		return now(), nil
	}
	t, err := time.Parse(time.RFC3339, c.Engine.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("engine.start: %w", err)
	}
	return t, nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MarginCallDeadline: "1h",
			ExerciseWindow:     "24h",
			SweepTimeout:       "5s",
			SweepConcurrency:   4,
			RiskFreeRate:       0.05,
			ShortOptionMargin:  1.5,
		},
		Kernel: pricing.DefaultConfig(),
		Skew:   market.DefaultSkew().Buckets,
		Underlyings: []UnderlyingConfig{
			{
				Symbol: "SPX",
				Price:  decimal.NewFromInt(4500),
				Vol:    0.18,
				Chain: &ChainConfig{
					Expiries:   []string{"720h", "2160h"},
					Band:       market.StrikeBand{Low: 0.9, High: 1.1, Step: 0.05},
					Multiplier: 100,
					Style:      "european",
				},
			},
			{
				Symbol: "CL",
				Price:  decimal.NewFromInt(75),
				Vol:    0.35,
			},
		},
		Futures: []FuturesConfig{
			{
				ID:                "CL-FUT",
				Underlying:        "CL",
				ContractSize:      decimal.NewFromInt(1000),
				TickSize:          decimal.RequireFromString("0.01"),
				MarginRequirement: decimal.NewFromInt(6000),
				MaintenanceMargin: decimal.NewFromInt(5000),
				Expiry:            "2160h",
				DailyPriceLimit:   decimal.NewFromInt(5),
			},
		},
		Accounts: []AccountConfig{
			{ID: "SIM-001", Deposit: decimal.NewFromInt(100000)},
		},
		Journal: JournalConfig{
			Type: "csv",
			Dir:  "./journal",
		},
		Logging: logging.Default(),
	}
}
