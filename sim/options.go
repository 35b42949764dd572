package sim

import (
	"time"

	"github.com/rustyeddy/derivatives/journal"
	"github.com/rustyeddy/derivatives/margin"
	"github.com/rustyeddy/derivatives/metrics"
	"github.com/rustyeddy/derivatives/pricing"
	"github.com/rustyeddy/derivatives/risk"
	"go.uber.org/zap"
)

// Config holds the engine's tunables. Zero fields take the defaults.
type Config struct {
	// MarginCallDeadline is how long an account has to meet a call.
	MarginCallDeadline time.Duration

	// ExerciseWindow is how long after expiry exercise is still accepted.
	ExerciseWindow time.Duration

	// SweepTimeout bounds the time spent on one account in a settlement sweep.
	SweepTimeout time.Duration

	// SweepConcurrency is how many accounts a sweep settles at once.
	SweepConcurrency int

	RiskFreeRate float64

	// ShortOptionMargin is the margin held on a short option as a multiple
	// of the premium received.
	ShortOptionMargin float64
}

func DefaultConfig() Config {
	return Config{
		MarginCallDeadline: time.Hour,
		ExerciseWindow:     24 * time.Hour,
		SweepTimeout:       5 * time.Second,
		SweepConcurrency:   4,
		RiskFreeRate:       0.05,
		ShortOptionMargin:  1.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MarginCallDeadline <= 0 {
		c.MarginCallDeadline = d.MarginCallDeadline
	}
	if c.ExerciseWindow < 0 {
		c.ExerciseWindow = 0
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = d.SweepTimeout
	}
	if c.SweepConcurrency <= 0 {
		c.SweepConcurrency = d.SweepConcurrency
	}
	if c.ShortOptionMargin <= 0 {
		c.ShortOptionMargin = d.ShortOptionMargin
	}
	return c
}

// Listener is told about margin call transitions after the account's lock
// has been released. Nil callbacks are skipped.
type Listener struct {
	OnMarginCall    func(margin.Call)
	OnMarginCallMet func(margin.Call)
	OnLiquidation   func(margin.Call)
}

type Option func(*Engine)

func WithConfig(c Config) Option {
	return func(e *Engine) { e.cfg = c.withDefaults() }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithJournal(j journal.Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithKernel(k *pricing.Kernel) Option {
	return func(e *Engine) {
		if k != nil {
			e.kernel = k
		}
	}
}

func WithPolicy(p risk.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithListener(l Listener) Option {
	return func(e *Engine) { e.listener = l }
}
