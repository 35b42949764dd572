package market

import (
	"math"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// PriceProcess produces the next price of an underlying from its last one.
// Implementations must be deterministic for a given construction so runs
// can be replayed.
type PriceProcess interface {
	Next(underlying string, last decimal.Decimal) decimal.Decimal
}

// Scripted replays a fixed path per underlying. Once a path is exhausted
// the last price is held.
type Scripted struct {
	mu    sync.Mutex
	paths map[string][]decimal.Decimal
}

func NewScripted(paths map[string][]decimal.Decimal) *Scripted {
	cp := make(map[string][]decimal.Decimal, len(paths))
	for k, v := range paths {
		cp[k] = append([]decimal.Decimal(nil), v...)
	}
	return &Scripted{paths: cp}
}

func (s *Scripted) Next(underlying string, last decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.paths[underlying]
	if len(path) == 0 {
		return last
	}
	next := path[0]
	s.paths[underlying] = path[1:]
	return next
}

// RandomWalk is a seeded geometric random walk: each step multiplies the
// price by exp(sigma*z) with z ~ N(0,1), rounded to Tick.
type RandomWalk struct {
	mu    sync.Mutex
	rng   *rand.Rand
	Sigma float64
	Tick  decimal.Decimal
}

func NewRandomWalk(seed int64, sigma float64, tick decimal.Decimal) *RandomWalk {
	return &RandomWalk{
		rng:   rand.New(rand.NewSource(seed)),
		Sigma: sigma,
		Tick:  tick,
	}
}

func (w *RandomWalk) Next(_ string, last decimal.Decimal) decimal.Decimal {
	w.mu.Lock()
	z := w.rng.NormFloat64()
	w.mu.Unlock()

	next := last.Mul(decimal.NewFromFloat(math.Exp(w.Sigma * z)))
	if w.Tick.IsPositive() {
		next = roundTo(next, w.Tick)
		if !next.IsPositive() {
			next = w.Tick
		}
	}
	return next
}
