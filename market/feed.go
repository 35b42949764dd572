package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrPriceNotFound = errors.New("price not found")

// Feed is the market-data boundary: point-in-time spot and implied
// volatility per underlying.
type Feed interface {
	CurrentPrice(ctx context.Context, underlying string) (decimal.Decimal, error)
	ImpliedVolatility(ctx context.Context, underlying string) (float64, error)
}

// Quote is one underlying's latest observation.
type Quote struct {
	Underlying string
	Price      decimal.Decimal
	Vol        float64
	Time       time.Time
}

// Store is an in-memory Feed, safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewStore() *Store {
	return &Store{quotes: make(map[string]Quote)}
}

func (s *Store) Set(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Underlying] = q
}

// SetPrice updates the price and keeps the last volatility.
func (s *Store) SetPrice(underlying string, p decimal.Decimal, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.quotes[underlying]
	q.Underlying = underlying
	q.Price = p
	q.Time = t
	s.quotes[underlying] = q
}

func (s *Store) SetVol(underlying string, vol float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.quotes[underlying]
	q.Underlying = underlying
	q.Vol = vol
	s.quotes[underlying] = q
}

func (s *Store) Get(underlying string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[underlying]
	if !ok || !q.Price.IsPositive() {
		return Quote{}, fmt.Errorf("%s: %w", underlying, ErrPriceNotFound)
	}
	return q, nil
}

func (s *Store) CurrentPrice(_ context.Context, underlying string) (decimal.Decimal, error) {
	q, err := s.Get(underlying)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

func (s *Store) ImpliedVolatility(_ context.Context, underlying string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[underlying]
	if !ok {
		return 0, fmt.Errorf("%s volatility: %w", underlying, ErrPriceNotFound)
	}
	return q.Vol, nil
}

// Underlyings lists every quoted symbol, sorted.
func (s *Store) Underlyings() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.quotes))
	for u := range s.quotes {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Advance moves every quoted underlying one step along p, in symbol order.
func (s *Store) Advance(p PriceProcess, t time.Time) {
	for _, u := range s.Underlyings() {
		s.mu.Lock()
		q := s.quotes[u]
		q.Price = p.Next(u, q.Price)
		q.Time = t
		s.quotes[u] = q
		s.mu.Unlock()
	}
}
