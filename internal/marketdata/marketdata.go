// Package marketdata caches last-trade prices. Order sizing refreshes quotes
// on demand before each cycle; a background poller keeps watched symbols warm
// for stop-loss checks and the live API.
package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"midas/internal/logger"
)

// Quoter fetches last-trade prices for a batch of symbols. Symbols the
// venue has no quote for are simply absent from the result.
type Quoter interface {
	Quotes(ctx context.Context, symbols []string) (map[string]float64, error)
}

type Store struct {
	quoter   Quoter
	interval time.Duration

	mu      sync.RWMutex
	prices  map[string]float64
	watched map[string]struct{}
}

func NewStore(q Quoter, interval time.Duration) *Store {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Store{
		quoter:   q,
		interval: interval,
		prices:   make(map[string]float64),
		watched:  make(map[string]struct{}),
	}
}

// Watch registers symbols with the background poller.
func (s *Store) Watch(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		s.watched[sym] = struct{}{}
	}
}

func (s *Store) Unwatch(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		delete(s.watched, sym)
	}
}

// Refresh fetches fresh quotes for the given symbols and caches them. The
// returned map only holds symbols a quote came back for; callers must treat
// a missing entry as "no market".
func (s *Store) Refresh(ctx context.Context, symbols []string) (map[string]float64, error) {
	quotes, err := s.quoter.Quotes(ctx, symbols)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for sym, price := range quotes {
		s.prices[sym] = price
	}
	s.mu.Unlock()
	return quotes, nil
}

// Price returns the last cached price for a symbol.
func (s *Store) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[symbol]
	return price, ok
}

// Snapshot copies the whole cache, for the live API.
func (s *Store) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.prices))
	for sym, price := range s.prices {
		out[sym] = price
	}
	return out
}

func (s *Store) watchedSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.watched))
	for sym := range s.watched {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Run polls watched symbols until the context is cancelled.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			symbols := s.watchedSymbols()
			if len(symbols) == 0 {
				continue
			}
			if _, err := s.Refresh(ctx, symbols); err != nil {
				logger.Warnf("marketdata: refresh failed: %v", err)
			}
		}
	}
}
