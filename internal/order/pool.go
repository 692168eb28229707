package order

import (
	"context"
	"fmt"

	"midas/internal/logger"
)

// Canceller is the slice of the broker boundary the pool needs: merging into
// an already-transmitted order changes its shape, so the broker copy must be
// cancelled before the merged order is re-sent.
type Canceller interface {
	CancelOrder(ctx context.Context, brokerID int64, account int) error
}

// Pool holds the not-yet-filled orders of both accounts. It is the single
// serialization point guaranteeing at most one outstanding broker order per
// (account, symbol, order shape); all mutation happens on the scheduler
// goroutine, so no locking.
type Pool struct {
	orders [2][]*Order
}

func NewPool() *Pool { return &Pool{} }

// Add merges o into the first mergeable pool entry, cancelling that entry's
// broker copy if it was already transmitted, and returns the surviving order.
// A cancel failure is returned so the caller can sideline the order; the pool
// entry keeps its broker id, letting the fill checker observe whatever state
// the broker left it in.
func (p *Pool) Add(ctx context.Context, o *Order, account int, c Canceller) (*Order, error) {
	for _, pooled := range p.orders[account] {
		if !o.CanMergeWith(pooled) {
			continue
		}
		pooled.MergeWith(o)
		if pooled.BrokerID != 0 {
			if err := c.CancelOrder(ctx, pooled.BrokerID, account); err != nil {
				return pooled, fmt.Errorf("cancelling order %d for merge: %w", pooled.BrokerID, err)
			}
		}
		return pooled, nil
	}
	p.orders[account] = append(p.orders[account], o)
	return o, nil
}

// AddAll pools every order and returns the distinct surviving entries in
// first-seen order.
func (p *Pool) AddAll(ctx context.Context, orders []*Order, account int, c Canceller) ([]*Order, error) {
	var out []*Order
	seen := make(map[*Order]bool)
	for _, o := range orders {
		merged, err := p.Add(ctx, o, account, c)
		if err != nil {
			return out, err
		}
		if !seen[merged] {
			seen[merged] = true
			out = append(out, merged)
		}
	}
	return out, nil
}

// Track appends an already-transmitted order without merge resolution. A
// flip-split child is reachable only through its parent until the parent
// fills; at that point the child goes live and must become a pool member so
// its own fill checks can remove it.
func (p *Pool) Track(o *Order, account int) {
	p.orders[account] = append(p.orders[account], o)
}

// Remove deletes o by identity. The pool is the sole source of truth for
// "is this order live", so removing a non-member is an unrecoverable
// programming error.
func (p *Pool) Remove(o *Order, account int) {
	for i, pooled := range p.orders[account] {
		if pooled == o {
			p.orders[account] = append(p.orders[account][:i], p.orders[account][i+1:]...)
			return
		}
	}
	logger.Fatalf("pool: removing order not in pool: %s (account %d)", o, account)
}

// Contains reports whether o is still pooled.
func (p *Pool) Contains(o *Order, account int) bool {
	for _, pooled := range p.orders[account] {
		if pooled == o {
			return true
		}
	}
	return false
}

// BySymbol returns the pooled order for symbol, or nil.
func (p *Pool) BySymbol(symbol string, account int) *Order {
	for _, pooled := range p.orders[account] {
		if pooled.Symbol == symbol {
			return pooled
		}
	}
	return nil
}

// Orders returns a copy of the account's pool.
func (p *Pool) Orders(account int) []*Order {
	out := make([]*Order, len(p.orders[account]))
	copy(out, p.orders[account])
	return out
}
