// Package strategy defines the order-generator boundary and the manifest that
// configures each generator's schedule, lookback, and universe. Signal
// research lives elsewhere; a strategy here only emits orders.
package strategy

import (
	"context"

	"midas/internal/logger"
	"midas/internal/order"
	"midas/internal/position"
)

// Env is the slice of system state a strategy may read when generating
// orders. Strategies never touch the pool or the broker directly.
type Env struct {
	Account int
	Ledger  *position.Ledger
}

type Strategy interface {
	Name() string
	DDLookback() int
	// Symbols is the strategy's tradable universe; the market-data poller
	// keeps quotes warm for all of them.
	Symbols() []string
	// BuyClock and SellClock are the wall-clock minutes (exchange time) the
	// runner fires this strategy's order generation at.
	BuyClock() (hour, min int)
	SellClock() (hour, min int)

	Buy(ctx context.Context, env *Env) ([]*order.Order, error)
	Sell(ctx context.Context, env *Env) ([]*order.Order, error)
}

// CloseOrders builds one closing order per position the strategy contributed
// to, sized to unwind exactly that strategy's contribution.
func CloseOrders(ledger *position.Ledger, name string, account int, mk func(symbol string, qty int) *order.Order) []*order.Order {
	var out []*order.Order
	for _, p := range ledger.ByStrategy(name, account) {
		qty, _ := p.Composition.Get(name)
		if qty == 0 {
			continue
		}
		out = append(out, mk(p.Symbol, -qty))
	}
	return out
}

// CancelStopOrders cancels every stop-loss the strategy contributed to,
// detaching them from their positions.
func CancelStopOrders(ctx context.Context, ledger *position.Ledger, name string, account int) {
	for _, p := range ledger.ByStrategy(name, account) {
		for _, stop := range append([]*order.Order(nil), p.StopLosses...) {
			if _, ok := stop.Composition.Get(name); !ok {
				continue
			}
			if err := ledger.CancelStopLoss(ctx, p, stop, account); err != nil {
				logger.Warnf("strategy: cancelling stop-loss for %s failed: %v", p.Symbol, err)
			}
		}
	}
}
