package strategy

import (
	"context"
	"fmt"

	"midas/internal/order"
)

func init() {
	Register("basket", newBasket)
}

// basket is the built-in manifest-driven generator: buy a fixed symbol list
// at the buy clock, close everything at the sell clock. Each symbol gets an
// equal share of the strategy's weight.
type basket struct {
	spec      Spec
	buyHour   int
	buyMin    int
	sellHour  int
	sellMin   int
	orderKind order.Kind
}

func newBasket(spec Spec) (Strategy, error) {
	if len(spec.Symbols) == 0 {
		return nil, fmt.Errorf("basket needs at least one symbol")
	}
	if spec.Weight <= 0 {
		return nil, fmt.Errorf("basket needs a positive weight")
	}
	kind, err := orderKind(spec.OrderKind)
	if err != nil {
		return nil, err
	}
	b := &basket{spec: spec, orderKind: kind}
	b.buyHour, b.buyMin, _ = parseClock(spec.BuyAt)
	b.sellHour, b.sellMin, _ = parseClock(spec.SellAt)
	return b, nil
}

func orderKind(v string) (order.Kind, error) {
	switch v {
	case "", "market":
		return order.Market, nil
	case "moc":
		return order.MarketOnClose, nil
	default:
		return 0, fmt.Errorf("unsupported order kind %q", v)
	}
}

func (b *basket) Name() string          { return b.spec.Name }
func (b *basket) DDLookback() int       { return b.spec.DDLookback }
func (b *basket) Symbols() []string     { return b.spec.Symbols }
func (b *basket) BuyClock() (int, int)  { return b.buyHour, b.buyMin }
func (b *basket) SellClock() (int, int) { return b.sellHour, b.sellMin }

func (b *basket) Buy(ctx context.Context, env *Env) ([]*order.Order, error) {
	perSymbol := b.spec.Weight / float64(len(b.spec.Symbols))
	out := make([]*order.Order, 0, len(b.spec.Symbols))
	for _, symbol := range b.spec.Symbols {
		o := b.newOrder(symbol, 0)
		o.Unsized = true
		o.StopFrac = b.spec.StopFrac
		o.Composition = order.NewComposition(order.CompEntry{Strategy: b.spec.Name, Weight: perSymbol})
		out = append(out, o)
	}
	return out, nil
}

func (b *basket) Sell(ctx context.Context, env *Env) ([]*order.Order, error) {
	CancelStopOrders(ctx, env.Ledger, b.spec.Name, env.Account)
	orders := CloseOrders(env.Ledger, b.spec.Name, env.Account, func(symbol string, qty int) *order.Order {
		o := b.newOrder(symbol, qty)
		o.Composition = order.NewComposition(order.CompEntry{Strategy: b.spec.Name, Qty: qty})
		return o
	})
	return orders, nil
}

func (b *basket) newOrder(symbol string, qty int) *order.Order {
	if b.orderKind == order.MarketOnClose {
		return order.NewMarketOnClose(symbol, qty)
	}
	return order.NewMarket(symbol, qty)
}
