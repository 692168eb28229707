package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"midas/internal/alert"
	"midas/internal/order"
	"midas/internal/position"
	"midas/internal/store/model"
)

type memPositionRepo struct{}

func (r *memPositionRepo) ReplaceAll(ctx context.Context, account int, recs []model.PositionModel) error {
	return nil
}

func (r *memPositionRepo) List(ctx context.Context, account int) ([]model.PositionModel, error) {
	return nil, nil
}

type memPnLRepo struct{}

func (r *memPnLRepo) Record(ctx context.Context, strategy, date string, pnlPercent float64) error {
	return nil
}

func (r *memPnLRepo) Series(ctx context.Context, strategy string, since time.Time) ([]model.StrategyPnLModel, error) {
	return nil, nil
}

func (r *memPnLRepo) Strategies(ctx context.Context) ([]string, error) { return nil, nil }

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	manifest := `strategies:
  - name: overnight
    kind: basket
    dd_lookback: 20
    buy_at: "15:50"
    sell_at: "09:31"
    symbols: [SPY, QQQ]
    weight: 0.6
    stop_frac: 0.05
  - name: close-auction
    kind: basket
    buy_at: "15:45"
    sell_at: "09:35"
    symbols: [IWM]
    weight: 0.4
    order_kind: moc
`
	assert.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	strategies, err := LoadManifest(path)
	assert.NoError(t, err)
	assert.Len(t, strategies, 2)

	assert.Equal(t, "overnight", strategies[0].Name())
	assert.Equal(t, 20, strategies[0].DDLookback())
	hour, min := strategies[0].BuyClock()
	assert.Equal(t, 15, hour)
	assert.Equal(t, 50, min)
	hour, min = strategies[0].SellClock()
	assert.Equal(t, 9, hour)
	assert.Equal(t, 31, min)
}

func TestBuild_RejectsBadSpecs(t *testing.T) {
	good := Spec{Name: "a", Kind: "basket", BuyAt: "09:31", SellAt: "15:50", Symbols: []string{"SPY"}, Weight: 1}

	_, err := Build([]Spec{good, good})
	assert.ErrorContains(t, err, "duplicate strategy name")

	bad := good
	bad.Name = "b"
	bad.Kind = "unheard-of"
	_, err = Build([]Spec{bad})
	assert.ErrorContains(t, err, "unknown kind")

	bad = good
	bad.BuyAt = "25:00"
	_, err = Build([]Spec{bad})
	assert.ErrorContains(t, err, "buy_at")

	bad = good
	bad.Symbols = nil
	_, err = Build([]Spec{bad})
	assert.ErrorContains(t, err, "at least one symbol")
}

func TestBasket_BuyEmitsUnsizedWeightedOrders(t *testing.T) {
	strategies, err := Build([]Spec{{
		Name: "overnight", Kind: "basket",
		BuyAt: "15:50", SellAt: "09:31",
		Symbols: []string{"SPY", "QQQ"},
		Weight:  0.6, StopFrac: 0.05,
	}})
	assert.NoError(t, err)

	orders, err := strategies[0].Buy(context.Background(), &Env{})
	assert.NoError(t, err)
	assert.Len(t, orders, 2)
	for _, o := range orders {
		assert.True(t, o.Unsized)
		assert.Equal(t, order.Market, o.Kind)
		assert.Equal(t, 0.05, o.StopFrac)
		entries := o.Composition.Entries()
		assert.Len(t, entries, 1)
		assert.Equal(t, "overnight", entries[0].Strategy)
		assert.InDelta(t, 0.3, entries[0].Weight, 1e-9)
	}
	assert.Equal(t, "SPY", orders[0].Symbol)
	assert.Equal(t, "QQQ", orders[1].Symbol)
}

func TestBasket_SellClosesOnlyOwnContribution(t *testing.T) {
	ledger := position.NewLedger(nil, &memPositionRepo{}, &memPnLRepo{}, alert.NewAlerter(nil, false))
	ctx := context.Background()

	comp := order.NewComposition(
		order.CompEntry{Strategy: "overnight", Qty: 60},
		order.CompEntry{Strategy: "other", Qty: 40},
	)
	assert.NoError(t, ledger.Register(ctx, 0, "SPY", 100, comp, 500.0, nil))
	flat := order.NewComposition(order.CompEntry{Strategy: "other", Qty: 10})
	assert.NoError(t, ledger.Register(ctx, 0, "IWM", 10, flat, 200.0, nil))

	strategies, err := Build([]Spec{{
		Name: "overnight", Kind: "basket",
		BuyAt: "15:50", SellAt: "09:31",
		Symbols: []string{"SPY"}, Weight: 0.6,
	}})
	assert.NoError(t, err)

	orders, err := strategies[0].Sell(ctx, &Env{Account: 0, Ledger: ledger})
	assert.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, "SPY", orders[0].Symbol)
	assert.Equal(t, -60, orders[0].Quantity)
	qty, _ := orders[0].Composition.Get("overnight")
	assert.Equal(t, -60, qty)
}

func TestBasket_MOCKind(t *testing.T) {
	strategies, err := Build([]Spec{{
		Name: "close-auction", Kind: "basket",
		BuyAt: "15:45", SellAt: "09:35",
		Symbols: []string{"IWM"}, Weight: 0.4, OrderKind: "moc",
	}})
	assert.NoError(t, err)

	orders, err := strategies[0].Buy(context.Background(), &Env{})
	assert.NoError(t, err)
	assert.Equal(t, order.MarketOnClose, orders[0].Kind)
}
