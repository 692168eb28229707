package position

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"midas/internal/alert"
	"midas/internal/broker"
	"midas/internal/order"
	"midas/internal/store/model"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) GetOrder(ctx context.Context, brokerID int64, account int) (broker.OrderReport, error) {
	args := m.Called(ctx, brokerID, account)
	return args.Get(0).(broker.OrderReport), args.Error(1)
}

func (m *MockBroker) CancelOrder(ctx context.Context, brokerID int64, account int) error {
	args := m.Called(ctx, brokerID, account)
	return args.Error(0)
}

func (m *MockBroker) Positions(ctx context.Context, account int) (map[string]int, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(map[string]int), args.Error(1)
}

type memPositionRepo struct {
	byAccount map[int][]model.PositionModel
	writes    int
}

func newMemPositionRepo() *memPositionRepo {
	return &memPositionRepo{byAccount: make(map[int][]model.PositionModel)}
}

func (r *memPositionRepo) ReplaceAll(ctx context.Context, account int, recs []model.PositionModel) error {
	r.byAccount[account] = recs
	r.writes++
	return nil
}

func (r *memPositionRepo) List(ctx context.Context, account int) ([]model.PositionModel, error) {
	return r.byAccount[account], nil
}

type memPnLRepo struct {
	records []model.StrategyPnLModel
}

func (r *memPnLRepo) Record(ctx context.Context, strategy, date string, pnlPercent float64) error {
	r.records = append(r.records, model.StrategyPnLModel{Strategy: strategy, Date: date, PnLPercent: pnlPercent})
	return nil
}

func (r *memPnLRepo) Series(ctx context.Context, strategy string, since time.Time) ([]model.StrategyPnLModel, error) {
	return nil, nil
}

func (r *memPnLRepo) Strategies(ctx context.Context) ([]string, error) { return nil, nil }

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) SendText(msg string) error {
	n.messages = append(n.messages, msg)
	return nil
}

func newTestLedger(b Broker) (*Ledger, *memPositionRepo, *memPnLRepo, *recordingNotifier) {
	repo := newMemPositionRepo()
	pnl := &memPnLRepo{}
	notifier := &recordingNotifier{}
	return NewLedger(b, repo, pnl, alert.NewAlerter(notifier, true)), repo, pnl, notifier
}

func comp(entries ...order.CompEntry) order.Composition {
	return order.NewComposition(entries...)
}

func TestLedger_RegisterCreatesAndPersists(t *testing.T) {
	l, repo, _, _ := newTestLedger(new(MockBroker))
	ctx := context.Background()

	err := l.Register(ctx, 0, "AAPL", 100, comp(order.CompEntry{Strategy: "mom", Qty: 100}), 187.5, nil)
	assert.NoError(t, err)

	p := l.BySymbol("AAPL", 0)
	assert.NotNil(t, p)
	assert.Equal(t, 100, p.Quantity)
	assert.Equal(t, 187.5, p.FillPrices["mom"])
	assert.Equal(t, 1, repo.writes)
	assert.Len(t, repo.byAccount[0], 1)
}

func TestLedger_RegisterAddsToExistingPosition(t *testing.T) {
	l, _, _, _ := newTestLedger(new(MockBroker))
	ctx := context.Background()

	l.Register(ctx, 0, "AAPL", 60, comp(order.CompEntry{Strategy: "mom", Qty: 60}), 100, nil)
	l.Register(ctx, 0, "AAPL", 40, comp(order.CompEntry{Strategy: "rev", Qty: 40}), 101, nil)

	p := l.BySymbol("AAPL", 0)
	assert.Equal(t, 100, p.Quantity)
	qtyMom, _ := p.Composition.Get("mom")
	qtyRev, _ := p.Composition.Get("rev")
	assert.Equal(t, 60, qtyMom)
	assert.Equal(t, 40, qtyRev)
	assert.Equal(t, 100.0, p.FillPrices["mom"])
	assert.Equal(t, 101.0, p.FillPrices["rev"])
}

func TestLedger_StrategyNettingToZeroRealizesPnL(t *testing.T) {
	l, _, pnl, _ := newTestLedger(new(MockBroker))
	ctx := context.Background()

	l.Register(ctx, 0, "AAPL", 100, comp(order.CompEntry{Strategy: "mom", Qty: 100}), 100, nil)
	l.Register(ctx, 0, "AAPL", -100, comp(order.CompEntry{Strategy: "mom", Qty: -100}), 103, nil)

	assert.Len(t, pnl.records, 1)
	assert.Equal(t, "mom", pnl.records[0].Strategy)
	assert.Equal(t, 3.0, pnl.records[0].PnLPercent)

	// round trip closed, nothing left to track
	assert.Nil(t, l.BySymbol("AAPL", 0))
}

func TestLedger_ShortRoundTripRealizesInvertedSign(t *testing.T) {
	l, _, pnl, _ := newTestLedger(new(MockBroker))
	ctx := context.Background()

	l.Register(ctx, 0, "TSLA", -50, comp(order.CompEntry{Strategy: "rev", Qty: -50}), 200, nil)
	l.Register(ctx, 0, "TSLA", 50, comp(order.CompEntry{Strategy: "rev", Qty: 50}), 190, nil)

	assert.Len(t, pnl.records, 1)
	// price fell 5% while short; the percent-change convention records -5
	assert.Equal(t, -5.0, pnl.records[0].PnLPercent)
}

func TestLedger_ReconcileAlertsQuantityMismatchWithoutFixing(t *testing.T) {
	b := new(MockBroker)
	l, _, _, notifier := newTestLedger(b)
	ctx := context.Background()

	l.Register(ctx, 0, "TSLA", 100, comp(order.CompEntry{Strategy: "mom", Qty: 100}), 250, nil)
	b.On("Positions", ctx, 0).Return(map[string]int{"TSLA": 80}, nil)

	l.Reconcile(ctx, 0)
	assert.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], `Expected: 100 actual: 80`)
	assert.Equal(t, 100, l.BySymbol("TSLA", 0).Quantity)
}

func TestLedger_ReconcileIsIdempotent(t *testing.T) {
	b := new(MockBroker)
	l, _, _, notifier := newTestLedger(b)
	ctx := context.Background()

	l.Register(ctx, 0, "TSLA", 100, comp(order.CompEntry{Strategy: "mom", Qty: 100}), 250, nil)
	// the mock hands back the same map instance every call; reconcile must
	// not consume it
	brokerState := map[string]int{"TSLA": 80}
	b.On("Positions", ctx, 0).Return(brokerState, nil)

	l.Reconcile(ctx, 0)
	l.Reconcile(ctx, 0)
	assert.Len(t, notifier.messages, 1)
	assert.Equal(t, map[string]int{"TSLA": 80}, brokerState)
}

func TestLedger_ReconcileAlertsUnaccountedAndUnregistered(t *testing.T) {
	b := new(MockBroker)
	l, _, _, notifier := newTestLedger(b)
	ctx := context.Background()

	l.Register(ctx, 0, "AAPL", 100, comp(order.CompEntry{Strategy: "mom", Qty: 100}), 100, nil)
	b.On("Positions", ctx, 0).Return(map[string]int{"NVDA": 25}, nil)

	l.Reconcile(ctx, 0)
	assert.Len(t, notifier.messages, 2)
	assert.Contains(t, notifier.messages[0], "Unaccounted for position")
	assert.Contains(t, notifier.messages[1], "Unregistered position in broker")
}

func TestLedger_UpdateAppliesStopLossFill(t *testing.T) {
	b := new(MockBroker)
	l, _, _, _ := newTestLedger(b)
	ctx := context.Background()

	stop := order.NewStop("GME", 30, 21.5) // covers a short
	stop.BrokerID = 777
	stop.Composition = comp(order.CompEntry{Strategy: "sqz", Qty: 30})
	l.Register(ctx, 0, "GME", -30, comp(order.CompEntry{Strategy: "sqz", Qty: -30}), 20, []*order.Order{stop})

	b.On("GetOrder", ctx, int64(777), 0).
		Return(broker.OrderReport{OrderID: 777, Status: "FILLED", FilledQuantity: 30, RemainingQuantity: 0, ExecutionPrice: 21.6}, nil)
	b.On("Positions", ctx, 0).Return(map[string]int{}, nil)

	l.Update(ctx, 0)

	// short fully covered by the stop, position gone, no divergence alerts
	assert.Nil(t, l.BySymbol("GME", 0))
	b.AssertExpectations(t)
}

func TestLedger_LoadRestoresSerializedPositions(t *testing.T) {
	b := new(MockBroker)
	l, repo, _, _ := newTestLedger(b)
	ctx := context.Background()

	stop := order.NewStop("GME", 30, 21.5)
	stop.Composition = comp(order.CompEntry{Strategy: "sqz", Qty: 30})
	l.Register(ctx, 0, "GME", -30, comp(order.CompEntry{Strategy: "sqz", Qty: -30}), 20, []*order.Order{stop})

	restored := NewLedger(b, repo, &memPnLRepo{}, alert.NewAlerter(&recordingNotifier{}, true))
	b.On("Positions", ctx, 0).Return(map[string]int{"GME": -30}, nil)
	assert.NoError(t, restored.Load(ctx, 0))

	p := restored.BySymbol("GME", 0)
	assert.NotNil(t, p)
	assert.Equal(t, -30, p.Quantity)
	assert.Equal(t, 20.0, p.FillPrices["sqz"])
	assert.Len(t, p.StopLosses, 1)
	assert.Equal(t, 21.5, p.StopLosses[0].TriggerPrice)
	qty, _ := p.StopLosses[0].Composition.Get("sqz")
	assert.Equal(t, 30, qty)
}
