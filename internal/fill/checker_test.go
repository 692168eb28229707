package fill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"midas/internal/alert"
	"midas/internal/broker"
	"midas/internal/order"
	"midas/internal/position"
	"midas/internal/schedule"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		name   string
		snap   Snapshot
		report broker.OrderReport
		want   State
	}{
		{"cancelled", Snapshot{Quantity: 100}, broker.OrderReport{Status: "CANCELED"}, Cancelled},
		{"full fill long", Snapshot{Quantity: 100}, broker.OrderReport{FilledQuantity: 100}, FullyFilled},
		{"full fill short", Snapshot{Quantity: -50}, broker.OrderReport{FilledQuantity: 50}, FullyFilled},
		{"partial fill", Snapshot{Quantity: 100}, broker.OrderReport{FilledQuantity: 40}, PartiallyFilled},
		{"nothing yet", Snapshot{Quantity: 100}, broker.OrderReport{}, Unfilled},
		{"fourth empty poll still waits", Snapshot{Quantity: 100, FillTries: 3}, broker.OrderReport{}, Unfilled},
		{"fifth empty poll gives up", Snapshot{Quantity: 100, FillTries: 4}, broker.OrderReport{}, GivenUp},
		{"fifth partial poll gives up too", Snapshot{Quantity: 100, FillTries: 4}, broker.OrderReport{FilledQuantity: 40}, GivenUp},
		{"full fill beats give-up", Snapshot{Quantity: 100, FillTries: 4}, broker.OrderReport{FilledQuantity: 100}, FullyFilled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Transition(tc.snap, tc.report))
		})
	}
}

type MockFillBroker struct {
	mock.Mock
}

func (m *MockFillBroker) PlaceOrder(ctx context.Context, o *order.Order, account int) (int64, error) {
	args := m.Called(ctx, o, account)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFillBroker) PlaceOrders(ctx context.Context, orders []*order.Order, account int) error {
	args := m.Called(ctx, orders, account)
	return args.Error(0)
}

func (m *MockFillBroker) CancelOrder(ctx context.Context, brokerID int64, account int) error {
	args := m.Called(ctx, brokerID, account)
	return args.Error(0)
}

func (m *MockFillBroker) GetOrder(ctx context.Context, brokerID int64, account int) (broker.OrderReport, error) {
	args := m.Called(ctx, brokerID, account)
	return args.Get(0).(broker.OrderReport), args.Error(1)
}

func (m *MockFillBroker) GetOrders(ctx context.Context, account int, from time.Time) ([]broker.OrderReport, error) {
	args := m.Called(ctx, account, from)
	return args.Get(0).([]broker.OrderReport), args.Error(1)
}

type registration struct {
	symbol   string
	quantity int
	comp     order.Composition
	price    float64
	stops    []*order.Order
}

type fakeLedger struct {
	registered []registration
	positions  map[string]*position.Position
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{positions: make(map[string]*position.Position)}
}

func (l *fakeLedger) Register(ctx context.Context, account int, symbol string, quantity int, comp order.Composition, fillPrice float64, stopLosses []*order.Order) error {
	l.registered = append(l.registered, registration{symbol, quantity, comp, fillPrice, stopLosses})
	return nil
}

func (l *fakeLedger) BySymbol(symbol string, account int) *position.Position {
	return l.positions[symbol]
}

type fakeQuotes struct {
	prices map[string]float64
}

func (q *fakeQuotes) Refresh(ctx context.Context, symbols []string) (map[string]float64, error) {
	return q.prices, nil
}

type fakeScheduler struct {
	adds []string
}

func (s *fakeScheduler) Add(at time.Time, name string, task schedule.Task) {
	s.adds = append(s.adds, name)
}

type fixture struct {
	broker   *MockFillBroker
	pool     *order.Pool
	ledger   *fakeLedger
	quotes   *fakeQuotes
	sched    *fakeScheduler
	notifier *recordingNotifier
	checker  *Checker
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) SendText(msg string) error {
	n.messages = append(n.messages, msg)
	return nil
}

func newFixture() *fixture {
	f := &fixture{
		broker:   new(MockFillBroker),
		pool:     order.NewPool(),
		ledger:   newFakeLedger(),
		quotes:   &fakeQuotes{prices: map[string]float64{}},
		sched:    &fakeScheduler{},
		notifier: &recordingNotifier{},
	}
	f.checker = NewChecker(f.broker, f.pool, f.ledger, f.quotes, f.sched, alert.NewAlerter(f.notifier, true))
	return f
}

func pooled(f *fixture, o *order.Order) *order.Order {
	added, _ := f.pool.Add(context.Background(), o, 0, f.broker)
	return added
}

func TestCheckOrder_PartialFillShrinksAndRegisters(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o := order.NewLimit("AAPL", 100, 150)
	o.CurrentPrice = 150
	o.BrokerID = 11
	o.Composition = order.NewComposition(
		order.CompEntry{Strategy: "mom", Qty: 70},
		order.CompEntry{Strategy: "rev", Qty: 30},
	)
	pooled(f, o)
	f.quotes.prices = map[string]float64{"AAPL": 150} // unchanged market, no reprice

	report := &broker.OrderReport{OrderID: 11, Status: "WORKING", FilledQuantity: 40, RemainingQuantity: 60, ExecutionPrice: 149.9}
	filledFully := f.checker.CheckOrder(ctx, o, 0, report, true)

	assert.False(t, filledFully)
	assert.Equal(t, 60, o.Quantity)
	assert.Equal(t, 60, o.Composition.Sum())
	assert.Equal(t, 1, o.FillTries)
	assert.True(t, f.pool.Contains(o, 0))

	assert.Len(t, f.ledger.registered, 1)
	reg := f.ledger.registered[0]
	assert.Equal(t, 40, reg.quantity)
	assert.Equal(t, 40, reg.comp.Sum())
	assert.Equal(t, 149.9, reg.price)

	// re-check scheduled one poll out
	assert.Equal(t, []string{"check orders"}, f.sched.adds)
}

func TestCheckOrder_FullFillRegistersAndRemoves(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o := order.NewMarket("MSFT", 100)
	o.BrokerID = 12
	o.Composition = order.NewComposition(order.CompEntry{Strategy: "mom", Qty: 100})
	pooled(f, o)

	report := &broker.OrderReport{OrderID: 12, Status: "FILLED", FilledQuantity: 100, ExecutionPrice: 410.5}
	assert.True(t, f.checker.CheckOrder(ctx, o, 0, report, false))

	assert.False(t, f.pool.Contains(o, 0))
	assert.Equal(t, 410.5, o.CurrentPrice)
	assert.Len(t, f.ledger.registered, 1)
	assert.Equal(t, 100, f.ledger.registered[0].quantity)
	assert.Empty(t, f.sched.adds)
}

func TestCheckOrder_FullFillSchedulesChildCheck(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	parent := order.NewMarket("NFLX", -20) // closes a long
	parent.BrokerID = 13
	parent.Composition = order.NewComposition(order.CompEntry{Strategy: "rev", Qty: -20})
	child := order.NewMarket("NFLX", -30) // opens the short remainder
	child.Composition = order.NewComposition(order.CompEntry{Strategy: "rev", Qty: -30})
	parent.AttachChild(child)
	pooled(f, parent)

	report := &broker.OrderReport{OrderID: 13, Status: "FILLED", FilledQuantity: 20, ExecutionPrice: 500}
	assert.True(t, f.checker.CheckOrder(ctx, parent, 0, report, false))
	assert.Equal(t, []string{"check orders"}, f.sched.adds)
}

func TestCheckOrder_LiveChildJoinsPoolAndFillsCleanly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	parent := order.NewMarket("NFLX", -20) // closes a long
	parent.BrokerID = 13
	parent.Composition = order.NewComposition(order.CompEntry{Strategy: "rev", Qty: -20})
	child := order.NewMarket("NFLX", -30) // opens the short remainder
	child.BrokerID = 21
	child.Composition = order.NewComposition(order.CompEntry{Strategy: "rev", Qty: -30})
	parent.AttachChild(child)
	pooled(f, parent)

	// the parent's fill puts the child into the pool alongside its check
	report := &broker.OrderReport{OrderID: 13, Status: "FILLED", FilledQuantity: 20, ExecutionPrice: 500}
	assert.True(t, f.checker.CheckOrder(ctx, parent, 0, report, false))
	assert.False(t, f.pool.Contains(parent, 0))
	assert.True(t, f.pool.Contains(child, 0))

	// the child's own full fill is an ordinary pool removal, not a fatal
	childReport := &broker.OrderReport{OrderID: 21, Status: "FILLED", FilledQuantity: 30, ExecutionPrice: 498}
	assert.True(t, f.checker.CheckOrder(ctx, child, 0, childReport, false))
	assert.False(t, f.pool.Contains(child, 0))
	assert.Len(t, f.ledger.registered, 2)
	assert.Equal(t, -30, f.ledger.registered[1].quantity)
}

func TestCheckOrder_GivesUpExactlyOnFifthPoll(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o := order.NewMarket("AAPL", 100)
	o.BrokerID = 14
	o.Composition = order.NewComposition(order.CompEntry{Strategy: "mom", Qty: 100})
	pooled(f, o)

	empty := &broker.OrderReport{OrderID: 14, Status: "WORKING"}
	for poll := 1; poll <= 4; poll++ {
		f.checker.CheckOrder(ctx, o, 0, empty, false)
		assert.True(t, f.pool.Contains(o, 0), "poll %d must not give up", poll)
		assert.Equal(t, poll, o.FillTries)
	}

	f.broker.On("CancelOrder", ctx, int64(14), 0).Return(nil)
	f.checker.CheckOrder(ctx, o, 0, empty, false)

	assert.False(t, f.pool.Contains(o, 0))
	assert.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "Unfilled & cancelled")
	// four reschedules, none after the give-up
	assert.Len(t, f.sched.adds, 4)
	f.broker.AssertExpectations(t)
}

func TestCheckOrder_BrokerCancellationAlertsAndRemoves(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o := order.NewMarket("AAPL", 100)
	o.BrokerID = 15
	pooled(f, o)

	report := &broker.OrderReport{OrderID: 15, Status: "CANCELED"}
	assert.False(t, f.checker.CheckOrder(ctx, o, 0, report, false))
	assert.False(t, f.pool.Contains(o, 0))
	assert.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "Cancelled")
}

func TestCheckOrder_RepricesStaleLimit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o := order.NewLimit("AAPL", 100, 150)
	o.CurrentPrice = 150
	o.BrokerID = 16
	pooled(f, o)
	f.quotes.prices = map[string]float64{"AAPL": 151.2}

	f.broker.On("CancelOrder", ctx, int64(16), 0).Return(nil)
	f.broker.On("PlaceOrder", ctx, o, 0).Return(int64(17), nil)

	report := &broker.OrderReport{OrderID: 16, Status: "WORKING"}
	f.checker.CheckOrder(ctx, o, 0, report, true)

	assert.Equal(t, 151.2, o.LimitPrice)
	assert.Equal(t, 151.2, o.CurrentPrice)
	f.broker.AssertExpectations(t)
}

func TestCheckOrders_UnsentOrdersRegisterImmediately(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o := order.NewMarket("AAPL", 0) // allocator sized it away
	pooled(f, o)
	f.quotes.prices = map[string]float64{"AAPL": 187.5}

	f.checker.CheckOrders(ctx, []*order.Order{o}, 0)

	assert.False(t, f.pool.Contains(o, 0))
	assert.Len(t, f.ledger.registered, 1)
	assert.Equal(t, 0, f.ledger.registered[0].quantity)
	assert.Equal(t, 187.5, f.ledger.registered[0].price)
}

func TestTransmitStopLosses_ShortPositionsOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	stopShort := order.NewStop("GME", 30, 21.5)
	shortOrder := order.NewMarket("GME", -30)
	shortOrder.StopLosses = []*order.Order{stopShort}

	stopLong := order.NewStop("AAPL", -100, 95)
	longOrder := order.NewMarket("AAPL", 100)
	longOrder.StopLosses = []*order.Order{stopLong}

	f.ledger.positions["GME"] = &position.Position{Symbol: "GME", Quantity: -30}
	f.ledger.positions["AAPL"] = &position.Position{Symbol: "AAPL", Quantity: 100}

	f.broker.On("PlaceOrders", ctx, []*order.Order{stopShort}, 0).Return(nil)
	f.checker.transmitStopLosses(ctx, []*order.Order{shortOrder, longOrder}, 0)
	f.broker.AssertExpectations(t)
}
