package livehttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"midas/internal/order"
	"midas/internal/position"
)

type fakeLedger struct {
	positions map[int][]*position.Position
}

func (l *fakeLedger) Positions(account int) []*position.Position { return l.positions[account] }

type fakePool struct {
	orders map[int][]*order.Order
}

func (p *fakePool) Orders(account int) []*order.Order { return p.orders[account] }

type fakeSchedule struct {
	pending map[string][]string
}

func (s *fakeSchedule) Pending() map[string][]string { return s.pending }

type fakeAllocations struct {
	allocs map[string]float64
}

func (a *fakeAllocations) Allocations(ctx context.Context, strategies []string) (map[string]float64, error) {
	return a.allocs, nil
}

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p := &position.Position{
		Symbol:      "AAPL",
		Quantity:    100,
		Composition: order.NewComposition(order.CompEntry{Strategy: "mom", Qty: 100}),
		FillPrices:  map[string]float64{"mom": 150.5},
	}
	o := order.NewLimit("MSFT", 40, 310.25)
	o.Composition = order.NewComposition(order.CompEntry{Strategy: "mom", Qty: 40})
	o.BrokerID = 4444

	router := NewRouter(
		&fakeLedger{positions: map[int][]*position.Position{0: {p}}},
		&fakePool{orders: map[int][]*order.Order{0: {o}}},
		&fakeSchedule{pending: map[string][]string{"2026-08-31T09:32:00-04:00": {"check orders"}}},
		&fakeAllocations{allocs: map[string]float64{"mom": 0.6}},
		[]string{"mom"},
	)
	engine := gin.New()
	router.Register(engine.Group("/api/live"))
	return engine
}

func get(t *testing.T, engine *gin.Engine, path string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	engine.ServeHTTP(w, req)
	return w, w.Body.String()
}

func TestRouter_Positions(t *testing.T) {
	engine := newTestServer(t)

	w, body := get(t, engine, "/api/live/positions?account=0")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AAPL", gjson.Get(body, "positions.0.symbol").String())
	assert.Equal(t, int64(100), gjson.Get(body, "positions.0.quantity").Int())
	assert.Equal(t, int64(100), gjson.Get(body, "positions.0.composition.mom").Int())
	assert.Equal(t, 150.5, gjson.Get(body, "positions.0.fill_prices.mom").Float())
}

func TestRouter_PositionsRejectsBadAccount(t *testing.T) {
	engine := newTestServer(t)

	w, _ := get(t, engine, "/api/live/positions?account=7")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_Orders(t *testing.T) {
	engine := newTestServer(t)

	w, body := get(t, engine, "/api/live/orders")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MSFT", gjson.Get(body, "orders.0.symbol").String())
	assert.Equal(t, "LIMIT", gjson.Get(body, "orders.0.kind").String())
	assert.Equal(t, 310.25, gjson.Get(body, "orders.0.limit_price").Float())
	assert.Equal(t, int64(4444), gjson.Get(body, "orders.0.broker_id").Int())
}

func TestRouter_ScheduleAndAllocations(t *testing.T) {
	engine := newTestServer(t)

	w, body := get(t, engine, "/api/live/schedule")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(body, "pending").Exists())

	w, body = get(t, engine, "/api/live/allocations")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.6, gjson.Get(body, "allocations.mom").Float())
}
