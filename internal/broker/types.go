// Package broker defines the boundary to the brokerage and its TD Ameritrade
// implementation. The core depends only on the semantic operations here, not
// on the transport.
package broker

import (
	"context"
	"errors"
	"time"

	"midas/internal/order"
)

var (
	// ErrOrderRejected marks a submission the broker refused; the order is
	// sidelined and alerted, never retried.
	ErrOrderRejected = errors.New("broker rejected order")
	// ErrCapitalLimit marks a rolling traded-capital cap breach; placement
	// halts for the cycle.
	ErrCapitalLimit = errors.New("traded capital limit reached")
	// ErrOrderNotFound is returned when no order exists for a broker id.
	ErrOrderNotFound = errors.New("broker order not found")
)

// OrderReport is the broker's view of one order.
type OrderReport struct {
	OrderID           int64
	ChildOrderID      int64
	Status            string
	FilledQuantity    int // unsigned share count, direction-agnostic
	RemainingQuantity int
	ExecutionPrice    float64
}

// Cancelled reports a terminal broker-side cancellation.
func (r OrderReport) Cancelled() bool { return r.Status == "CANCELED" }

// AccountSnapshot carries the balances and limits sizing depends on.
type AccountSnapshot struct {
	AccountID                   string
	BuyingPower                 float64
	BuyingPowerNonMarginable    float64
	AvailableFundsNonMarginable float64
	MaintenanceRequirement      float64
	DayTradesLeft               int
}

// Client is the full broker boundary.
type Client interface {
	PlaceOrder(ctx context.Context, o *order.Order, account int) (int64, error)
	PlaceOrders(ctx context.Context, orders []*order.Order, account int) error
	CancelOrder(ctx context.Context, brokerID int64, account int) error
	GetOrder(ctx context.Context, brokerID int64, account int) (OrderReport, error)
	GetOrders(ctx context.Context, account int, from time.Time) ([]OrderReport, error)
	Account(ctx context.Context, account int) (AccountSnapshot, error)
	Positions(ctx context.Context, account int) (map[string]int, error)
}
