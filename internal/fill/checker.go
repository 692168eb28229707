package fill

import (
	"context"
	"fmt"
	"time"

	"midas/internal/alert"
	"midas/internal/broker"
	"midas/internal/logger"
	"midas/internal/mktcal"
	"midas/internal/order"
	"midas/internal/position"
	"midas/internal/schedule"
)

// Broker is the slice of the broker boundary fill checking needs.
type Broker interface {
	PlaceOrder(ctx context.Context, o *order.Order, account int) (int64, error)
	PlaceOrders(ctx context.Context, orders []*order.Order, account int) error
	CancelOrder(ctx context.Context, brokerID int64, account int) error
	GetOrder(ctx context.Context, brokerID int64, account int) (broker.OrderReport, error)
	GetOrders(ctx context.Context, account int, from time.Time) ([]broker.OrderReport, error)
}

type Ledger interface {
	Register(ctx context.Context, account int, symbol string, quantity int, comp order.Composition, fillPrice float64, stopLosses []*order.Order) error
	BySymbol(symbol string, account int) *position.Position
}

type Quotes interface {
	Refresh(ctx context.Context, symbols []string) (map[string]float64, error)
}

type Scheduler interface {
	Add(at time.Time, name string, task schedule.Task)
}

type Checker struct {
	broker  Broker
	pool    *order.Pool
	ledger  Ledger
	quotes  Quotes
	sched   Scheduler
	alerter *alert.Alerter
}

func NewChecker(b Broker, pool *order.Pool, ledger Ledger, quotes Quotes, sched Scheduler, alerter *alert.Alerter) *Checker {
	return &Checker{broker: b, pool: pool, ledger: ledger, quotes: quotes, sched: sched, alerter: alerter}
}

// CheckOrders runs one poll cycle over a batch of pooled orders. Orders the
// allocator sized to zero never reached the broker; they register immediately
// as zero-quantity fills. The rest are matched against the day's order book.
func (c *Checker) CheckOrders(ctx context.Context, orders []*order.Order, account int) {
	var unsent, sent []*order.Order
	for _, o := range orders {
		if o.Quantity == 0 {
			unsent = append(unsent, o)
		} else {
			sent = append(sent, o)
		}
	}
	c.checkUnsent(ctx, unsent, account)
	c.checkSent(ctx, sent, account)
}

func (c *Checker) checkUnsent(ctx context.Context, orders []*order.Order, account int) {
	if len(orders) == 0 {
		return
	}
	symbols := make([]string, 0, len(orders))
	for _, o := range orders {
		symbols = append(symbols, o.Symbol)
	}
	prices, err := c.quotes.Refresh(ctx, symbols)
	if err != nil {
		logger.Warnf("fill: quote refresh for unsent orders failed: %v", err)
		prices = map[string]float64{}
	}
	for _, o := range orders {
		price, ok := prices[o.Symbol]
		if !ok {
			price = o.CurrentPrice
		}
		if err := c.ledger.Register(ctx, account, o.Symbol, 0, o.Composition, price, o.StopLosses); err != nil {
			logger.Warnf("fill: registering unsent order %s failed: %v", o, err)
		}
		c.pool.Remove(o, account)
	}
}

func (c *Checker) checkSent(ctx context.Context, orders []*order.Order, account int) {
	if len(orders) == 0 {
		return
	}
	reports, err := c.broker.GetOrders(ctx, account, mktcal.Today())
	if err != nil {
		logger.Warnf("fill: fetching order book failed: %v", err)
	}

	var filled []*order.Order
	for _, o := range orders {
		// an earlier check in this batch may have merged or removed it
		if !c.pool.Contains(o, account) {
			continue
		}
		var report *broker.OrderReport
		for i := range reports {
			if reports[i].OrderID == o.BrokerID {
				report = &reports[i]
				break
			}
		}
		if c.CheckOrder(ctx, o, account, report, o.Kind == order.Limit) {
			filled = append(filled, o)
		}
	}
	c.transmitStopLosses(ctx, filled, account)
}

// CheckOrder polls one order and applies the resulting transition. Returns
// true only on a full fill. FillTries increments exactly once per
// unsuccessful poll, at the end, whatever path the poll took.
func (c *Checker) CheckOrder(ctx context.Context, o *order.Order, account int, report *broker.OrderReport, reprice bool) bool {
	if report == nil {
		r, err := c.broker.GetOrder(ctx, o.BrokerID, account)
		if err != nil {
			logger.Warnf("fill: status lookup for %s (%d) failed: %v", o, o.BrokerID, err)
			r = broker.OrderReport{}
		}
		report = &r
	}

	state := Transition(Snapshot{Quantity: o.Quantity, FillTries: o.FillTries}, *report)

	filled := report.FilledQuantity
	if o.Quantity < 0 {
		filled = -filled
	}

	switch state {
	case Cancelled:
		c.alerter.Alert(fmt.Sprintf("Cancelled: %s. (%d)", o, o.BrokerID))
		c.pool.Remove(o, account)
		return false

	case FullyFilled:
		o.CurrentPrice = report.ExecutionPrice
		if err := c.ledger.Register(ctx, account, o.Symbol, filled, o.Composition, o.CurrentPrice, o.StopLosses); err != nil {
			logger.Warnf("fill: registering fill for %s failed: %v", o, err)
		}
		c.pool.Remove(o, account)
		if child := o.Child; child != nil {
			c.pool.Track(child, account)
			c.sched.Add(CheckTime(child.Kind), "check orders", func() {
				c.CheckOrder(ctx, child, account, nil, child.Kind == order.Limit)
			})
		}
		return true
	}

	// a partial fill applies even on the give-up poll
	if filled != 0 {
		o.Quantity -= filled
		part := o.SplitComposition(filled)
		o.CurrentPrice = report.ExecutionPrice
		if err := c.ledger.Register(ctx, account, o.Symbol, filled, part, o.CurrentPrice, nil); err != nil {
			logger.Warnf("fill: registering partial fill for %s failed: %v", o, err)
		}
	}

	o.FillTries++

	if state == GivenUp {
		if err := c.broker.CancelOrder(ctx, o.BrokerID, account); err != nil {
			logger.Warnf("fill: cancelling given-up order %s failed: %v", o, err)
		}
		c.alerter.Alert(fmt.Sprintf("Unfilled & cancelled: %s. (%d)", o, o.BrokerID))
		c.pool.Remove(o, account)
		return false
	}

	c.sched.Add(CheckTime(o.Kind), "check orders", func() {
		c.CheckOrder(ctx, o, account, nil, reprice)
	})

	if reprice && filled == 0 {
		c.repriceLimit(ctx, o, account)
	}
	return false
}

// repriceLimit chases the market on a limit order whose price has gone stale:
// the limit still sits at the price it was created with while the live market
// has moved away from it.
func (c *Checker) repriceLimit(ctx context.Context, o *order.Order, account int) {
	prices, err := c.quotes.Refresh(ctx, []string{o.Symbol})
	if err != nil {
		logger.Warnf("fill: quote refresh for %s failed: %v", o.Symbol, err)
		return
	}
	market, ok := prices[o.Symbol]
	if !ok || o.LimitPrice != o.CurrentPrice || market == o.CurrentPrice {
		return
	}
	logger.Infof("fill: repricing %s from %.2f to %.2f", o, o.LimitPrice, market)
	if err := c.broker.CancelOrder(ctx, o.BrokerID, account); err != nil {
		logger.Warnf("fill: cancelling stale limit %s failed: %v", o, err)
		return
	}
	o.LimitPrice, o.CurrentPrice = market, market
	if _, err := c.broker.PlaceOrder(ctx, o, account); err != nil {
		logger.Warnf("fill: re-placing limit %s failed: %v", o, err)
	}
}

// transmitStopLosses sends the attached stop-losses of fully filled orders.
// Only short positions receive broker-side stops; long positions keep theirs
// untransmitted.
func (c *Checker) transmitStopLosses(ctx context.Context, filled []*order.Order, account int) {
	var stops []*order.Order
	for _, o := range filled {
		if o.Quantity == 0 || len(o.StopLosses) == 0 {
			continue
		}
		p := c.ledger.BySymbol(o.Symbol, account)
		if p == nil || p.Direction() != order.Short {
			continue
		}
		stops = append(stops, o.StopLosses...)
	}
	if len(stops) == 0 {
		return
	}
	if err := c.broker.PlaceOrders(ctx, stops, account); err != nil {
		logger.Warnf("fill: transmitting stop-losses failed: %v", err)
	}
}

// ScheduleChecks books the first fill poll for a batch of just-transmitted
// orders, grouped by their kind-specific check time.
func (c *Checker) ScheduleChecks(ctx context.Context, orders []*order.Order, account int) {
	groups := make(map[int64][]*order.Order)
	times := make(map[int64]time.Time)
	for _, o := range orders {
		at := CheckTime(o.Kind)
		key := at.Truncate(time.Minute).Unix()
		groups[key] = append(groups[key], o)
		times[key] = at
	}
	for key, group := range groups {
		group := group
		c.sched.Add(times[key], "check orders", func() {
			c.CheckOrders(ctx, group, account)
		})
	}
}
