// Package runner drives one execution cycle per account: refresh state,
// gather strategy orders, size them, merge them through the pool, resolve
// position effects against current holdings, transmit, and book fill checks.
package runner

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"midas/internal/alert"
	"midas/internal/logger"
	"midas/internal/order"
	"midas/internal/position"
	"midas/internal/schedule"
	"midas/internal/strategy"
)

// Broker is the slice of the broker boundary the runner needs. CancelOrder
// doubles as the pool's merge canceller.
type Broker interface {
	PlaceOrders(ctx context.Context, orders []*order.Order, account int) error
	CancelOrder(ctx context.Context, brokerID int64, account int) error
}

type Quotes interface {
	Refresh(ctx context.Context, symbols []string) (map[string]float64, error)
}

type Allocator interface {
	AllocateToOrders(ctx context.Context, orders []*order.Order, account int) error
}

// FillScheduler books the first poll for transmitted orders.
type FillScheduler interface {
	ScheduleChecks(ctx context.Context, orders []*order.Order, account int)
}

type Scheduler interface {
	AddClock(hour, min int, name string, task schedule.Task)
}

type phase int

const (
	buyPhase phase = iota
	sellPhase
)

func (p phase) String() string {
	if p == buyPhase {
		return "buy"
	}
	return "sell"
}

type job struct {
	strat strategy.Strategy
	phase phase
}

type Runner struct {
	broker     Broker
	pool       *order.Pool
	ledger     *position.Ledger
	quotes     Quotes
	allocator  Allocator
	checker    FillScheduler
	sched      Scheduler
	splits     SplitTracker
	alerter    *alert.Alerter
	strategies []strategy.Strategy

	// lastAccount alternates which account goes first each cycle.
	lastAccount int
}

func New(b Broker, pool *order.Pool, ledger *position.Ledger, quotes Quotes, allocator Allocator, checker FillScheduler, sched Scheduler, splits SplitTracker, alerter *alert.Alerter, strategies []strategy.Strategy) *Runner {
	return &Runner{
		broker:      b,
		pool:        pool,
		ledger:      ledger,
		quotes:      quotes,
		allocator:   allocator,
		checker:     checker,
		sched:       sched,
		splits:      splits,
		alerter:     alerter,
		strategies:  strategies,
		lastAccount: 1,
	}
}

type clockKey struct {
	hour, min int
}

// Start books every strategy's buy and sell clocks. Strategies sharing a
// clock run in one cycle so their orders merge in the pool before
// transmission.
func (r *Runner) Start(ctx context.Context) {
	groups := make(map[clockKey][]job)
	for _, s := range r.strategies {
		bh, bm := s.BuyClock()
		groups[clockKey{bh, bm}] = append(groups[clockKey{bh, bm}], job{strat: s, phase: buyPhase})
		sh, sm := s.SellClock()
		groups[clockKey{sh, sm}] = append(groups[clockKey{sh, sm}], job{strat: s, phase: sellPhase})
	}
	for key, jobs := range groups {
		r.schedule(ctx, key, jobs)
	}
}

func (r *Runner) schedule(ctx context.Context, key clockKey, jobs []job) {
	r.sched.AddClock(key.hour, key.min, "run strategies", func() {
		r.Run(ctx, jobs)
		r.schedule(ctx, key, jobs)
	})
}

func (r *Runner) nextAccount() int {
	r.lastAccount = 1 - r.lastAccount
	return r.lastAccount
}

// Run executes one cycle for both accounts, alternating which goes first.
func (r *Runner) Run(ctx context.Context, jobs []job) {
	r.runAccount(ctx, jobs, r.nextAccount())
	r.runAccount(ctx, jobs, r.nextAccount())
}

func (r *Runner) runAccount(ctx context.Context, jobs []job, account int) {
	trace := uuid.NewString()[:8]
	logger.Infof("runner[%s]: cycle start account=%d jobs=%d", trace, account, len(jobs))

	r.ledger.Update(ctx, account)

	orders := r.gather(ctx, jobs, account)
	orders = r.filterSplits(ctx, trace, orders)
	orders = r.setCurrentPrices(ctx, trace, orders)

	if err := r.allocator.AllocateToOrders(ctx, orders, account); err != nil {
		logger.Errorf("runner[%s]: allocation failed, dropping cycle: %v", trace, err)
		return
	}

	createStopLosses(orders)

	pooled := r.poolOrders(ctx, trace, orders, account)

	r.reparentStopLosses(pooled, account)
	r.resolveEffects(pooled, account)

	for _, o := range pooled {
		logger.Infof("runner[%s]: %s", trace, o)
	}

	r.transmit(ctx, trace, pooled, account)
	r.checker.ScheduleChecks(ctx, pooled, account)
}

// gather runs each due strategy hook and stamps single-strategy compositions
// onto orders that arrive without one.
func (r *Runner) gather(ctx context.Context, jobs []job, account int) []*order.Order {
	env := &strategy.Env{Account: account, Ledger: r.ledger}
	var out []*order.Order
	for _, j := range jobs {
		var orders []*order.Order
		var err error
		if j.phase == buyPhase {
			orders, err = j.strat.Buy(ctx, env)
		} else {
			orders, err = j.strat.Sell(ctx, env)
		}
		if err != nil {
			logger.Errorf("runner: strategy %s %s failed: %v", j.strat.Name(), j.phase, err)
			continue
		}
		for _, o := range orders {
			if o.Composition.Len() == 0 {
				o.Composition = order.NewComposition(order.CompEntry{Strategy: j.strat.Name(), Qty: o.Quantity})
			}
		}
		out = append(out, orders...)
	}
	return out
}

func (r *Runner) filterSplits(ctx context.Context, trace string, orders []*order.Order) []*order.Order {
	splitting, err := r.splits.Splitting(ctx)
	if err != nil {
		logger.Warnf("runner[%s]: split lookup failed, keeping all orders: %v", trace, err)
		return orders
	}
	kept := orders[:0]
	for _, o := range orders {
		if _, ok := splitting[o.Symbol]; ok {
			logger.Warnf("runner[%s]: dropping %s, pending stock split", trace, o.Symbol)
			continue
		}
		kept = append(kept, o)
	}
	return kept
}

// setCurrentPrices stamps live quotes onto the orders. An order whose symbol
// has no quote is dropped; it cannot be sized or repriced.
func (r *Runner) setCurrentPrices(ctx context.Context, trace string, orders []*order.Order) []*order.Order {
	if len(orders) == 0 {
		return orders
	}
	symbolSet := make(map[string]struct{})
	for _, o := range orders {
		symbolSet[o.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	prices, err := r.quotes.Refresh(ctx, symbols)
	if err != nil {
		logger.Warnf("runner[%s]: quote refresh failed: %v", trace, err)
		prices = map[string]float64{}
	}
	kept := orders[:0]
	for _, o := range orders {
		price, ok := prices[o.Symbol]
		if !ok {
			logger.Warnf("runner[%s]: dropping %s, no quote", trace, o.Symbol)
			continue
		}
		o.CurrentPrice = price
		kept = append(kept, o)
	}
	return kept
}

// createStopLosses derives each order's attached stop from its stop fraction:
// opposite quantity, negated composition, trigger offset from the current
// price.
func createStopLosses(orders []*order.Order) {
	for _, o := range orders {
		if o.StopFrac == 0 || o.Quantity == 0 {
			continue
		}
		stop := order.NewStop(o.Symbol, -o.Quantity, order.StopPriceFor(o.CurrentPrice, o.StopFrac))
		entries := o.Composition.Entries()
		negated := make([]order.CompEntry, 0, len(entries))
		for _, e := range entries {
			negated = append(negated, order.CompEntry{Strategy: e.Strategy, Qty: -e.Qty})
		}
		stop.Composition = order.NewComposition(negated...)
		o.StopLosses = append(o.StopLosses, stop)
	}
}

// poolOrders merges the cycle's orders through the pool. A failed cancel of
// an already-transmitted entry sidelines it: the entry stays pooled with its
// broker id so the already-booked fill check observes whatever the broker did,
// but it is not re-transmitted this cycle.
func (r *Runner) poolOrders(ctx context.Context, trace string, orders []*order.Order, account int) []*order.Order {
	var out []*order.Order
	seen := make(map[*order.Order]bool)
	for _, o := range orders {
		merged, err := r.pool.Add(ctx, o, account, r.broker)
		if err != nil {
			logger.Errorf("runner[%s]: pooling %s failed: %v", trace, o, err)
			r.alerter.Alert("Order merge cancel failed: " + merged.String())
			continue
		}
		if !seen[merged] {
			seen[merged] = true
			out = append(out, merged)
		}
	}
	return out
}

// reparentStopLosses re-resolves each order's stops against the position the
// order will leave behind. Stops are consumed FIFO from the least risky
// trigger; a stop straddling the flat point splits into a closing parent and
// an opening market child.
func (r *Runner) reparentStopLosses(orders []*order.Order, account int) {
	for _, o := range orders {
		newQty := o.Quantity
		if p := r.ledger.BySymbol(o.Symbol, account); p != nil {
			newQty += p.Quantity
		}

		// dissolve stale flip splits before re-resolving
		for _, stop := range o.StopLosses {
			if stop.Child != nil {
				stop.Child.MergeIntoParent()
			}
		}
		sort.SliceStable(o.StopLosses, func(i, j int) bool {
			return o.StopLosses[i].TriggerPrice < o.StopLosses[j].TriggerPrice
		})

		for _, stop := range o.StopLosses {
			sacrifice := min(stop.Quantity, -newQty)
			switch {
			case sacrifice == stop.Quantity:
				stop.Effect = order.Close
			case newQty != 0:
				child := order.NewMarket(stop.Symbol, stop.Quantity+newQty)
				child.Effect = order.Open
				stop.Effect = order.Close
				stop.Quantity = sacrifice
				child.Composition = stop.SplitComposition(child.Quantity)
				stop.AttachChild(child)
			default:
				stop.Effect = order.Open
			}
			newQty += sacrifice
		}
	}
}

// resolveEffects stamps each order's position effect against the current
// holding. An order flipping the position's direction splits: the parent
// closes the old position, a child of the same shape opens the new one and
// inherits the stops.
func (r *Runner) resolveEffects(orders []*order.Order, account int) {
	for _, o := range orders {
		p := r.ledger.BySymbol(o.Symbol, account)
		if p == nil || p.Direction() == order.Flat {
			o.Effect = order.Open
			continue
		}

		newQty := p.Quantity + o.Quantity
		switch {
		case newQty == 0:
			o.Effect = order.Close
		case (newQty > 0) == (p.Quantity > 0):
			if abs(newQty) > abs(p.Quantity) {
				o.Effect = order.Open
			} else {
				o.Effect = order.Close
			}
		default:
			child := &order.Order{
				Symbol:       o.Symbol,
				Quantity:     newQty,
				Kind:         o.Kind,
				LimitPrice:   o.LimitPrice,
				TriggerPrice: o.TriggerPrice,
				Session:      o.Session,
				Duration:     o.Duration,
				CurrentPrice: o.CurrentPrice,
				Effect:       order.Open,
			}
			o.Effect = order.Close
			o.Quantity -= newQty
			child.StopLosses = o.StopLosses
			o.StopLosses = nil
			child.Composition = o.SplitComposition(newQty)
			o.AttachChild(child)
		}
	}
}

func (r *Runner) transmit(ctx context.Context, trace string, orders []*order.Order, account int) {
	withQty := make([]*order.Order, 0, len(orders))
	for _, o := range orders {
		if o.Quantity != 0 {
			withQty = append(withQty, o)
		}
	}
	if len(withQty) == 0 {
		return
	}
	if err := r.broker.PlaceOrders(ctx, withQty, account); err != nil {
		logger.Errorf("runner[%s]: transmitting orders failed: %v", trace, err)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
