package position

import (
	"context"
	"fmt"
	"math"

	"midas/internal/alert"
	"midas/internal/broker"
	"midas/internal/logger"
	"midas/internal/mktcal"
	"midas/internal/order"
	"midas/internal/store"
)

// Broker is the slice of the broker boundary the ledger needs.
type Broker interface {
	GetOrder(ctx context.Context, brokerID int64, account int) (broker.OrderReport, error)
	CancelOrder(ctx context.Context, brokerID int64, account int) error
	Positions(ctx context.Context, account int) (map[string]int, error)
}

// Ledger holds both accounts' positions. It is mutated only from the
// scheduler goroutine, so it carries no lock.
type Ledger struct {
	broker  Broker
	repo    store.PositionRepository
	pnl     store.PnLRepository
	alerter *alert.Alerter

	positions [2][]*Position

	// alerted carries the previous reconcile pass's messages per account so
	// an unchanged divergence is alerted once, not every cycle.
	alerted [2]map[string]struct{}
}

func NewLedger(b Broker, repo store.PositionRepository, pnl store.PnLRepository, alerter *alert.Alerter) *Ledger {
	return &Ledger{broker: b, repo: repo, pnl: pnl, alerter: alerter}
}

func (l *Ledger) Positions(account int) []*Position {
	out := make([]*Position, len(l.positions[account]))
	copy(out, l.positions[account])
	return out
}

func (l *Ledger) BySymbol(symbol string, account int) *Position {
	for _, p := range l.positions[account] {
		if p.Symbol == symbol {
			return p
		}
	}
	return nil
}

// ByStrategy returns the positions a strategy contributed to.
func (l *Ledger) ByStrategy(strategy string, account int) []*Position {
	var out []*Position
	for _, p := range l.positions[account] {
		if _, ok := p.Composition.Get(strategy); ok {
			out = append(out, p)
		}
	}
	return out
}

// Register records a fill into the ledger: find-or-create the position for
// the symbol, add the composition additively, then persist the whole account
// snapshot.
func (l *Ledger) Register(ctx context.Context, account int, symbol string, quantity int, comp order.Composition, fillPrice float64, stopLosses []*order.Order) error {
	p := l.BySymbol(symbol, account)
	if p == nil {
		p = newPosition(symbol, quantity, comp, fillPrice, stopLosses)
		if p.empty() && quantity == 0 {
			// zero-quantity registration with nothing to track
			return l.persist(ctx, account)
		}
		l.positions[account] = append(l.positions[account], p)
	} else {
		p.Quantity += quantity
		l.applyComposition(ctx, p, comp, fillPrice)
		p.StopLosses = append(p.StopLosses, stopLosses...)
		if p.empty() {
			l.remove(p, account)
		}
	}
	return l.persist(ctx, account)
}

// applyComposition folds fills into a position's composition. A strategy
// whose contribution nets to zero has closed its round trip; its percent
// return against the entered fill price is recorded for the allocator.
func (l *Ledger) applyComposition(ctx context.Context, p *Position, comp order.Composition, fillPrice float64) {
	for _, e := range comp.Entries() {
		openPrice := p.FillPrices[e.Strategy]
		p.Composition.Add(e.Strategy, e.Qty)
		if _, still := p.Composition.Get(e.Strategy); !still {
			delete(p.FillPrices, e.Strategy)
			l.recordRealized(ctx, e.Strategy, openPrice, fillPrice)
		} else {
			p.FillPrices[e.Strategy] = fillPrice
		}
	}
}

func (l *Ledger) recordRealized(ctx context.Context, strategy string, openPrice, closePrice float64) {
	if openPrice == 0 {
		logger.Warnf("position: no entry price for %s, skipping realized P&L", strategy)
		return
	}
	pl := math.Round(((closePrice-openPrice)/openPrice)*100*100) / 100
	date := mktcal.Today().Format("2006-01-02")
	if err := l.pnl.Record(ctx, strategy, date, pl); err != nil {
		logger.Warnf("position: recording realized P&L for %s failed: %v", strategy, err)
		return
	}
	logger.Infof("position: %s realized %.2f%% (open=%.2f close=%.2f)", strategy, pl, openPrice, closePrice)
}

// CancelStopLoss detaches a stop-loss from its position and cancels it at the
// broker if it was transmitted.
func (l *Ledger) CancelStopLoss(ctx context.Context, p *Position, stop *order.Order, account int) error {
	p.removeStopLoss(stop)
	if p.empty() {
		l.remove(p, account)
	}
	if stop.BrokerID == 0 {
		return nil
	}
	return l.broker.CancelOrder(ctx, stop.BrokerID, account)
}

// Update polls every transmitted stop-loss, applies its fills to the owning
// position, then reconciles the ledger against the broker.
func (l *Ledger) Update(ctx context.Context, account int) {
	for _, p := range l.Positions(account) {
		l.updateStopLosses(ctx, p, account)
	}
	l.Reconcile(ctx, account)
}

func (l *Ledger) updateStopLosses(ctx context.Context, p *Position, account int) {
	stops := make([]*order.Order, len(p.StopLosses))
	copy(stops, p.StopLosses)
	for _, stop := range stops {
		if stop.BrokerID == 0 {
			continue
		}
		report, err := l.broker.GetOrder(ctx, stop.BrokerID, account)
		if err != nil {
			logger.Warnf("position: stop-loss %d status check failed: %v", stop.BrokerID, err)
			continue
		}
		if report.FilledQuantity == 0 {
			continue
		}

		// Stop-loss quantity carries the closing sign, so the signed fill
		// applies directly to the position.
		filled := report.FilledQuantity
		if stop.Quantity < 0 {
			filled = -filled
		}
		part := stop.SplitComposition(filled)
		stop.Quantity -= filled
		p.Quantity += filled
		l.applyComposition(ctx, p, part, report.ExecutionPrice)

		if report.RemainingQuantity == 0 {
			p.removeStopLoss(stop)
		}
		if p.Quantity == 0 && p.empty() {
			l.remove(p, account)
		}
	}
	if err := l.persist(ctx, account); err != nil {
		logger.Warnf("position: persisting account %d failed: %v", account, err)
	}
}

// Reconcile compares the ledger against the broker's authoritative positions
// map. Every divergence is alerted and none is auto-corrected; a mismatch may
// be a bug or an out-of-band manual trade, and only the operator can tell.
func (l *Ledger) Reconcile(ctx context.Context, account int) {
	brokerPositions, err := l.broker.Positions(ctx, account)
	if err != nil {
		logger.Warnf("position: fetching broker positions failed: %v", err)
		return
	}
	// the broker map is caller-owned; matched symbols are struck off a copy
	remaining := make(map[string]int, len(brokerPositions))
	for symbol, qty := range brokerPositions {
		remaining[symbol] = qty
	}

	var mismatches []string
	for _, p := range l.Positions(account) {
		actual, ok := remaining[p.Symbol]
		if !ok {
			if p.Direction() != order.Flat {
				mismatches = append(mismatches, fmt.Sprintf("Unaccounted for position: %q", p.Symbol))
			}
			continue
		}
		if p.Quantity != actual {
			mismatches = append(mismatches, fmt.Sprintf("Unexpected position quantity in %q. Expected: %d actual: %d", p.Symbol, p.Quantity, actual))
		}
		delete(remaining, p.Symbol)
	}
	if len(remaining) > 0 {
		mismatches = append(mismatches, fmt.Sprintf("Unregistered position in broker: %v", remaining))
	}

	seen := make(map[string]struct{}, len(mismatches))
	for _, msg := range mismatches {
		seen[msg] = struct{}{}
		if _, already := l.alerted[account][msg]; !already {
			l.alerter.Alert(msg)
		}
	}
	l.alerted[account] = seen
}

func (l *Ledger) remove(p *Position, account int) {
	for i, q := range l.positions[account] {
		if q == p {
			l.positions[account] = append(l.positions[account][:i], l.positions[account][i+1:]...)
			return
		}
	}
}
