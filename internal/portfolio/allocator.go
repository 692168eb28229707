package portfolio

import (
	"context"
	"sort"

	"midas/internal/broker"
	"midas/internal/config"
	"midas/internal/logger"
	"midas/internal/mktcal"
	"midas/internal/order"
	"midas/internal/store"
)

// AccountSource is the slice of the broker boundary sizing needs.
type AccountSource interface {
	Account(ctx context.Context, account int) (broker.AccountSnapshot, error)
}

// defaultLookback applies to strategies whose manifest sets none.
const defaultLookback = 30

// midasLookback is the extra history pulled when computing the system-wide
// gate, so the aggregate curve has a month of allocations behind it.
const midasLookback = 30

type Allocator struct {
	pnl       store.PnLRepository
	accounts  AccountSource
	targets   map[string]float64
	adjust    bool
	lookbacks map[string]int
}

func NewAllocator(pnl store.PnLRepository, accounts AccountSource, cfg config.AllocationsConfig, lookbacks map[string]int) *Allocator {
	return &Allocator{
		pnl:       pnl,
		accounts:  accounts,
		targets:   cfg.Targets,
		adjust:    cfg.AdjustToUseAllCapital,
		lookbacks: lookbacks,
	}
}

func (a *Allocator) lookback(strategy string) int {
	if lb, ok := a.lookbacks[strategy]; ok && lb > 0 {
		return lb
	}
	return defaultLookback
}

// dailySeries returns a strategy's outlier-trimmed daily mean P&L covering
// its lookback window plus extra days of history.
func (a *Allocator) dailySeries(ctx context.Context, strategy string, extra int) ([]DayPnL, error) {
	since := mktcal.AddTradingDays(mktcal.Today(), -(a.lookback(strategy) + extra))
	recs, err := a.pnl.Series(ctx, strategy, since)
	if err != nil {
		return nil, err
	}
	return DailyMeans(recs), nil
}

// allocationTable computes each strategy's capital fraction per day: the
// configured target, or zero on days the strategy is in drawdown. Returns the
// dates ascending and the per-day fraction maps.
func (a *Allocator) allocationTable(ctx context.Context, strategies []string, extra int) ([]string, map[string]map[string]float64, error) {
	table := make(map[string]map[string]float64)
	for _, strategy := range strategies {
		series, err := a.dailySeries(ctx, strategy, extra)
		if err != nil {
			return nil, nil, err
		}
		for _, dd := range Drawdowns(series, a.lookback(strategy)) {
			frac := a.targets[strategy]
			if dd.InDrawdown {
				frac = 0
			}
			day := table[dd.Date]
			if day == nil {
				day = make(map[string]float64)
				table[dd.Date] = day
			}
			day[strategy] = frac
		}
	}
	dates := make([]string, 0, len(table))
	for date := range table {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	if a.adjust {
		a.adjustTable(strategies, dates, table)
	}
	return dates, table, nil
}

// adjustTable rescales each day's non-zero fractions so their sum matches the
// sum of configured targets, capped at 4x, redistributing capital freed by
// drawn-down strategies.
func (a *Allocator) adjustTable(strategies []string, dates []string, table map[string]map[string]float64) {
	total := 0.0
	for _, strategy := range strategies {
		total += a.targets[strategy]
	}
	for _, date := range dates {
		day := table[date]
		dayTotal := 0.0
		for _, frac := range day {
			dayTotal += frac
		}
		if dayTotal == 0 {
			continue
		}
		mult := total / dayTotal
		if mult > 4 {
			mult = 4
		} else if mult < 0 {
			mult = 0
		}
		for strategy, frac := range day {
			day[strategy] = frac * mult
		}
	}
}

// Allocations returns today's capital fraction per strategy. With no P&L
// history there is no drawdown evidence, so targets apply unmodified.
func (a *Allocator) Allocations(ctx context.Context, strategies []string) (map[string]float64, error) {
	dates, table, err := a.allocationTable(ctx, strategies, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(strategies))
	for _, strategy := range strategies {
		out[strategy] = a.targets[strategy]
	}
	if len(dates) == 0 {
		return out, nil
	}
	last := table[dates[len(dates)-1]]
	for strategy, frac := range last {
		out[strategy] = frac
	}
	return out, nil
}

// MidasInDD computes the system-wide drawdown gate: the aggregate daily P&L
// across strategies, each day weighted by the previous day's allocations
// relative to the maximum allocatable fraction.
func (a *Allocator) MidasInDD(ctx context.Context) (bool, float64, error) {
	strategies := make([]string, 0, len(a.targets))
	for strategy := range a.targets {
		strategies = append(strategies, strategy)
	}
	sort.Strings(strategies)

	trades := make(map[string]map[string]float64, len(strategies))
	for _, strategy := range strategies {
		series, err := a.dailySeries(ctx, strategy, midasLookback)
		if err != nil {
			return false, 0, err
		}
		byDate := make(map[string]float64, len(series))
		for _, day := range series {
			byDate[day.Date] = day.Mean
		}
		trades[strategy] = byDate
	}

	dates, table, err := a.allocationTable(ctx, strategies, midasLookback)
	if err != nil {
		return false, 0, err
	}
	if len(dates) < 2 {
		return false, 0, nil
	}

	maxAlloc := 0.0
	for _, strategy := range strategies {
		maxAlloc += a.targets[strategy]
	}
	if maxAlloc == 0 {
		return false, 0, nil
	}

	// the aggregate curve starts at zero on the first date
	cum, runMax := 0.0, 0.0
	for i := 1; i < len(dates); i++ {
		yesterday, today := table[dates[i-1]], dates[i]
		dayPnL := 0.0
		for strategy, frac := range yesterday {
			dayPnL += trades[strategy][today] * (frac / maxAlloc)
		}
		cum += dayPnL
		if cum > runMax {
			runMax = cum
		}
	}
	dd := runMax - cum
	return dd >= drawdownGate, dd, nil
}

// AllocateToOrders resolves every unsized order into whole shares. When the
// system-wide gate is active, every order's quantity is forced to zero.
func (a *Allocator) AllocateToOrders(ctx context.Context, orders []*order.Order, account int) error {
	if len(orders) == 0 {
		return nil
	}

	inDD, dd, err := a.MidasInDD(ctx)
	if err != nil {
		return err
	}
	if inDD {
		logger.Warnf("portfolio: system drawdown gate active (dd=%.2f), zeroing all orders", dd)
		for _, o := range orders {
			zeroOrder(o)
		}
		return nil
	}

	strategySet := make(map[string]struct{})
	for _, o := range orders {
		for _, e := range o.Composition.Entries() {
			strategySet[e.Strategy] = struct{}{}
		}
	}
	strategies := make([]string, 0, len(strategySet))
	for strategy := range strategySet {
		strategies = append(strategies, strategy)
	}
	sort.Strings(strategies)

	allocations, err := a.Allocations(ctx, strategies)
	if err != nil {
		return err
	}
	snap, err := a.accounts.Account(ctx, account)
	if err != nil {
		return err
	}

	for _, o := range orders {
		if !o.Unsized {
			continue
		}
		for _, e := range o.Composition.Entries() {
			dollars := allocations[e.Strategy] * snap.BuyingPowerNonMarginable
			qty := 0
			if o.CurrentPrice > 0 {
				qty = int(e.Weight * dollars / o.CurrentPrice)
			}
			o.Composition.Set(e.Strategy, qty)
		}
		o.Quantity = o.Composition.Sum()
		o.Unsized = false
		logger.Infof("portfolio: sized %s", o)
	}
	return nil
}

func zeroOrder(o *order.Order) {
	o.Quantity = 0
	for _, e := range o.Composition.Entries() {
		o.Composition.Set(e.Strategy, 0)
	}
	o.Unsized = false
}
