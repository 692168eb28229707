// Package position tracks per-account holdings, realizes per-strategy P&L
// when a strategy's contribution nets to zero, and reconciles the local
// ledger against the broker's authoritative account state.
package position

import (
	"midas/internal/order"
)

// Position is one (account, symbol) holding. Quantity is signed like order
// quantities; Composition attributes it to strategies and FillPrices keeps
// each strategy's entered price for realized-P&L computation.
type Position struct {
	Symbol      string
	Quantity    int
	Composition order.Composition
	FillPrices  map[string]float64
	StopLosses  []*order.Order
}

func newPosition(symbol string, quantity int, comp order.Composition, fillPrice float64, stopLosses []*order.Order) *Position {
	fillPrices := make(map[string]float64, comp.Len())
	for _, e := range comp.Entries() {
		fillPrices[e.Strategy] = fillPrice
	}
	return &Position{
		Symbol:      symbol,
		Quantity:    quantity,
		Composition: comp,
		FillPrices:  fillPrices,
		StopLosses:  stopLosses,
	}
}

func (p *Position) Direction() order.Direction {
	switch {
	case p.Quantity > 0:
		return order.Long
	case p.Quantity < 0:
		return order.Short
	default:
		return order.Flat
	}
}

// empty reports whether the position carries nothing worth tracking.
func (p *Position) empty() bool {
	return p.Composition.Len() == 0 && len(p.StopLosses) == 0
}

func (p *Position) removeStopLoss(stop *order.Order) {
	for i, s := range p.StopLosses {
		if s == stop {
			p.StopLosses = append(p.StopLosses[:i], p.StopLosses[i+1:]...)
			return
		}
	}
}
