package livehttp

import (
	"midas/internal/order"
	"midas/internal/position"
)

// PositionView 是持仓的对外 JSON 形态。
type PositionView struct {
	Symbol      string             `json:"symbol"`
	Quantity    int                `json:"quantity"`
	Composition map[string]int     `json:"composition"`
	FillPrices  map[string]float64 `json:"fill_prices"`
	StopLosses  []OrderView        `json:"stop_losses,omitempty"`
}

// OrderView 是订单的对外 JSON 形态。
type OrderView struct {
	Symbol       string         `json:"symbol"`
	Quantity     int            `json:"quantity"`
	Kind         string         `json:"kind"`
	LimitPrice   float64        `json:"limit_price,omitempty"`
	TriggerPrice float64        `json:"trigger_price,omitempty"`
	Effect       string         `json:"effect,omitempty"`
	BrokerID     int64          `json:"broker_id,omitempty"`
	FillTries    int            `json:"fill_tries"`
	Composition  map[string]int `json:"composition"`
}

func viewPosition(p *position.Position) PositionView {
	v := PositionView{
		Symbol:      p.Symbol,
		Quantity:    p.Quantity,
		Composition: p.Composition.Map(),
		FillPrices:  p.FillPrices,
	}
	for _, stop := range p.StopLosses {
		v.StopLosses = append(v.StopLosses, viewOrder(stop))
	}
	return v
}

func viewOrder(o *order.Order) OrderView {
	v := OrderView{
		Symbol:       o.Symbol,
		Quantity:     o.Quantity,
		Kind:         o.Kind.String(),
		LimitPrice:   o.LimitPrice,
		TriggerPrice: o.TriggerPrice,
		BrokerID:     o.BrokerID,
		FillTries:    o.FillTries,
		Composition:  o.Composition.Map(),
	}
	switch o.Effect {
	case order.Open:
		v.Effect = "OPEN"
	case order.Close:
		v.Effect = "CLOSE"
	}
	return v
}
