package position

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"midas/internal/order"
	"midas/internal/store/model"
)

// compDoc preserves composition insertion order across restarts; a JSON
// object would lose it.
type compDoc struct {
	Strategy string `json:"strategy"`
	Qty      int    `json:"qty"`
}

type stopDoc struct {
	Symbol      string    `json:"symbol"`
	Quantity    int       `json:"quantity"`
	StopPrice   float64   `json:"stop_price"`
	BrokerID    int64     `json:"id"`
	Composition []compDoc `json:"composition"`
}

func compToDocs(c order.Composition) []compDoc {
	docs := make([]compDoc, 0, c.Len())
	for _, e := range c.Entries() {
		docs = append(docs, compDoc{Strategy: e.Strategy, Qty: e.Qty})
	}
	return docs
}

func compFromDocs(docs []compDoc) order.Composition {
	entries := make([]order.CompEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, order.CompEntry{Strategy: d.Strategy, Qty: d.Qty})
	}
	return order.NewComposition(entries...)
}

func (p *Position) toModel() (model.PositionModel, error) {
	comp, err := json.Marshal(compToDocs(p.Composition))
	if err != nil {
		return model.PositionModel{}, err
	}
	prices, err := json.Marshal(p.FillPrices)
	if err != nil {
		return model.PositionModel{}, err
	}
	stops := make([]stopDoc, 0, len(p.StopLosses))
	for _, s := range p.StopLosses {
		stops = append(stops, stopDoc{
			Symbol:      s.Symbol,
			Quantity:    s.Quantity,
			StopPrice:   s.TriggerPrice,
			BrokerID:    s.BrokerID,
			Composition: compToDocs(s.Composition),
		})
	}
	stopsJSON, err := json.Marshal(stops)
	if err != nil {
		return model.PositionModel{}, err
	}
	return model.PositionModel{
		Symbol:      p.Symbol,
		Quantity:    p.Quantity,
		Composition: datatypes.JSON(comp),
		FillPrices:  datatypes.JSON(prices),
		StopLosses:  datatypes.JSON(stopsJSON),
	}, nil
}

func positionFromModel(rec model.PositionModel) (*Position, error) {
	var compDocs []compDoc
	if err := json.Unmarshal(rec.Composition, &compDocs); err != nil {
		return nil, fmt.Errorf("position %s: composition: %w", rec.Symbol, err)
	}
	fillPrices := make(map[string]float64)
	if len(rec.FillPrices) > 0 {
		if err := json.Unmarshal(rec.FillPrices, &fillPrices); err != nil {
			return nil, fmt.Errorf("position %s: fill prices: %w", rec.Symbol, err)
		}
	}
	var stopDocs []stopDoc
	if len(rec.StopLosses) > 0 {
		if err := json.Unmarshal(rec.StopLosses, &stopDocs); err != nil {
			return nil, fmt.Errorf("position %s: stop losses: %w", rec.Symbol, err)
		}
	}
	stops := make([]*order.Order, 0, len(stopDocs))
	for _, d := range stopDocs {
		stop := order.NewStop(d.Symbol, d.Quantity, d.StopPrice)
		stop.BrokerID = d.BrokerID
		stop.Composition = compFromDocs(d.Composition)
		stops = append(stops, stop)
	}
	return &Position{
		Symbol:      rec.Symbol,
		Quantity:    rec.Quantity,
		Composition: compFromDocs(compDocs),
		FillPrices:  fillPrices,
		StopLosses:  stops,
	}, nil
}

func (l *Ledger) persist(ctx context.Context, account int) error {
	recs := make([]model.PositionModel, 0, len(l.positions[account]))
	for _, p := range l.positions[account] {
		rec, err := p.toModel()
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	return l.repo.ReplaceAll(ctx, account, recs)
}

// Load restores an account's ledger from the store, then reconciles against
// the broker so a stale snapshot surfaces immediately at startup.
func (l *Ledger) Load(ctx context.Context, account int) error {
	recs, err := l.repo.List(ctx, account)
	if err != nil {
		return err
	}
	loaded := make([]*Position, 0, len(recs))
	for _, rec := range recs {
		p, err := positionFromModel(rec)
		if err != nil {
			return err
		}
		loaded = append(loaded, p)
	}
	l.positions[account] = loaded
	l.Update(ctx, account)
	return nil
}
