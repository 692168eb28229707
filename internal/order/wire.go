package order

import "strconv"

// kindWireFields contributes the kind-specific wire attributes.
var kindWireFields = map[Kind]func(o *Order, body map[string]any){
	Market: func(o *Order, body map[string]any) {},
	Limit: func(o *Order, body map[string]any) {
		body["price"] = strconv.FormatFloat(o.LimitPrice, 'f', -1, 64)
	},
	MarketOnClose: func(o *Order, body map[string]any) {},
	Stop: func(o *Order, body map[string]any) {
		body["stopPrice"] = o.TriggerPrice
	},
}

// WireJSON renders the order in the broker's order-placement schema. Orders
// with a flip-split child are sent as a TRIGGER strategy so the child only
// activates once the parent fills; attached stop-losses are not included,
// they are transmitted separately after the fill.
func (o *Order) WireJSON() map[string]any {
	strategyType := "SINGLE"
	if o.Child != nil {
		strategyType = "TRIGGER"
	}
	body := map[string]any{
		"orderType":         o.Kind.String(),
		"session":           string(o.Session),
		"duration":          string(o.Duration),
		"orderStrategyType": strategyType,
		"orderLegCollection": []map[string]any{
			{
				"instruction": o.Instruction(),
				"quantity":    abs(o.Quantity),
				"instrument": map[string]any{
					"symbol":    o.Symbol,
					"assetType": "EQUITY",
				},
			},
		},
	}
	if o.Child != nil {
		body["childOrderStrategies"] = []map[string]any{o.Child.WireJSON()}
	}
	kindWireFields[o.Kind](o, body)
	return body
}
