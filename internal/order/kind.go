package order

// Kind tags the concrete order variant. Kind-specific behavior (merge checks,
// wire fields) lives in small dispatch tables instead of per-type virtual
// methods.
type Kind int

const (
	Market Kind = iota
	Limit
	MarketOnClose
	Stop
)

func (k Kind) String() string {
	switch k {
	case Limit:
		return "LIMIT"
	case MarketOnClose:
		return "MARKET_ON_CLOSE"
	case Stop:
		return "STOP"
	default:
		return "MARKET"
	}
}

// kindMergeChecks holds the kind-specific half of CanMergeWith; the base
// symbol+kind check has already passed when these run.
var kindMergeChecks = map[Kind]func(a, b *Order) bool{
	Market:        func(a, b *Order) bool { return true },
	MarketOnClose: func(a, b *Order) bool { return true },
	Limit:         func(a, b *Order) bool { return a.LimitPrice == b.LimitPrice },
	Stop:          func(a, b *Order) bool { return a.TriggerPrice == b.TriggerPrice },
}
