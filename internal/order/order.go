// Package order models broker-bound instructions: a tagged order kind, the
// merge/split algebra used to combine concurrent strategy requests, and the
// per-account pool that serializes them.
package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Direction int

const (
	Flat Direction = iota
	Long
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// PositionEffect records whether an order opens (increases magnitude of) or
// closes (reduces magnitude of) a position.
type PositionEffect int

const (
	EffectUnset PositionEffect = iota
	Open
	Close
)

type Session string

const (
	SessionNormal Session = "NORMAL"
	SessionAM     Session = "AM"
	SessionPM     Session = "PM"
)

type Duration string

const (
	DurationDay Duration = "DAY"
	DurationGTC Duration = "GOOD_TILL_CANCEL"
)

// Order is a single broker-bound instruction. Quantity is signed: positive
// increases long exposure, negative increases short exposure, zero means the
// allocator has not sized it yet (Unsized) or has sized it away.
type Order struct {
	Symbol   string
	Quantity int
	Kind     Kind

	// Unsized orders carry a per-strategy weight instead of share counts;
	// the allocator resolves them into whole shares.
	Unsized bool

	LimitPrice   float64
	TriggerPrice float64

	Session  Session
	Duration Duration

	// StopFrac, when non-zero, derives an attached stop-loss at
	// CurrentPrice*(1+StopFrac).
	StopFrac float64

	Effect       PositionEffect
	Composition  Composition
	CurrentPrice float64

	BrokerID  int64
	FillTries int

	// Parent/Child represent a single position-direction flip: the parent
	// closes the old position, the child opens the new one. Never deeper
	// than one level.
	Parent *Order
	Child  *Order

	StopLosses []*Order
}

func NewMarket(symbol string, qty int) *Order {
	return &Order{Symbol: symbol, Quantity: qty, Kind: Market, Session: SessionNormal, Duration: DurationDay}
}

func NewLimit(symbol string, qty int, price float64) *Order {
	return &Order{Symbol: symbol, Quantity: qty, Kind: Limit, LimitPrice: price, Session: SessionNormal, Duration: DurationDay}
}

func NewMarketOnClose(symbol string, qty int) *Order {
	return &Order{Symbol: symbol, Quantity: qty, Kind: MarketOnClose, Session: SessionNormal, Duration: DurationDay}
}

func NewStop(symbol string, qty int, trigger float64) *Order {
	return &Order{Symbol: symbol, Quantity: qty, Kind: Stop, TriggerPrice: trigger, Session: SessionNormal, Duration: DurationGTC}
}

func (o *Order) Direction() Direction {
	switch {
	case o.Quantity > 0:
		return Long
	case o.Quantity < 0:
		return Short
	default:
		return Flat
	}
}

// Instruction maps sign and position effect to the broker instruction.
func (o *Order) Instruction() string {
	if o.Quantity > 0 {
		if o.Effect == Open {
			return "BUY"
		}
		return "BUY_TO_COVER"
	}
	if o.Effect == Open {
		return "SELL_SHORT"
	}
	return "SELL"
}

// CanMergeWith reports whether other can be combined into o: same kind, same
// symbol, and kind-specific fields equal.
func (o *Order) CanMergeWith(other *Order) bool {
	if o.Kind != other.Kind || o.Symbol != other.Symbol {
		return false
	}
	return kindMergeChecks[o.Kind](o, other)
}

// MergeWith folds other into o: quantities and compositions add, stop-losses
// append. If o already carries a child (the live remainder of a flip-driven
// split), the merge is delegated to the child. If the merge reverses o's
// direction and o itself is a child, the flip that motivated its split no
// longer applies and o folds back into its parent.
func (o *Order) MergeWith(other *Order) {
	if o.Child != nil {
		o.Child.MergeWith(other)
		return
	}

	oldDirection := o.Direction()

	o.Quantity += other.Quantity
	o.Composition.Merge(other.Composition)
	o.StopLosses = append(o.StopLosses, other.StopLosses...)

	if o.Parent != nil && o.Direction() != oldDirection {
		o.MergeIntoParent()
	}
}

// MergeIntoParent dissolves a flip split by folding o back into its parent.
func (o *Order) MergeIntoParent() {
	parent := o.Parent
	parent.Child = nil
	o.Parent = nil
	parent.MergeWith(o)
}

// SplitComposition removes qty shares (signed, matching the order's
// direction) from the composition greedily in insertion order and returns the
// extracted sub-composition. Strategies whose remaining contribution reaches
// zero are dropped from the residual; no zero entry survives on either side.
func (o *Order) SplitComposition(qty int) Composition {
	return o.Composition.Split(qty)
}

// AttachChild links a flip-split child. An order never has more than one
// child; a second attach is a programming error.
func (o *Order) AttachChild(child *Order) {
	if o.Child != nil {
		panic(fmt.Sprintf("order %s already has a child order", o.Symbol))
	}
	o.Child = child
	child.Parent = o
}

func (o *Order) String() string {
	switch o.Kind {
	case Limit:
		return fmt.Sprintf("LMT: %s %s, price=%v, qty=%d", o.Instruction(), o.Symbol, o.LimitPrice, o.Quantity)
	case MarketOnClose:
		return fmt.Sprintf("MOC: %s %s, qty=%d", o.Instruction(), o.Symbol, o.Quantity)
	case Stop:
		return fmt.Sprintf("STP: %s %s, qty=%d, trigger=%v", o.Instruction(), o.Symbol, o.Quantity, o.TriggerPrice)
	default:
		return fmt.Sprintf("MKT: %s %s, qty=%d", o.Instruction(), o.Symbol, o.Quantity)
	}
}

// StopPriceFor derives a stop trigger from a fill price and a signed stop
// fraction, rounded to cents.
func StopPriceFor(price, frac float64) float64 {
	p := decimal.NewFromFloat(price)
	trigger := p.Add(p.Mul(decimal.NewFromFloat(frac)))
	f, _ := trigger.Round(2).Float64()
	return f
}
