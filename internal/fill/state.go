// Package fill polls transmitted orders, applies partial and full fills to
// the position ledger, and gives up on orders the market will not take.
package fill

import (
	"midas/internal/broker"
)

type State int

const (
	Unfilled State = iota
	PartiallyFilled
	FullyFilled
	Cancelled
	GivenUp
)

func (s State) String() string {
	switch s {
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case FullyFilled:
		return "FULLY_FILLED"
	case Cancelled:
		return "CANCELLED"
	case GivenUp:
		return "GIVEN_UP"
	default:
		return "UNFILLED"
	}
}

// giveUpTries is the poll on which an order that still is not fully filled
// gets cancelled instead of rescheduled.
const giveUpTries = 5

// Snapshot is the slice of an order the transition function reads. Quantity
// is the signed live quantity; FillTries counts completed unsuccessful polls.
type Snapshot struct {
	Quantity  int
	FillTries int
}

// Transition derives an order's state from its snapshot and the broker
// report. Pure function; all effects live in the Checker. FillTries is
// incremented once per unsuccessful poll, so the give-up fires exactly on the
// fifth one, partial fills included.
func Transition(s Snapshot, r broker.OrderReport) State {
	if r.Cancelled() {
		return Cancelled
	}
	filled := r.FilledQuantity
	if s.Quantity < 0 {
		filled = -filled
	}
	if filled == s.Quantity && filled != 0 {
		return FullyFilled
	}
	if s.FillTries+1 >= giveUpTries {
		return GivenUp
	}
	if filled != 0 {
		return PartiallyFilled
	}
	return Unfilled
}
