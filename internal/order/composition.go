package order

// CompEntry is one strategy's contribution to an order or position.
// Weight is only meaningful on unsized orders: it is the allocator multiplier
// the strategy requested instead of a concrete share count.
type CompEntry struct {
	Strategy string
	Qty      int
	Weight   float64
}

// Composition is an insertion-ordered mapping from strategy name to the
// signed share count that strategy contributed. The sum of entries always
// equals the owning order's quantity.
type Composition struct {
	entries []CompEntry
}

func NewComposition(entries ...CompEntry) Composition {
	c := Composition{}
	for _, e := range entries {
		if e.Weight != 0 {
			c.entries = append(c.entries, e)
			continue
		}
		c.Add(e.Strategy, e.Qty)
	}
	return c
}

func (c *Composition) Entries() []CompEntry {
	out := make([]CompEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Composition) Len() int { return len(c.entries) }

func (c *Composition) Get(strategy string) (int, bool) {
	for _, e := range c.entries {
		if e.Strategy == strategy {
			return e.Qty, true
		}
	}
	return 0, false
}

// Add credits qty to a strategy, appending it in insertion order on first
// contribution and dropping it once its net contribution returns to zero.
func (c *Composition) Add(strategy string, qty int) {
	for i := range c.entries {
		if c.entries[i].Strategy != strategy {
			continue
		}
		c.entries[i].Qty += qty
		if c.entries[i].Qty == 0 {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
		}
		return
	}
	if qty == 0 {
		return
	}
	c.entries = append(c.entries, CompEntry{Strategy: strategy, Qty: qty})
}

// Merge folds other's entries into c. Sized contributions add share counts;
// unsized contributions add allocator weights, so a merged order keeps every
// strategy's requested capital fraction.
func (c *Composition) Merge(other Composition) {
	for _, e := range other.entries {
		if e.Weight != 0 {
			c.addWeight(e.Strategy, e.Weight)
			continue
		}
		c.Add(e.Strategy, e.Qty)
	}
}

func (c *Composition) addWeight(strategy string, weight float64) {
	for i := range c.entries {
		if c.entries[i].Strategy == strategy {
			c.entries[i].Weight += weight
			return
		}
	}
	c.entries = append(c.entries, CompEntry{Strategy: strategy, Weight: weight})
}

// Set replaces a strategy's entry outright (allocator sizing).
func (c *Composition) Set(strategy string, qty int) {
	for i := range c.entries {
		if c.entries[i].Strategy != strategy {
			continue
		}
		if qty == 0 {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
		c.entries[i].Qty = qty
		c.entries[i].Weight = 0
		return
	}
	if qty != 0 {
		c.entries = append(c.entries, CompEntry{Strategy: strategy, Qty: qty})
	}
}

// Sum returns the signed total contribution.
func (c *Composition) Sum() int {
	total := 0
	for _, e := range c.entries {
		total += e.Qty
	}
	return total
}

// Split extracts qty shares (signed) greedily in insertion order:
// first-contributed, first-sacrificed. Entries emptied by the split are
// removed from the residual; the extracted composition sums to exactly qty.
func (c *Composition) Split(qty int) Composition {
	var out Composition
	remaining := qty
	i := 0
	for remaining != 0 && i < len(c.entries) {
		e := &c.entries[i]
		sacrifice := e.Qty
		if abs(sacrifice) > abs(remaining) {
			sacrifice = remaining
		}
		e.Qty -= sacrifice
		out.entries = append(out.entries, CompEntry{Strategy: e.Strategy, Qty: sacrifice})
		remaining -= sacrifice
		if e.Qty == 0 {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			continue
		}
		i++
	}
	return out
}

// Map returns a plain map view (ordering lost); used for serialization.
func (c *Composition) Map() map[string]int {
	out := make(map[string]int, len(c.entries))
	for _, e := range c.entries {
		out[e.Strategy] = e.Qty
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
