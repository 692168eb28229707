package runner

import "context"

// SplitTracker reports symbols with a pending stock split. Orders for those
// symbols are dropped for the cycle; a split between order placement and fill
// would corrupt every share count downstream.
type SplitTracker interface {
	Splitting(ctx context.Context) (map[string]struct{}, error)
}

// StaticSplitTracker serves a fixed symbol list from config. A feed-backed
// tracker satisfies the same interface.
type StaticSplitTracker struct {
	symbols map[string]struct{}
}

func NewStaticSplitTracker(symbols []string) *StaticSplitTracker {
	t := &StaticSplitTracker{symbols: make(map[string]struct{}, len(symbols))}
	for _, s := range symbols {
		t.symbols[s] = struct{}{}
	}
	return t
}

func (t *StaticSplitTracker) Splitting(ctx context.Context) (map[string]struct{}, error) {
	return t.symbols, nil
}
