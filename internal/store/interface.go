// Package store defines the persistence boundary. The ledger and allocator
// depend on these interfaces; sqlite provides the implementation.
package store

import (
	"context"
	"time"

	"midas/internal/store/model"
)

// PositionRepository persists the position ledger snapshot per account.
type PositionRepository interface {
	// ReplaceAll atomically swaps an account's persisted positions for recs.
	ReplaceAll(ctx context.Context, account int, recs []model.PositionModel) error
	List(ctx context.Context, account int) ([]model.PositionModel, error)
}

// PnLRepository records realized per-trade profit percentages by strategy.
// Rows append; a strategy may realize several trades in one day.
type PnLRepository interface {
	Record(ctx context.Context, strategy, date string, pnlPercent float64) error
	// Series returns a strategy's records on or after since, date ascending.
	Series(ctx context.Context, strategy string, since time.Time) ([]model.StrategyPnLModel, error)
	Strategies(ctx context.Context) ([]string, error)
}

type Store interface {
	Positions() PositionRepository
	PnL() PnLRepository
	Close() error
}
