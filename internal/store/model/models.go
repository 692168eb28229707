package model

import (
	"gorm.io/datatypes"
)

// PositionModel persists one ledger position. Composition, fill prices and
// stop-loss snapshots are stored as JSON documents so the schema survives
// order-shape changes.
type PositionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Account       int            `gorm:"column:account;uniqueIndex:idx_account_symbol,priority:1"`
	Symbol        string         `gorm:"column:symbol;uniqueIndex:idx_account_symbol,priority:2"`
	Quantity      int            `gorm:"column:quantity"`
	Composition   datatypes.JSON `gorm:"column:composition;type:TEXT"`
	FillPrices    datatypes.JSON `gorm:"column:fill_prices;type:TEXT"`
	StopLosses    datatypes.JSON `gorm:"column:stop_losses;type:TEXT"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

// StrategyPnLModel records one realized trade's profit percentage for a
// strategy. A strategy can close several trades on the same day, so rows are
// append-only; the allocator aggregates per day when it reads them back.
type StrategyPnLModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	Strategy      string  `gorm:"column:strategy;index:idx_strategy_date,priority:1"`
	Date          string  `gorm:"column:date;index:idx_strategy_date,priority:2"`
	PnLPercent    float64 `gorm:"column:pnl_percent"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (StrategyPnLModel) TableName() string { return "strategy_pnl" }
