package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"

	"midas/internal/store/model"
)

// pnlRepository implements the PnLRepository interface.
type pnlRepository struct {
	db *gorm.DB
}

func NewPnLRepo(db *gorm.DB) *pnlRepository {
	return &pnlRepository{db: db}
}

// Record appends one realized-trade profit percentage for a strategy-day.
func (r *pnlRepository) Record(ctx context.Context, strategy, date string, pnlPercent float64) error {
	rec := model.StrategyPnLModel{
		Strategy:      strategy,
		Date:          date,
		PnLPercent:    pnlPercent,
		CreatedAtUnix: time.Now().Unix(),
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *pnlRepository) Series(ctx context.Context, strategy string, since time.Time) ([]model.StrategyPnLModel, error) {
	var recs []model.StrategyPnLModel
	if err := r.db.WithContext(ctx).
		Where("strategy = ? AND date >= ?", strategy, since.Format("2006-01-02")).
		Order("date ASC, id ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *pnlRepository) Strategies(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.WithContext(ctx).
		Model(&model.StrategyPnLModel{}).
		Distinct("strategy").
		Order("strategy ASC").
		Pluck("strategy", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}
