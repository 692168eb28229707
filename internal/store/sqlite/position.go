package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"

	"midas/internal/store/model"
)

// positionRepository implements the PositionRepository interface.
type positionRepository struct {
	db *gorm.DB
}

func NewPositionRepo(db *gorm.DB) *positionRepository {
	return &positionRepository{db: db}
}

// ReplaceAll swaps an account's positions inside one transaction so the
// persisted ledger is always a consistent snapshot.
func (r *positionRepository) ReplaceAll(ctx context.Context, account int, recs []model.PositionModel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account = ?", account).Delete(&model.PositionModel{}).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		now := time.Now().Unix()
		for i := range recs {
			recs[i].ID = 0
			recs[i].Account = account
			recs[i].UpdatedAtUnix = now
		}
		return tx.Create(&recs).Error
	})
}

func (r *positionRepository) List(ctx context.Context, account int) ([]model.PositionModel, error) {
	var recs []model.PositionModel
	if err := r.db.WithContext(ctx).
		Where("account = ?", account).
		Order("symbol ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
