package repository

import (
	"context"
	"errors"

	"auctionsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BidEventRepository struct {
	db *gorm.DB
}

func NewBidEventRepository(db *gorm.DB) *BidEventRepository {
	return &BidEventRepository{db: db}
}

func (r *BidEventRepository) GetByIdempotency(ctx context.Context, tx *gorm.DB, auctionID, userID int64, idempotencyKey string) (*model.BidEvent, error) {
	var event model.BidEvent
	err := conn(r.db, tx).WithContext(ctx).
		Where("auction_id = ? AND user_id = ? AND idempotency_key = ?", auctionID, userID, idempotencyKey).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// Insert 唯一索引是并发裁决者：相同幂等键的并发请求只有一个能插入成功
func (r *BidEventRepository) Insert(ctx context.Context, tx *gorm.DB, event *model.BidEvent) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "auction_id"}, {Name: "user_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
