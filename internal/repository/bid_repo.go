package repository

import (
	"context"
	"errors"
	"time"

	"auctionsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrOptimisticLock = errors.New("乐观锁冲突，请重试")

type BidRepository struct {
	db *gorm.DB
}

func NewBidRepository(db *gorm.DB) *BidRepository {
	return &BidRepository{db: db}
}

// GetActive 查询用户在某场拍卖的当前出价，没有返回 nil
func (r *BidRepository) GetActive(ctx context.Context, tx *gorm.DB, auctionID, userID int64) (*model.Bid, error) {
	var bid model.Bid
	err := conn(r.db, tx).WithContext(ctx).
		Where("auction_id = ? AND user_id = ?", auctionID, userID).
		First(&bid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bid, nil
}

// Insert 首次出价，(auction_id, user_id) 冲突时返回 false
func (r *BidRepository) Insert(ctx context.Context, tx *gorm.DB, bid *model.Bid) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "auction_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(bid)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateAmount 加价，version 不匹配说明被并发修改过
func (r *BidRepository) UpdateAmount(ctx context.Context, tx *gorm.DB, bidID, expectedVersion, roundID, amount int64, lastBidAt time.Time) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Bid{}).
		Where("id = ? AND version = ?", bidID, expectedVersion).
		Updates(map[string]interface{}{
			"round_id":    roundID,
			"amount":      amount,
			"last_bid_at": lastBidAt,
			"version":     gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// ListByRound 轮次内全部出价，按 金额降序、出价时间升序、ID 升序 排列
func (r *BidRepository) ListByRound(ctx context.Context, tx *gorm.DB, roundID int64) ([]*model.Bid, error) {
	var bids []*model.Bid
	err := conn(r.db, tx).WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("amount DESC, last_bid_at ASC, id ASC").
		Find(&bids).Error
	return bids, err
}
