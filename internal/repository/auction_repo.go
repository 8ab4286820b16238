package repository

import (
	"context"
	"errors"

	"auctionsystem/internal/model"

	"gorm.io/gorm"
)

var ErrAuctionNotFound = errors.New("拍卖不存在")

type AuctionRepository struct {
	db *gorm.DB
}

func NewAuctionRepository(db *gorm.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

func (r *AuctionRepository) Create(ctx context.Context, tx *gorm.DB, auction *model.Auction) error {
	return conn(r.db, tx).WithContext(ctx).Create(auction).Error
}

func (r *AuctionRepository) GetByID(ctx context.Context, tx *gorm.DB, auctionID int64) (*model.Auction, error) {
	var auction model.Auction
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", auctionID).First(&auction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuctionNotFound
		}
		return nil, err
	}
	return &auction, nil
}

// IncrementSupply 发放计数加一
//
// 限量时条件写在 WHERE 里：distributed_supply < item_total_supply，
// 并发发放最多只有 total_supply 次能成功，不会超卖
func (r *AuctionRepository) IncrementSupply(ctx context.Context, tx *gorm.DB, auctionID int64, limited bool) (bool, error) {
	query := conn(r.db, tx).WithContext(ctx).
		Model(&model.Auction{}).
		Where("id = ?", auctionID)
	if limited {
		query = query.Where("item_total_supply IS NOT NULL AND distributed_supply < item_total_supply")
	}

	result := query.UpdateColumn("distributed_supply", gorm.Expr("distributed_supply + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *AuctionRepository) SetActiveRound(ctx context.Context, tx *gorm.DB, auctionID, roundID int64, roundNo int) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.Auction{}).
		Where("id = ?", auctionID).
		Updates(map[string]interface{}{
			"active_round_id": roundID,
			"active_round_no": roundNo,
		}).Error
}

func (r *AuctionRepository) MarkFinished(ctx context.Context, tx *gorm.DB, auctionID int64) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.Auction{}).
		Where("id = ? AND status = ?", auctionID, model.AuctionStatusLive).
		Update("status", model.AuctionStatusFinished).Error
}
