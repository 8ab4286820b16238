package repository

import (
	"context"
	"errors"

	"auctionsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) InsertIfAbsent(ctx context.Context, tx *gorm.DB, delivery *model.Delivery) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "delivery_key"}},
			DoNothing: true,
		}).
		Create(delivery)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *DeliveryRepository) GetByKey(ctx context.Context, tx *gorm.DB, deliveryKey string) (*model.Delivery, error) {
	var delivery model.Delivery
	err := conn(r.db, tx).WithContext(ctx).Where("delivery_key = ?", deliveryKey).First(&delivery).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &delivery, nil
}

// MarkDelivered 重复完成是空操作：已经 DELIVERED 的行不会再被改
func (r *DeliveryRepository) MarkDelivered(ctx context.Context, tx *gorm.DB, deliveryID, supplySeq int64) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Delivery{}).
		Where("id = ? AND status <> ?", deliveryID, model.DeliveryStatusDelivered).
		Updates(map[string]interface{}{
			"status":      model.DeliveryStatusDelivered,
			"supply_seq":  supplySeq,
			"fail_reason": "",
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *DeliveryRepository) MarkSupplyFailed(ctx context.Context, tx *gorm.DB, deliveryKey, reason string) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.Delivery{}).
		Where("delivery_key = ? AND status <> ?", deliveryKey, model.DeliveryStatusDelivered).
		Updates(map[string]interface{}{
			"status":      model.DeliveryStatusFailedSupply,
			"fail_reason": reason,
		}).Error
}

func (r *DeliveryRepository) ListByUser(ctx context.Context, userID, auctionID int64, limit int) ([]*model.Delivery, error) {
	var deliveries []*model.Delivery
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if auctionID > 0 {
		query = query.Where("auction_id = ?", auctionID)
	}
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&deliveries).Error
	return deliveries, err
}

func (r *DeliveryRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Delivery{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
