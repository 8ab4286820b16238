package repository

import (
	"context"
	"errors"
	"time"

	"auctionsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAllocationNotFound = errors.New("分配结果不存在")

type AllocationRepository struct {
	db *gorm.DB
}

func NewAllocationRepository(db *gorm.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// InsertIfAbsent (round_id, user_id) 已存在时不覆盖，重复关轮不会生成第二条
func (r *AllocationRepository) InsertIfAbsent(ctx context.Context, tx *gorm.DB, allocation *model.Allocation) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "round_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(allocation)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *AllocationRepository) GetByID(ctx context.Context, tx *gorm.DB, allocationID int64) (*model.Allocation, error) {
	var allocation model.Allocation
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", allocationID).First(&allocation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAllocationNotFound
		}
		return nil, err
	}
	return &allocation, nil
}

func (r *AllocationRepository) ListByRound(ctx context.Context, tx *gorm.DB, roundID int64) ([]*model.Allocation, error) {
	var allocations []*model.Allocation
	err := conn(r.db, tx).WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("rank_no ASC").
		Find(&allocations).Error
	return allocations, err
}

// Claim PENDING/FAILED -> SETTLING，影响行数为 0 说明已被别的 worker 认领或已结算
func (r *AllocationRepository) Claim(ctx context.Context, tx *gorm.DB, allocationID int64) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Allocation{}).
		Where("id = ? AND status IN ?", allocationID, model.ClaimableAllocationStatuses).
		Updates(map[string]interface{}{
			"status":   model.AllocationStatusSettling,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *AllocationRepository) MarkSettled(ctx context.Context, tx *gorm.DB, allocationID, finalAmount int64, at time.Time) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Allocation{}).
		Where("id = ? AND status = ?", allocationID, model.AllocationStatusSettling).
		Updates(map[string]interface{}{
			"status":       model.AllocationStatusSettled,
			"final_amount": finalAmount,
			"settled_at":   at,
			"last_error":   "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// MarkFailed 结算事务回滚后单独写入，SETTLED 不会被覆盖
func (r *AllocationRepository) MarkFailed(ctx context.Context, allocationID int64, reason string) error {
	if len(reason) > 512 {
		reason = reason[:512]
	}
	return r.db.WithContext(ctx).
		Model(&model.Allocation{}).
		Where("id = ? AND status <> ?", allocationID, model.AllocationStatusSettled).
		Updates(map[string]interface{}{
			"status":     model.AllocationStatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}

// ListUnsettledBefore 创建时间早于 before 仍未结算的分配，用于补偿重新入队
func (r *AllocationRepository) ListUnsettledBefore(ctx context.Context, before time.Time, limit int) ([]*model.Allocation, error) {
	var allocations []*model.Allocation
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", model.ClaimableAllocationStatuses, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&allocations).Error
	return allocations, err
}
