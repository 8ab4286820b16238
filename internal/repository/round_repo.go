package repository

import (
	"context"
	"errors"
	"time"

	"auctionsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRoundNotFound      = errors.New("轮次不存在")
	ErrRoundStatusInvalid = errors.New("轮次状态不合法")
)

type RoundRepository struct {
	db *gorm.DB
}

func NewRoundRepository(db *gorm.DB) *RoundRepository {
	return &RoundRepository{db: db}
}

func (r *RoundRepository) Create(ctx context.Context, tx *gorm.DB, round *model.Round) error {
	return conn(r.db, tx).WithContext(ctx).Create(round).Error
}

func (r *RoundRepository) GetByID(ctx context.Context, tx *gorm.DB, roundID int64) (*model.Round, error) {
	return r.get(ctx, conn(r.db, tx), roundID)
}

const (
	LockShare  = "SHARE"
	LockUpdate = "UPDATE"
)

// GetByIDLocked 出价时读轮次并加锁（SHARE 或 UPDATE）：关轮的 UPDATE 需要等进行中的出价事务提交
func (r *RoundRepository) GetByIDLocked(ctx context.Context, tx *gorm.DB, roundID int64, strength string) (*model.Round, error) {
	return r.get(ctx, tx.Clauses(clause.Locking{Strength: strength}), roundID)
}

func (r *RoundRepository) get(ctx context.Context, db *gorm.DB, roundID int64) (*model.Round, error) {
	var round model.Round
	err := db.WithContext(ctx).Where("id = ?", roundID).First(&round).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}
	return &round, nil
}

// Extend 防狙击延时，只有轮次仍是 OPEN 且 version 没变才生效
func (r *RoundRepository) Extend(ctx context.Context, tx *gorm.DB, roundID, expectedVersion int64, newEndAt time.Time, extendSec int64) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Round{}).
		Where("id = ? AND status = ? AND version = ?", roundID, model.RoundStatusOpen, expectedVersion).
		Updates(map[string]interface{}{
			"end_at":             newEndAt,
			"total_extended_sec": gorm.Expr("total_extended_sec + ?", extendSec),
			"version":            gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateStatus 状态 CAS，fromStatus 不匹配返回 ErrRoundStatusInvalid
func (r *RoundRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, roundID int64, fromStatus, toStatus string, at time.Time) error {
	if !model.CanRoundTransitionTo(fromStatus, toStatus) {
		return ErrRoundStatusInvalid
	}

	updates := map[string]interface{}{
		"status":  toStatus,
		"version": gorm.Expr("version + 1"),
	}
	if toStatus == model.RoundStatusClosed {
		updates["closed_at"] = at
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Round{}).
		Where("id = ? AND status = ?", roundID, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoundStatusInvalid
	}
	return nil
}

// MarkClosing OPEN -> CLOSING，同时比较 version：读到轮次之后又被延时过就不关
func (r *RoundRepository) MarkClosing(ctx context.Context, tx *gorm.DB, roundID, expectedVersion int64) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Round{}).
		Where("id = ? AND status = ? AND version = ?", roundID, model.RoundStatusOpen, expectedVersion).
		Updates(map[string]interface{}{
			"status":  model.RoundStatusClosing,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListOverdueOpen 已经过了结束时间但还是 OPEN 的轮次（关轮任务丢失或积压）
func (r *RoundRepository) ListOverdueOpen(ctx context.Context, before time.Time, limit int) ([]*model.Round, error) {
	var rounds []*model.Round
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_at < ?", model.RoundStatusOpen, before).
		Order("end_at ASC").
		Limit(limit).
		Find(&rounds).Error
	return rounds, err
}
