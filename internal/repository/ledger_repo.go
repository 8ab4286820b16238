package repository

import (
	"context"

	"auctionsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Insert 按 entry_key 插入流水，已存在返回 false（幂等重放）
func (r *LedgerRepository) Insert(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_key"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *LedgerRepository) ListByUser(ctx context.Context, userID int64, currency string, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("user_id = ? AND currency = ?", userID, currency)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

type typeSum struct {
	Type  string
	Total int64
}

// SumByType 按流水类型汇总金额，用于对账
func (r *LedgerRepository) SumByType(ctx context.Context, userID int64, currency string) (map[string]int64, error) {
	var rows []typeSum
	err := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Select("type, SUM(amount) AS total").
		Where("user_id = ? AND currency = ?", userID, currency).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	sums := make(map[string]int64, len(rows))
	for _, row := range rows {
		sums[row.Type] = row.Total
	}
	return sums, nil
}
