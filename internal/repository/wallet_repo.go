package repository

import (
	"context"
	"errors"

	"auctionsystem/internal/model"
	"auctionsystem/pkg/idgen"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound   = errors.New("钱包不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) Get(ctx context.Context, tx *gorm.DB, userID int64, currency string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := conn(r.db, tx).WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// Ensure 钱包不存在时创建（懒创建），并发创建由唯一索引兜底
func (r *WalletRepository) Ensure(ctx context.Context, tx *gorm.DB, userID int64, currency string) error {
	wallet := &model.Wallet{
		ID:       idgen.NextID(),
		UserID:   userID,
		Currency: currency,
	}
	return conn(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(wallet).Error
}

// BalanceMove 一次余额变动
// RequireAvailable / RequireReserved 大于 0 时作为 CAS 条件（available >= x / reserved >= x）
type BalanceMove struct {
	Available        int64
	Reserved         int64
	RequireAvailable int64
	RequireReserved  int64
}

// Move 条件更新余额
//
// 【关键点】条件写在 WHERE 里，由数据库原子判断，不需要先查再改：
//
//	UPDATE wallets SET available = available - 100, reserved = reserved + 100, version = version + 1
//	WHERE user_id = ? AND currency = ? AND available >= 100
//
// 影响行数为 0 说明余额不够（或钱包不存在），调用方必须回滚整个事务
func (r *WalletRepository) Move(ctx context.Context, tx *gorm.DB, userID int64, currency string, move BalanceMove) error {
	query := conn(r.db, tx).WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND currency = ?", userID, currency)

	if move.RequireAvailable > 0 {
		query = query.Where("available >= ?", move.RequireAvailable)
	}
	if move.RequireReserved > 0 {
		query = query.Where("reserved >= ?", move.RequireReserved)
	}

	result := query.Updates(map[string]interface{}{
		"available": gorm.Expr("available + ?", move.Available),
		"reserved":  gorm.Expr("reserved + ?", move.Reserved),
		"version":   gorm.Expr("version + 1"),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotEnough
	}
	return nil
}
