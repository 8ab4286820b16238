package model

import (
	"time"
)

// Wallet 用户钱包，按 (user_id, currency) 唯一
//
// available 为可用余额，reserved 为出价冻结（托管）中的金额，两者任何时刻都不能为负。
// 余额只能通过带条件的 UPDATE（CAS）修改，每次修改都对应一条 LedgerEntry。
type Wallet struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID    int64     `gorm:"not null;uniqueIndex:uq_wallet_user_currency,priority:1" json:"user_id"`
	Currency  string    `gorm:"type:varchar(16);not null;uniqueIndex:uq_wallet_user_currency,priority:2" json:"currency"`
	Available int64     `gorm:"not null;default:0" json:"available"`
	Reserved  int64     `gorm:"not null;default:0" json:"reserved"`
	Version   int64     `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
