package model

import (
	"time"
)

// ============================================================================
// 资金流水类型与资金桶
// ============================================================================

const (
	LedgerTypeCredit  = "CREDIT"  // 充值：EXTERNAL -> AVAILABLE
	LedgerTypeReserve = "RESERVE" // 出价冻结：AVAILABLE -> RESERVED
	LedgerTypeRelease = "RELEASE" // 解冻退回：RESERVED -> AVAILABLE
	LedgerTypeCapture = "CAPTURE" // 成交扣款：RESERVED -> SINK
	LedgerTypeDebit   = "DEBIT"   // 提现：AVAILABLE -> EXTERNAL
)

const (
	BucketExternal  = "EXTERNAL"
	BucketAvailable = "AVAILABLE"
	BucketReserved  = "RESERVED"
	BucketSink      = "SINK"
)

// LedgerEntry 资金流水表
//
// 只追加，不修改，不删除。entry_key 由调用方给出，唯一索引保证同一笔变动只生效一次；
// 钱包余额是这张表的物化视图。
type LedgerEntry struct {
	ID           int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	EntryKey     string    `gorm:"type:varchar(128);not null;uniqueIndex:uq_ledger_entry_key" json:"entry_key"`
	UserID       int64     `gorm:"not null;index:ix_ledger_user_currency,priority:1" json:"user_id"`
	Currency     string    `gorm:"type:varchar(16);not null;index:ix_ledger_user_currency,priority:2" json:"currency"`
	Type         string    `gorm:"type:varchar(16);not null" json:"type"`
	FromBucket   string    `gorm:"type:varchar(16);not null" json:"from"`
	ToBucket     string    `gorm:"type:varchar(16);not null" json:"to"`
	Amount       int64     `gorm:"not null" json:"amount"`
	AuctionID    int64     `gorm:"not null;default:0;index:ix_ledger_auction_round,priority:1" json:"auction_id,omitempty"`
	RoundID      int64     `gorm:"not null;default:0;index:ix_ledger_auction_round,priority:2" json:"round_id,omitempty"`
	BidEventID   int64     `gorm:"not null;default:0" json:"bid_event_id,omitempty"`
	AllocationID int64     `gorm:"not null;default:0" json:"allocation_id,omitempty"`
	Remark       string    `gorm:"type:varchar(256)" json:"remark,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
