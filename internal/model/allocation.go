package model

import (
	"time"
)

const (
	AllocationKindWin   = "WIN"
	AllocationKindCarry = "CARRY"
)

const (
	AllocationStatusPending  = "PENDING"
	AllocationStatusSettling = "SETTLING"
	AllocationStatusSettled  = "SETTLED"
	AllocationStatusFailed   = "FAILED"
)

// 可以被结算任务认领的状态；SETTLED 是终态
var ClaimableAllocationStatuses = []string{AllocationStatusPending, AllocationStatusFailed}

// Allocation 轮次结束时给每个出价用户的结果，(round_id, user_id) 唯一
// 关轮时创建一次，之后只由结算引擎修改
type Allocation struct {
	ID          int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AuctionID   int64      `gorm:"not null;index:ix_allocation_auction" json:"auction_id"`
	RoundID     int64      `gorm:"not null;uniqueIndex:uq_allocation_round_user,priority:1" json:"round_id"`
	RoundNo     int        `gorm:"not null" json:"round_no"`
	UserID      int64      `gorm:"not null;uniqueIndex:uq_allocation_round_user,priority:2" json:"user_id"`
	Currency    string     `gorm:"type:varchar(16);not null" json:"currency"`
	Kind        string     `gorm:"type:varchar(8);not null" json:"kind"`
	Rank        int        `gorm:"column:rank_no;not null" json:"rank"`
	Status      string     `gorm:"type:varchar(16);not null;index:ix_allocation_status_created,priority:1" json:"status"`
	BidAmount   int64      `gorm:"not null" json:"bid_amount"`
	FinalAmount int64      `gorm:"not null;default:0" json:"final_amount"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	LastError   string     `gorm:"type:varchar(512)" json:"last_error,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index:ix_allocation_status_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Allocation) TableName() string {
	return "allocations"
}

func (a *Allocation) LedgerOp() string {
	if a.Kind == AllocationKindWin {
		return LedgerTypeCapture
	}
	return LedgerTypeRelease
}
