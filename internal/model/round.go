package model

import (
	"time"
)

const (
	RoundStatusOpen    = "OPEN"
	RoundStatusClosing = "CLOSING"
	RoundStatusClosed  = "CLOSED"
)

var ValidRoundTransitions = map[string][]string{
	RoundStatusOpen:    {RoundStatusClosing},
	RoundStatusClosing: {RoundStatusClosed},
}

func CanRoundTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidRoundTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Round 拍卖轮次，(auction_id, no) 唯一
//
// version 在每次延时（end_at 变化）和状态变化时加一，
// 延时和关闭都以 version 做 CAS，等价于比较上次读到的 end_at。
type Round struct {
	ID               int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AuctionID        int64      `gorm:"not null;uniqueIndex:uq_round_auction_no,priority:1" json:"auction_id"`
	No               int        `gorm:"not null;uniqueIndex:uq_round_auction_no,priority:2" json:"no"`
	Status           string     `gorm:"type:varchar(16);not null;index:ix_round_status_end,priority:1" json:"status"`
	StartAt          time.Time  `gorm:"not null" json:"start_at"`
	EndAt            time.Time  `gorm:"not null;index:ix_round_status_end,priority:2" json:"end_at"`
	TotalExtendedSec int64      `gorm:"not null;default:0" json:"total_extended_sec"`
	Version          int64      `gorm:"not null;default:0" json:"version"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Round) TableName() string {
	return "rounds"
}

func (r *Round) IsOpenAt(now time.Time) bool {
	return r.Status == RoundStatusOpen && now.Before(r.EndAt)
}
