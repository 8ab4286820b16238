package model

import (
	"time"
)

// Bid 当前有效出价，每个 (auction_id, user_id) 只有一条
// 每次出价成功后 upsert，更新时按 version 做乐观锁
type Bid struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AuctionID int64     `gorm:"not null;uniqueIndex:uq_bid_active_per_user,priority:1" json:"auction_id"`
	UserID    int64     `gorm:"not null;uniqueIndex:uq_bid_active_per_user,priority:2" json:"user_id"`
	RoundID   int64     `gorm:"not null;index:ix_bid_round" json:"round_id"`
	Currency  string    `gorm:"type:varchar(16);not null" json:"currency"`
	Amount    int64     `gorm:"not null" json:"amount"`
	LastBidAt time.Time `gorm:"not null" json:"last_bid_at"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Bid) TableName() string {
	return "bids"
}

// BidEvent 每次被接受的出价请求一条，(auction_id, user_id, idempotency_key) 唯一
// 是出价幂等的锚点：重复请求直接返回这里记录的结果
type BidEvent struct {
	ID             int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AuctionID      int64     `gorm:"not null;uniqueIndex:uq_bid_event_idem,priority:1" json:"auction_id"`
	UserID         int64     `gorm:"not null;uniqueIndex:uq_bid_event_idem,priority:2" json:"user_id"`
	IdempotencyKey string    `gorm:"type:varchar(128);not null;uniqueIndex:uq_bid_event_idem,priority:3" json:"idempotency_key"`
	RoundID        int64     `gorm:"not null;index:ix_bid_event_round" json:"round_id"`
	BidID          int64     `gorm:"not null" json:"bid_id"`
	Currency       string    `gorm:"type:varchar(16);not null" json:"currency"`
	PrevAmount     int64     `gorm:"not null" json:"prev_amount"`
	NewAmount      int64     `gorm:"not null" json:"new_amount"`
	Delta          int64     `gorm:"not null" json:"delta"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (BidEvent) TableName() string {
	return "bid_events"
}
