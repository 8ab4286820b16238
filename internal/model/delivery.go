package model

import (
	"fmt"
	"time"
)

const (
	DeliveryStatusCreating     = "CREATING"
	DeliveryStatusDelivered    = "DELIVERED"
	DeliveryStatusFailedSupply = "FAILED_SUPPLY"
)

// Delivery 奖品发放记录，delivery_key = deliver:<allocationId>
type Delivery struct {
	ID             int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	DeliveryKey    string    `gorm:"type:varchar(64);not null;uniqueIndex:uq_delivery_key" json:"delivery_key"`
	AllocationID   int64     `gorm:"not null;uniqueIndex:uq_delivery_allocation" json:"allocation_id"`
	AuctionID      int64     `gorm:"not null;index:ix_delivery_auction" json:"auction_id"`
	RoundID        int64     `gorm:"not null" json:"round_id"`
	UserID         int64     `gorm:"not null;index:ix_delivery_user" json:"user_id"`
	ItemKind       string    `gorm:"type:varchar(32);not null" json:"item_kind"`
	ItemName       string    `gorm:"type:varchar(128);not null" json:"item_name"`
	ItemCollection string    `gorm:"type:varchar(128)" json:"item_collection,omitempty"`
	Units          int       `gorm:"not null;default:1" json:"units"`
	Status         string    `gorm:"type:varchar(16);not null" json:"status"`
	SupplySeq      int64     `gorm:"not null;default:0" json:"supply_seq"`
	FailReason     string    `gorm:"type:varchar(256)" json:"fail_reason,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Delivery) TableName() string {
	return "deliveries"
}

func DeliveryKey(allocationID int64) string {
	return fmt.Sprintf("deliver:%d", allocationID)
}
