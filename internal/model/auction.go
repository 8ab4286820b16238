package model

import (
	"time"
)

const (
	AuctionStatusLive     = "LIVE"
	AuctionStatusFinished = "FINISHED"
)

// AntiSnipeConfig 防狙击延时参数
type AntiSnipeConfig struct {
	WindowSec         int64 `gorm:"not null;default:0" json:"window_sec"`
	ExtendSec         int64 `gorm:"not null;default:0" json:"extend_sec"`
	MaxTotalExtendSec int64 `gorm:"not null;default:0" json:"max_total_extend_sec"`
}

type RoundConfig struct {
	DurationSec     int64           `gorm:"not null" json:"duration_sec"`
	WinnersPerRound int             `gorm:"not null" json:"winners_per_round"`
	MaxRounds       int             `gorm:"not null;default:1" json:"max_rounds"`
	AntiSnipe       AntiSnipeConfig `gorm:"embedded;embeddedPrefix:anti_snipe_" json:"anti_snipe"`
}

// Item 拍品，TotalSupply 为空表示不限量
type Item struct {
	Kind        string `gorm:"type:varchar(32);not null" json:"kind"`
	Name        string `gorm:"type:varchar(128);not null" json:"name"`
	Collection  string `gorm:"type:varchar(128)" json:"collection,omitempty"`
	TotalSupply *int64 `json:"total_supply,omitempty"`
}

// Auction 拍卖（外部协作方），这里只保存引擎需要读写的部分
type Auction struct {
	ID                int64       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Currency          string      `gorm:"type:varchar(16);not null" json:"currency"`
	Status            string      `gorm:"type:varchar(16);not null;index" json:"status"`
	ActiveRoundID     int64       `gorm:"not null;default:0" json:"active_round_id"`
	ActiveRoundNo     int         `gorm:"not null;default:0" json:"active_round_no"`
	RoundConfig       RoundConfig `gorm:"embedded;embeddedPrefix:round_" json:"round_config"`
	Item              Item        `gorm:"embedded;embeddedPrefix:item_" json:"item"`
	DistributedSupply int64       `gorm:"not null;default:0" json:"distributed_supply"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Auction) TableName() string {
	return "auctions"
}
