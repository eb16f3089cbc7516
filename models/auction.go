package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuctionState string

const (
	AuctionCreated               AuctionState = "CREATED"
	AuctionInitialized           AuctionState = "INITIALIZED"
	AuctionActive                AuctionState = "ACTIVE"
	AuctionCancelled             AuctionState = "CANCELLED"
	AuctionCompletedFailed       AuctionState = "COMPLETED_FAILED"
	AuctionCompletedSuccessfully AuctionState = "COMPLETED_SUCCESSFULLY"
)

// Auction 代表一場英式拍賣
// 包含拍賣品資訊、底價、加價比例、目前最高出價、拍賣時間等資訊
type Auction struct {
	Base

	Creator              string          `gorm:"type:varchar(64);not null;index;<-:create"`
	PrizeMint            string          `gorm:"type:varchar(64);not null;default:''"`
	PrizeName            string          `gorm:"type:varchar(255);not null"`
	PrizeImage           string          `gorm:"type:text;not null;default:''"`
	FloorPrice           decimal.Decimal `gorm:"type:numeric(38,9);not null"`
	ReservePrice         *int64          `gorm:"<-:create"`
	BidIncrementBps      int64           `gorm:"not null;<-:create"`
	TimeExtensionMinutes *int            `gorm:"<-:create"`
	HighestBidAmount     int64           `gorm:"not null"`
	HighestBidder        *string         `gorm:"type:varchar(64)"`
	HasAnyBid            bool            `gorm:"not null"`
	FinalPrice           *int64
	State                AuctionState `gorm:"type:varchar(32);not null;index"`
	StartsAt             time.Time    `gorm:"not null;index"`
	EndsAt               time.Time    `gorm:"not null;index"`
	SettlementRef        *string      `gorm:"type:varchar(128)"`

	// 外鍵關聯
	Bids []Bid
}
