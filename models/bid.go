package models

import (
	"github.com/google/uuid"
)

// Bid 代表拍賣品的出價紀錄
// 記錄每次競標的金額、競標者和對應的付款參照
type Bid struct {
	Base

	AuctionID uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	Bidder    string    `gorm:"type:varchar(64);not null;<-:create"`
	Amount    int64     `gorm:"not null;<-:create"`
	Reference string    `gorm:"type:varchar(128);not null;uniqueIndex;<-:create"`
}
