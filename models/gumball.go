package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type GumballState string

const (
	GumballNone                  GumballState = "NONE"
	GumballInitialized           GumballState = "INITIALIZED"
	GumballActive                GumballState = "ACTIVE"
	GumballCancelled             GumballState = "CANCELLED"
	GumballCompletedFailed       GumballState = "COMPLETED_FAILED"
	GumballCompletedSuccessfully GumballState = "COMPLETED_SUCCESSFULLY"
)

// Gumball 扭蛋機
// 每次付款轉一次，從尚有剩餘數量的獎品中等機率抽出一項
type Gumball struct {
	Base

	Creator           string          `gorm:"type:varchar(64);not null;index;<-:create"`
	Name              string          `gorm:"type:varchar(255);not null"`
	TicketPrice       int64           `gorm:"not null;<-:create"`
	TotalTickets      int             `gorm:"not null;<-:create"`
	TicketsSold       int             `gorm:"not null"`
	MinPrizes         int             `gorm:"not null;<-:create"`
	MaxPrizes         int             `gorm:"not null;<-:create"`
	PrizesAdded       int             `gorm:"not null"`
	TotalPrizeValue   decimal.Decimal `gorm:"type:numeric(38,9);not null"`
	MaxProceeds       int64           `gorm:"not null;<-:create"`
	TotalProceeds     int64           `gorm:"not null"`
	UniqueBuyers      int             `gorm:"not null"`
	BuyBackEnabled    bool            `gorm:"not null"`
	BuyBackPercentage int             `gorm:"not null"`
	ManualStart       bool            `gorm:"not null;<-:create"`
	State             GumballState    `gorm:"type:varchar(32);not null;index"`
	StartTime         time.Time       `gorm:"not null;index"`
	EndTime           time.Time       `gorm:"not null;index"`
	SettlementRef     *string         `gorm:"type:varchar(128)"`

	// 外鍵關聯
	Prizes []GumballPrize
	Spins  []GumballSpin
}

// GumballPrize 扭蛋機內的一種獎品
type GumballPrize struct {
	Base

	GumballID       uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_gumball_prizes_gumball_index;<-:create"`
	PrizeIndex      int             `gorm:"not null;uniqueIndex:idx_gumball_prizes_gumball_index;<-:create"`
	IsNFT           bool            `gorm:"not null;<-:create"`
	Mint            string          `gorm:"type:varchar(64);not null;<-:create"`
	Name            string          `gorm:"type:varchar(255);not null;default:''"`
	PrizeAmount     decimal.Decimal `gorm:"type:numeric(38,9);not null;<-:create"`
	TotalAmount     decimal.Decimal `gorm:"type:numeric(38,9);not null;<-:create"`
	FloorPrice      decimal.Decimal `gorm:"type:numeric(38,9);not null"`
	Quantity        int             `gorm:"not null;<-:create"`
	QuantityClaimed int             `gorm:"not null"`
}

// Remaining 尚未被抽走的數量
func (p GumballPrize) Remaining() int {
	return p.Quantity - p.QuantityClaimed
}

// GumballSpin 一次轉蛋的結果，得獎者即轉蛋者
type GumballSpin struct {
	Base

	GumballID   uuid.UUID       `gorm:"type:uuid;not null;index:idx_gumball_spins_gumball_spinner;<-:create"`
	PrizeID     uuid.UUID       `gorm:"type:uuid;not null;<-:create"`
	Spinner     string          `gorm:"type:varchar(64);not null;index:idx_gumball_spins_gumball_spinner;<-:create"`
	Winner      string          `gorm:"type:varchar(64);not null;<-:create"`
	PrizeAmount decimal.Decimal `gorm:"type:numeric(38,9);not null;<-:create"`
	Claimed     bool            `gorm:"not null"`
	ClaimedAt   *time.Time

	Prize GumballPrize `gorm:"foreignKey:PrizeID"`
}
