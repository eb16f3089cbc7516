package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type RaffleState string

const (
	RaffleCreated      RaffleState = "CREATED"
	RaffleInitialized  RaffleState = "INITIALIZED"
	RaffleActive       RaffleState = "ACTIVE"
	RaffleCancelled    RaffleState = "CANCELLED"
	RaffleFailedEnded  RaffleState = "FAILED_ENDED"
	RaffleSuccessEnded RaffleState = "SUCCESS_ENDED"
)

// Raffle 代表一場抽獎
// 參與者以固定票價購買彩券，截止後依持有張數加權抽出得獎者
type Raffle struct {
	Base

	Creator         string          `gorm:"type:varchar(64);not null;index;<-:create"`
	Title           string          `gorm:"type:varchar(255);not null"`
	PrizeMint       string          `gorm:"type:varchar(64);not null;default:''"`
	PrizeName       string          `gorm:"type:varchar(255);not null;default:''"`
	PrizeImage      string          `gorm:"type:text;not null;default:''"`
	PrizeValue      decimal.Decimal `gorm:"type:numeric(38,9);not null"`
	TicketPrice     int64           `gorm:"not null;<-:create"`
	TicketSupply    int             `gorm:"not null;<-:create"`
	TicketsSold     int             `gorm:"not null"`
	MaxEntries      int             `gorm:"not null;<-:create"`
	NumberOfWinners int             `gorm:"not null;<-:create"`
	State           RaffleState     `gorm:"type:varchar(32);not null;index"`
	WinnerPicked    bool            `gorm:"not null"`
	Claimed         int             `gorm:"not null"`
	StartsAt        time.Time       `gorm:"not null"`
	EndsAt          time.Time       `gorm:"not null;index"`

	// 外鍵關聯
	Entries []Entry
	Winners []RaffleWinner
}

// Entry 參與者在某場抽獎持有的彩券張數
type Entry struct {
	Base

	RaffleID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_entries_raffle_participant;<-:create"`
	Participant string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_entries_raffle_participant;<-:create"`
	Quantity    int       `gorm:"not null"`
}

// RaffleDraw 在呼叫鏈上結算之前先寫入的抽獎結果
// 結算失敗時保留，下一輪排程直接沿用，不會重抽
type RaffleDraw struct {
	Base

	RaffleID      uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex;<-:create"`
	Winners       datatypes.JSONSlice[string] `gorm:"not null;<-:create"`
	PoolSize      int                         `gorm:"not null;<-:create"`
	Participants  int                         `gorm:"not null;<-:create"`
	Entropy       string                      `gorm:"type:varchar(64);not null;<-:create"`
	Committed     bool                        `gorm:"not null"`
	SettlementRef *string                     `gorm:"type:varchar(128)"`
	CommittedAt   *time.Time
}

// RaffleWinner 抽獎結算完成後的得獎者
type RaffleWinner struct {
	Base

	RaffleID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_raffle_winners_raffle_participant;<-:create"`
	Participant string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_raffle_winners_raffle_participant;<-:create"`
	Rank        int       `gorm:"not null;<-:create"`
}
