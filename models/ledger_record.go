package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type LedgerType string

const (
	LedgerRaffleCreation LedgerType = "RAFFLE_CREATION"
	LedgerRaffleEntry    LedgerType = "RAFFLE_ENTRY"
	LedgerRaffleCancel   LedgerType = "RAFFLE_CANCEL"
	LedgerRaffleEnd      LedgerType = "RAFFLE_END"
	LedgerRaffleClaim    LedgerType = "RAFFLE_CLAIM"

	LedgerAuctionCreation LedgerType = "AUCTION_CREATION"
	LedgerAuctionBid      LedgerType = "AUCTION_BID"
	LedgerAuctionCancel   LedgerType = "AUCTION_CANCEL"
	LedgerAuctionStart    LedgerType = "AUCTION_START"
	LedgerAuctionEnd      LedgerType = "AUCTION_END"
	LedgerAuctionClaim    LedgerType = "AUCTION_CLAIM"

	LedgerGumballCreation   LedgerType = "GUMBALL_CREATION"
	LedgerGumballActivate   LedgerType = "GUMBALL_ACTIVATE"
	LedgerGumballUpdate     LedgerType = "GUMBALL_UPDATE"
	LedgerGumballPrizeAdd   LedgerType = "GUMBALL_PRIZE_ADD"
	LedgerGumballSpin       LedgerType = "GUMBALL_SPIN"
	LedgerGumballClaimPrize LedgerType = "GUMBALL_CLAIM_PRIZE"
	LedgerGumballCancel     LedgerType = "GUMBALL_CANCEL"
	LedgerGumballStart      LedgerType = "GUMBALL_START"
	LedgerGumballEnd        LedgerType = "GUMBALL_END"
)

type AggregateKind string

const (
	KindRaffle  AggregateKind = "raffle"
	KindAuction AggregateKind = "auction"
	KindGumball AggregateKind = "gumball"
)

// LedgerRecord 已套用的外部付款參照
// Reference全域唯一，同一筆參照最多只會被套用一次
type LedgerRecord struct {
	Base

	Reference     string            `gorm:"type:varchar(128);not null;uniqueIndex;<-:create"`
	Type          LedgerType        `gorm:"type:varchar(32);not null;index:idx_ledger_records_claim,priority:1;<-:create"`
	AggregateKind AggregateKind     `gorm:"type:varchar(16);not null;<-:create"`
	AggregateID   uuid.UUID         `gorm:"type:uuid;not null;index:idx_ledger_records_claim,priority:3;<-:create"`
	Sender        string            `gorm:"type:varchar(64);not null;index:idx_ledger_records_claim,priority:2;<-:create"`
	Receiver      string            `gorm:"type:varchar(64);not null;<-:create"`
	Amount        decimal.Decimal   `gorm:"type:numeric(38,9);not null;<-:create"`
	Metadata      datatypes.JSONMap `gorm:"<-:create"`
}
