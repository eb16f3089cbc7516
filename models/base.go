package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base 所有聚合共用的欄位
// ID在寫入前由程式產生uuid v7，讓postgres與sqlite都能使用同一份schema
type Base struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("fail to generate uuid v7, err=%w", err)
	}
	b.ID = id
	return nil
}

// All 回傳所有需要遷移的模型
func All() []any {
	return []any{
		&Raffle{},
		&Entry{},
		&RaffleDraw{},
		&RaffleWinner{},
		&Auction{},
		&Bid{},
		&Gumball{},
		&GumballPrize{},
		&GumballSpin{},
		&LedgerRecord{},
	}
}
