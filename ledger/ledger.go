// Package ledger 記錄已套用的外部付款參照，提供整個系統唯一的冪等保證。
// 所有函式都必須使用與狀態異動相同的交易(*gorm.DB)呼叫。
package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"arenad/models"
)

var (
	ErrDuplicateReference = errors.New("reference already recorded")
	ErrEmptyReference     = errors.New("reference cannot be empty")
)

// Entry 一筆待寫入的帳本紀錄
type Entry struct {
	Reference     string
	Type          models.LedgerType
	AggregateKind models.AggregateKind
	AggregateID   uuid.UUID
	Sender        string
	Receiver      string
	Amount        decimal.Decimal
	Metadata      map[string]any
}

// Record 寫入帳本紀錄
// 參照已存在時回傳ErrDuplicateReference，呼叫端應放棄整個交易
func Record(tx *gorm.DB, entry Entry) (*models.LedgerRecord, error) {
	const op = "ledger.Record"
	if entry.Reference == "" {
		return nil, ErrEmptyReference
	}
	receiver := entry.Receiver
	if receiver == "" {
		receiver = "system"
	}
	record := models.LedgerRecord{
		Reference:     entry.Reference,
		Type:          entry.Type,
		AggregateKind: entry.AggregateKind,
		AggregateID:   entry.AggregateID,
		Sender:        entry.Sender,
		Receiver:      receiver,
		Amount:        entry.Amount,
	}
	if len(entry.Metadata) > 0 {
		record.Metadata = datatypes.JSONMap(entry.Metadata)
	}
	if result := tx.Create(&record); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("[%s] reference=%s: %w", op, entry.Reference, ErrDuplicateReference)
		}
		return nil, fmt.Errorf("[%s] Fail to create ledger record, err=%w", op, result.Error)
	}
	return &record, nil
}

// Exists 檢查參照是否已經被套用過
func Exists(tx *gorm.DB, reference string) (bool, error) {
	const op = "ledger.Exists"
	var count int64
	if result := tx.Model(&models.LedgerRecord{}).Where("reference = ?", reference).Count(&count); result.Error != nil {
		return false, fmt.Errorf("[%s] Fail to count ledger records, err=%w", op, result.Error)
	}
	return count > 0, nil
}

// HasClaim 以(type, sender, aggregate)掃描帳本，判斷是否已經領取過
func HasClaim(tx *gorm.DB, typ models.LedgerType, sender string, aggregateID uuid.UUID) (bool, error) {
	const op = "ledger.HasClaim"
	var count int64
	result := tx.Model(&models.LedgerRecord{}).
		Where("type = ? AND sender = ? AND aggregate_id = ?", typ, sender, aggregateID).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("[%s] Fail to count claims, err=%w", op, result.Error)
	}
	return count > 0, nil
}

// List 依時間順序列出某個聚合的所有帳本紀錄
func List(tx *gorm.DB, aggregateID uuid.UUID) ([]models.LedgerRecord, error) {
	const op = "ledger.List"
	var records []models.LedgerRecord
	if result := tx.Where("aggregate_id = ?", aggregateID).Order("created_at, id").Find(&records); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list ledger records, err=%w", op, result.Error)
	}
	return records, nil
}
