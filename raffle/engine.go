// Package raffle 抽獎的生命週期：建立、售票、取消、截止抽獎與領獎
package raffle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"arenad/adapters/store"
	"arenad/events"
	"arenad/ledger"
	"arenad/lifecycle"
	"arenad/models"
	"arenad/selection"
	"arenad/settlement"
)

var machine = lifecycle.NewMachine("raffle", map[models.RaffleState][]models.RaffleState{
	models.RaffleCreated:     {models.RaffleInitialized, models.RaffleActive, models.RaffleCancelled},
	models.RaffleInitialized: {models.RaffleActive, models.RaffleCancelled},
	models.RaffleActive:      {models.RaffleCancelled, models.RaffleFailedEnded, models.RaffleSuccessEnded},
})

type CreateInput struct {
	Creator         string          `validate:"required,max=64"`
	Title           string          `validate:"required,max=255"`
	PrizeMint       string          `validate:"max=64"`
	PrizeName       string          `validate:"max=255"`
	PrizeImage      string          `validate:"omitempty,url"`
	PrizeValue      decimal.Decimal `validate:"-"`
	TicketPrice     int64           `validate:"gt=0"`
	TicketSupply    int             `validate:"gt=0"`
	MaxEntries      int             `validate:"gt=0,ltefield=TicketSupply"`
	NumberOfWinners int             `validate:"gt=0,ltefield=TicketSupply"`
	StartsAt        time.Time
	EndsAt          time.Time `validate:"required"`
}

type BuyTicketInput struct {
	RaffleID    uuid.UUID `validate:"required"`
	Participant string    `validate:"required,max=64"`
	Quantity    int       `validate:"gt=0"`
	Reference   string    `validate:"required,max=128"`
}

// DrawTranscript 抽獎的稽核紀錄，寫入外部存放處
type DrawTranscript struct {
	RaffleID     uuid.UUID          `json:"raffleId"`
	Winners      []string           `json:"winners"`
	PoolSize     int                `json:"poolSize"`
	Participants int                `json:"participants"`
	Entropy      string             `json:"entropy"`
	Tickets      []selection.Ticket `json:"tickets"`
	DrawnAt      time.Time          `json:"drawnAt"`
}

type Engine struct {
	run *lifecycle.Runner
}

func NewEngine(tx *store.Transactor, gateway settlement.Gateway, opts ...lifecycle.Option) *Engine {
	return &Engine{
		run: lifecycle.NewRunner(models.KindRaffle, tx, gateway, opts...),
	}
}

func (e *Engine) Name() string { return string(models.KindRaffle) }

// Create 建立抽獎，狀態為CREATED，等待建立付款確認
func (e *Engine) Create(ctx context.Context, in CreateInput) (*models.Raffle, error) {
	const op = "Create"
	if err := lifecycle.Validate(in); err != nil {
		return nil, err
	}
	if in.PrizeValue.IsNegative() {
		return nil, lifecycle.Invalid("prize value cannot be negative")
	}
	now := e.run.Now()
	startsAt := in.StartsAt.UTC()
	if in.StartsAt.IsZero() {
		startsAt = now
	}
	endsAt := in.EndsAt.UTC()
	if !endsAt.After(startsAt) {
		return nil, lifecycle.Invalid("endsAt must be after startsAt")
	}
	if !endsAt.After(now) {
		return nil, lifecycle.Invalid("endsAt must be in the future")
	}

	raffle := models.Raffle{
		Creator:         in.Creator,
		Title:           lifecycle.Sanitize(in.Title),
		PrizeMint:       in.PrizeMint,
		PrizeName:       lifecycle.Sanitize(in.PrizeName),
		PrizeImage:      in.PrizeImage,
		PrizeValue:      in.PrizeValue,
		TicketPrice:     in.TicketPrice,
		TicketSupply:    in.TicketSupply,
		MaxEntries:      in.MaxEntries,
		NumberOfWinners: in.NumberOfWinners,
		State:           models.RaffleCreated,
		StartsAt:        startsAt,
		EndsAt:          endsAt,
	}
	if raffle.Title == "" {
		return nil, lifecycle.Invalid("title cannot be empty")
	}
	err := e.run.Transact(ctx, func(tx *gorm.DB) error {
		return tx.Create(&raffle).Error
	})
	e.run.Observe(op, err)
	if err != nil {
		return nil, fmt.Errorf("[raffle.%s] Fail to create raffle, err=%w", op, err)
	}
	return &raffle, nil
}

// ConfirmCreation 確認建立付款，只接受CREATED的抽獎；開始時間已到直接進入ACTIVE，否則INITIALIZED
func (e *Engine) ConfirmCreation(ctx context.Context, id uuid.UUID, creator, reference string) (*models.Raffle, error) {
	var raffle models.Raffle
	err := e.run.Mutate(ctx, "ConfirmCreation", reference, func(tx *gorm.DB) error {
		if err := lockRaffle(tx, id, &raffle); err != nil {
			return err
		}
		if raffle.Creator != creator {
			return lifecycle.Conflict(lifecycle.ReasonForbidden, "only the creator can confirm raffle %s", id)
		}
		if raffle.State != models.RaffleCreated {
			return lifecycle.Conflict(lifecycle.ReasonInvalidTransition, "raffle %s is already %s", id, raffle.State)
		}
		target := models.RaffleInitialized
		if !raffle.StartsAt.After(e.run.Now()) {
			target = models.RaffleActive
		}
		if err := machine.Transition(raffle.State, target); err != nil {
			return err
		}
		raffle.State = target
		if err := tx.Model(&raffle).Update("state", target).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerRaffleCreation,
			AggregateID: id,
			Sender:      creator,
			Amount:      raffle.PrizeValue,
		})
	})
	if err != nil {
		return nil, err
	}
	e.run.Transitioned(string(raffle.State))
	e.run.Publish(events.Event{
		Type:        events.RaffleConfirmed,
		AggregateID: id.String(),
		State:       string(raffle.State),
		Actor:       creator,
		Reference:   reference,
	})
	return &raffle, nil
}

// BuyTicket 購買彩券
// 已售張數與個人持有張數都在同一個交易中重新檢查，超賣的請求整筆拒絕
func (e *Engine) BuyTicket(ctx context.Context, in BuyTicketInput) (*models.Entry, error) {
	if err := lifecycle.Validate(in); err != nil {
		return nil, err
	}
	var (
		raffle models.Raffle
		entry  models.Entry
	)
	err := e.run.Mutate(ctx, "BuyTicket", in.Reference, func(tx *gorm.DB) error {
		if err := lockRaffle(tx, in.RaffleID, &raffle); err != nil {
			return err
		}
		if raffle.State != models.RaffleActive {
			return lifecycle.Conflict(lifecycle.ReasonNotActive, "raffle %s is %s", raffle.ID, raffle.State)
		}
		if e.run.Now().After(raffle.EndsAt) {
			return lifecycle.Conflict(lifecycle.ReasonNotActive, "raffle %s has ended", raffle.ID)
		}
		if raffle.TicketsSold+in.Quantity > raffle.TicketSupply {
			return lifecycle.Conflict(lifecycle.ReasonCapacityExceeded,
				"only %d tickets left", raffle.TicketSupply-raffle.TicketsSold)
		}

		entry = models.Entry{}
		result := store.ForUpdate(tx).
			Where("raffle_id = ? AND participant = ?", raffle.ID, in.Participant).
			Limit(1).
			Find(&entry)
		if result.Error != nil {
			return result.Error
		}
		if entry.Quantity+in.Quantity > raffle.MaxEntries {
			return lifecycle.Conflict(lifecycle.ReasonEntryLimitExceeded,
				"participant already holds %d of %d tickets", entry.Quantity, raffle.MaxEntries)
		}
		if result.RowsAffected == 0 {
			entry = models.Entry{RaffleID: raffle.ID, Participant: in.Participant, Quantity: in.Quantity}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		} else {
			entry.Quantity += in.Quantity
			if err := tx.Model(&entry).Update("quantity", entry.Quantity).Error; err != nil {
				return err
			}
		}

		raffle.TicketsSold += in.Quantity
		if err := tx.Model(&raffle).Update("tickets_sold", raffle.TicketsSold).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   in.Reference,
			Type:        models.LedgerRaffleEntry,
			AggregateID: raffle.ID,
			Sender:      in.Participant,
			Receiver:    raffle.Creator,
			Amount:      decimal.NewFromInt(raffle.TicketPrice * int64(in.Quantity)),
			Metadata:    map[string]any{"quantity": in.Quantity},
		})
	})
	if err != nil {
		return nil, err
	}
	e.run.Publish(events.Event{
		Type:        events.RaffleTicketPurchased,
		AggregateID: raffle.ID.String(),
		State:       string(raffle.State),
		Actor:       in.Participant,
		Reference:   in.Reference,
		Amount:      strconv.FormatInt(raffle.TicketPrice*int64(in.Quantity), 10),
		Attributes: map[string]string{
			"quantity":    strconv.Itoa(in.Quantity),
			"ticketsSold": strconv.Itoa(raffle.TicketsSold),
		},
	})
	return &entry, nil
}

// Cancel 由建立者取消尚未售出任何彩券的抽獎
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, creator, reference string) error {
	var raffle models.Raffle
	err := e.run.Mutate(ctx, "Cancel", reference, func(tx *gorm.DB) error {
		if err := lockRaffle(tx, id, &raffle); err != nil {
			return err
		}
		if raffle.Creator != creator {
			return lifecycle.Conflict(lifecycle.ReasonForbidden, "only the creator can cancel raffle %s", id)
		}
		if raffle.TicketsSold > 0 {
			return lifecycle.Conflict(lifecycle.ReasonHasSales, "raffle %s already sold %d tickets", id, raffle.TicketsSold)
		}
		if err := machine.Transition(raffle.State, models.RaffleCancelled); err != nil {
			return err
		}
		raffle.State = models.RaffleCancelled
		if err := tx.Model(&raffle).Update("state", raffle.State).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerRaffleCancel,
			AggregateID: id,
			Sender:      creator,
			Amount:      decimal.Zero,
		})
	})
	if err != nil {
		return err
	}
	e.run.Transitioned(string(raffle.State))
	e.run.Publish(events.Event{
		Type:        events.RaffleCancelled,
		AggregateID: id.String(),
		State:       string(raffle.State),
		Actor:       creator,
		Reference:   reference,
	})
	return nil
}

// Delete 由建立者刪除尚未售出任何彩券的抽獎，帳本紀錄保留
func (e *Engine) Delete(ctx context.Context, id uuid.UUID, creator string) error {
	const op = "Delete"
	var raffle models.Raffle
	err := e.run.Transact(ctx, func(tx *gorm.DB) error {
		if err := lockRaffle(tx, id, &raffle); err != nil {
			return err
		}
		if raffle.Creator != creator {
			return lifecycle.Conflict(lifecycle.ReasonForbidden, "only the creator can delete raffle %s", id)
		}
		if raffle.TicketsSold > 0 {
			return lifecycle.Conflict(lifecycle.ReasonHasSales, "raffle %s already sold %d tickets", id, raffle.TicketsSold)
		}
		if err := tx.Where("raffle_id = ?", id).Delete(&models.RaffleDraw{}).Error; err != nil {
			return err
		}
		return tx.Delete(&raffle).Error
	})
	e.run.Observe(op, err)
	if err != nil {
		return fmt.Errorf("[raffle.%s] Fail to delete raffle, err=%w", op, err)
	}
	e.run.Publish(events.Event{
		Type:        events.RaffleDeleted,
		AggregateID: id.String(),
		State:       string(raffle.State),
		Actor:       creator,
	})
	return nil
}

// EndManually 由建立者提前截止進行中的抽獎並立即抽獎
// 截止時間改為現在後走與排程相同的抽獎流程；提交得獎名單失敗時保留抽獎結果，由下一輪排程完成
func (e *Engine) EndManually(ctx context.Context, id uuid.UUID, creator string) (*models.Raffle, error) {
	const op = "EndManually"
	var raffle models.Raffle
	err := e.run.Transact(ctx, func(tx *gorm.DB) error {
		if err := lockRaffle(tx, id, &raffle); err != nil {
			return err
		}
		if raffle.Creator != creator {
			return lifecycle.Conflict(lifecycle.ReasonForbidden, "only the creator can end raffle %s", id)
		}
		if raffle.State != models.RaffleActive || raffle.WinnerPicked {
			return lifecycle.Conflict(lifecycle.ReasonNotActive, "raffle %s is %s", id, raffle.State)
		}
		now := e.run.Now()
		if !raffle.EndsAt.After(now) {
			return nil
		}
		raffle.EndsAt = now
		return tx.Model(&raffle).Update("ends_at", now).Error
	})
	e.run.Observe(op, err)
	if err != nil {
		return nil, fmt.Errorf("[raffle.%s] Fail to end raffle, err=%w", op, err)
	}
	e.run.Publish(events.Event{
		Type:        events.RaffleEndedManually,
		AggregateID: id.String(),
		State:       string(raffle.State),
		Actor:       creator,
	})
	if _, err := e.settle(ctx, id); err != nil {
		return nil, err
	}
	return e.Get(ctx, id)
}

// ClaimPrize 得獎者領取平分後的獎品價值，每位得獎者只能領一次
func (e *Engine) ClaimPrize(ctx context.Context, id uuid.UUID, participant, reference string) (decimal.Decimal, error) {
	var (
		raffle models.Raffle
		share  decimal.Decimal
	)
	err := e.run.Mutate(ctx, "ClaimPrize", reference, func(tx *gorm.DB) error {
		if err := lockRaffle(tx, id, &raffle); err != nil {
			return err
		}
		if raffle.State != models.RaffleSuccessEnded || !raffle.WinnerPicked {
			return lifecycle.Conflict(lifecycle.ReasonNotActive, "raffle %s is %s, prizes are not claimable", id, raffle.State)
		}
		var winners int64
		if err := tx.Model(&models.RaffleWinner{}).
			Where("raffle_id = ? AND participant = ?", id, participant).
			Count(&winners).Error; err != nil {
			return err
		}
		if winners == 0 {
			return lifecycle.Conflict(lifecycle.ReasonNotEligible, "%s is not a winner of raffle %s", participant, id)
		}
		claimed, err := ledger.HasClaim(tx, models.LedgerRaffleClaim, participant, id)
		if err != nil {
			return err
		}
		if claimed || raffle.Claimed >= raffle.NumberOfWinners {
			return lifecycle.Conflict(lifecycle.ReasonAlreadyClaimed, "%s already claimed raffle %s", participant, id)
		}

		share = PrizeShare(raffle.PrizeValue, raffle.NumberOfWinners)
		raffle.Claimed++
		if err := tx.Model(&raffle).Update("claimed", raffle.Claimed).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerRaffleClaim,
			AggregateID: id,
			Sender:      participant,
			Receiver:    participant,
			Amount:      share,
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	e.run.Publish(events.Event{
		Type:        events.RafflePrizeClaimed,
		AggregateID: id.String(),
		State:       string(raffle.State),
		Actor:       participant,
		Reference:   reference,
		Amount:      share.String(),
	})
	return share, nil
}

// PrizeShare 獎品價值由所有得獎名額平分，四捨五入到小數第9位
func PrizeShare(value decimal.Decimal, numberOfWinners int) decimal.Decimal {
	if numberOfWinners <= 0 {
		return decimal.Zero
	}
	return value.DivRound(decimal.NewFromInt(int64(numberOfWinners)), 9)
}

// ProcessScheduledStarts 將開始時間已到的INITIALIZED抽獎轉為ACTIVE
func (e *Engine) ProcessScheduledStarts(ctx context.Context) (int, error) {
	const op = "ProcessScheduledStarts"
	now := e.run.Now()
	var ids []uuid.UUID
	if err := e.run.DB(ctx).Model(&models.Raffle{}).
		Where("state = ? AND starts_at <= ?", models.RaffleInitialized, now).
		Order("starts_at").
		Limit(lifecycle.SweepBatchSize).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("[raffle.%s] Fail to query raffles, err=%w", op, err)
	}
	return e.run.Sweep(ctx, op, ids, e.start)
}

func (e *Engine) start(ctx context.Context, id uuid.UUID) (bool, error) {
	var (
		raffle  models.Raffle
		applied bool
	)
	err := e.run.Transact(ctx, func(tx *gorm.DB) error {
		applied = false
		if err := lockRaffle(tx, id, &raffle); err != nil {
			return err
		}
		if raffle.State != models.RaffleInitialized || raffle.StartsAt.After(e.run.Now()) {
			return nil
		}
		raffle.State = models.RaffleActive
		if err := tx.Model(&raffle).Update("state", raffle.State).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil || !applied {
		return false, err
	}
	e.run.Transitioned(string(raffle.State))
	e.run.Publish(events.Event{Type: events.RaffleStarted, AggregateID: id.String(), State: string(raffle.State)})
	return true, nil
}

// ProcessExpired 結束已截止的抽獎
// 沒有任何彩券時直接FAILED_ENDED；否則先保存抽獎結果，再向閘道提交得獎名單，成功後才標記SUCCESS_ENDED
func (e *Engine) ProcessExpired(ctx context.Context) (int, error) {
	const op = "ProcessExpired"
	now := e.run.Now()
	var ids []uuid.UUID
	if err := e.run.DB(ctx).Model(&models.Raffle{}).
		Where("state = ? AND ends_at <= ? AND winner_picked = ?", models.RaffleActive, now, false).
		Order("ends_at").
		Limit(lifecycle.SweepBatchSize).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("[raffle.%s] Fail to query raffles, err=%w", op, err)
	}
	return e.run.Sweep(ctx, op, ids, e.settle)
}

func (e *Engine) settle(ctx context.Context, id uuid.UUID) (bool, error) {
	draw, drawn, ended, err := e.prepareDraw(ctx, id)
	if err != nil || draw == nil {
		return ended, err
	}
	if drawn {
		e.run.Publish(events.Event{
			Type:        events.RaffleDrawn,
			AggregateID: id.String(),
			State:       string(models.RaffleActive),
			Attributes: map[string]string{
				"entropy":  draw.Entropy,
				"poolSize": strconv.Itoa(draw.PoolSize),
			},
		})
	}

	reference, err := e.run.Gateway().CommitWinners(ctx, id, draw.Winners)
	if err != nil {
		return false, lifecycle.Settlement(err, "fail to commit winners of raffle %s", id)
	}
	return e.finalize(ctx, id, draw, reference)
}

// prepareDraw 回傳待提交的抽獎結果
// 已有保存的結果時沿用；沒有任何參與者時在同一交易中直接結束，回傳nil
func (e *Engine) prepareDraw(ctx context.Context, id uuid.UUID) (draw *models.RaffleDraw, drawn bool, ended bool, err error) {
	var (
		raffle  models.Raffle
		tickets []selection.Ticket
	)
	err = e.run.Transact(ctx, func(tx *gorm.DB) error {
		draw, drawn, ended = nil, false, false
		if err := lockRaffle(tx, id, &raffle); err != nil {
			return err
		}
		if raffle.State != models.RaffleActive || raffle.WinnerPicked || raffle.EndsAt.After(e.run.Now()) {
			return nil
		}

		var entries []models.Entry
		if err := tx.Where("raffle_id = ?", id).Order("created_at, id").Find(&entries).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			if err := machine.Transition(raffle.State, models.RaffleFailedEnded); err != nil {
				return err
			}
			raffle.State = models.RaffleFailedEnded
			if err := tx.Model(&raffle).Update("state", raffle.State).Error; err != nil {
				return err
			}
			ended = true
			return e.run.Record(tx, ledger.Entry{
				Reference:   "raffle-end:" + id.String(),
				Type:        models.LedgerRaffleEnd,
				AggregateID: id,
				Sender:      "system",
				Receiver:    raffle.Creator,
				Amount:      decimal.Zero,
				Metadata:    map[string]any{"outcome": string(models.RaffleFailedEnded)},
			})
		}

		var existing models.RaffleDraw
		result := tx.Where("raffle_id = ?", id).Limit(1).Find(&existing)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			draw = &existing
			return nil
		}

		tickets = lo.Map(entries, func(entry models.Entry, _ int) selection.Ticket {
			return selection.Ticket{Participant: entry.Participant, Quantity: entry.Quantity}
		})
		d := selection.DrawWinners(e.run.Source(), tickets, raffle.NumberOfWinners)
		draw = &models.RaffleDraw{
			RaffleID:     id,
			Winners:      d.Winners,
			PoolSize:     d.PoolSize,
			Participants: d.Participants,
			Entropy:      d.Entropy,
		}
		drawn = true
		return tx.Create(draw).Error
	})
	if err != nil {
		return nil, false, false, err
	}
	if ended {
		e.run.Transitioned(string(models.RaffleFailedEnded))
		e.run.Publish(events.Event{Type: events.RaffleEnded, AggregateID: id.String(), State: string(models.RaffleFailedEnded)})
	}
	if drawn {
		e.run.Archive(ctx, DrawKey(id), DrawTranscript{
			RaffleID:     id,
			Winners:      draw.Winners,
			PoolSize:     draw.PoolSize,
			Participants: draw.Participants,
			Entropy:      draw.Entropy,
			Tickets:      tickets,
			DrawnAt:      draw.CreatedAt,
		})
	}
	return draw, drawn, ended, nil
}

func (e *Engine) finalize(ctx context.Context, id uuid.UUID, draw *models.RaffleDraw, reference string) (bool, error) {
	var (
		raffle  models.Raffle
		applied bool
	)
	err := e.run.Transact(ctx, func(tx *gorm.DB) error {
		applied = false
		if err := lockRaffle(tx, id, &raffle); err != nil {
			return err
		}
		if raffle.State != models.RaffleActive || raffle.WinnerPicked {
			return nil
		}
		if err := machine.Transition(raffle.State, models.RaffleSuccessEnded); err != nil {
			return err
		}
		raffle.State = models.RaffleSuccessEnded
		raffle.WinnerPicked = true
		if err := tx.Model(&raffle).Updates(map[string]any{
			"state":         raffle.State,
			"winner_picked": true,
		}).Error; err != nil {
			return err
		}
		winners := make([]models.RaffleWinner, len(draw.Winners))
		for i, participant := range draw.Winners {
			winners[i] = models.RaffleWinner{RaffleID: id, Participant: participant, Rank: i + 1}
		}
		if len(winners) > 0 {
			if err := tx.Create(&winners).Error; err != nil {
				return err
			}
		}
		now := e.run.Now()
		if err := tx.Model(&models.RaffleDraw{}).Where("id = ?", draw.ID).Updates(map[string]any{
			"committed":      true,
			"settlement_ref": reference,
			"committed_at":   now,
		}).Error; err != nil {
			return err
		}
		applied = true
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerRaffleEnd,
			AggregateID: id,
			Sender:      "system",
			Receiver:    raffle.Creator,
			Amount:      raffle.PrizeValue,
			Metadata: map[string]any{
				"outcome": string(models.RaffleSuccessEnded),
				"winners": []string(draw.Winners),
			},
		})
	})
	if err != nil || !applied {
		return false, err
	}
	e.run.Transitioned(string(raffle.State))
	e.run.Publish(events.Event{
		Type:        events.RaffleEnded,
		AggregateID: id.String(),
		State:       string(raffle.State),
		Reference:   reference,
		Attributes:  map[string]string{"winners": strconv.Itoa(len(draw.Winners))},
	})
	return true, nil
}

// DrawKey 抽獎稽核紀錄在外部存放處的路徑
func DrawKey(id uuid.UUID) string {
	return "draws/" + id.String() + ".json"
}

// Get 讀取抽獎
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.Raffle, error) {
	var raffle models.Raffle
	if err := e.run.DB(ctx).Preload("Winners", func(db *gorm.DB) *gorm.DB {
		return db.Order("rank")
	}).First(&raffle, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.Conflict(lifecycle.ReasonNotFound, "raffle %s not found", id)
		}
		return nil, fmt.Errorf("[raffle.Get] Fail to read raffle, err=%w", err)
	}
	return &raffle, nil
}

// Entries 依購買順序列出參與者持有的彩券
func (e *Engine) Entries(ctx context.Context, id uuid.UUID) ([]models.Entry, error) {
	var entries []models.Entry
	if err := e.run.DB(ctx).Where("raffle_id = ?", id).Order("created_at, id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("[raffle.Entries] Fail to list entries, err=%w", err)
	}
	return entries, nil
}

// Draw 讀取保存的抽獎結果，尚未抽獎時回傳nil
func (e *Engine) Draw(ctx context.Context, id uuid.UUID) (*models.RaffleDraw, error) {
	var draw models.RaffleDraw
	result := e.run.DB(ctx).Where("raffle_id = ?", id).Limit(1).Find(&draw)
	if result.Error != nil {
		return nil, fmt.Errorf("[raffle.Draw] Fail to read draw, err=%w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &draw, nil
}

func lockRaffle(tx *gorm.DB, id uuid.UUID, raffle *models.Raffle) error {
	*raffle = models.Raffle{}
	if err := store.ForUpdate(tx).First(raffle, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return lifecycle.Conflict(lifecycle.ReasonNotFound, "raffle %s not found", id)
		}
		return err
	}
	return nil
}
