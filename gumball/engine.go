// Package gumball 扭蛋機的生命週期：建立、放入獎品、啟用、轉蛋、領獎與結束
package gumball

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
	"arenad/settlement"
)

var machine = lifecycle.NewMachine("gumball", map[models.GumballState][]models.GumballState{
	models.GumballNone:        {models.GumballInitialized, models.GumballActive, models.GumballCancelled},
	models.GumballInitialized: {models.GumballActive, models.GumballCancelled},
	models.GumballActive: {
		models.GumballCancelled,
		models.GumballCompletedFailed,
		models.GumballCompletedSuccessfully,
	},
})

type CreateInput struct {
	Creator           string `validate:"required,max=64"`
	Name              string `validate:"required,max=255"`
	TicketPrice       int64  `validate:"gt=0"`
	TotalTickets      int    `validate:"gt=0"`
	MinPrizes         int    `validate:"gte=0,ltefield=MaxPrizes"`
	MaxPrizes         int    `validate:"gt=0"`
	BuyBackEnabled    bool
	BuyBackPercentage int `validate:"gte=0,lte=100"`
	ManualStart       bool
	StartTime         time.Time
	EndTime           time.Time `validate:"required"`
}

type PrizeInput struct {
	PrizeIndex  int `validate:"gte=0"`
	IsNFT       bool
	Mint        string          `validate:"required,max=64"`
	Name        string          `validate:"max=255"`
	PrizeAmount decimal.Decimal `validate:"-"`
	TotalAmount decimal.Decimal `validate:"-"`
	FloorPrice  decimal.Decimal `validate:"-"`
	Quantity    int             `validate:"gt=0"`
}

type prizeBatch struct {
	Prizes []PrizeInput `validate:"required,min=1,dive"`
}

type Engine struct {
	run *lifecycle.Runner
}

func NewEngine(tx *store.Transactor, gateway settlement.Gateway, opts ...lifecycle.Option) *Engine {
	return &Engine{
		run: lifecycle.NewRunner(models.KindGumball, tx, gateway, opts...),
	}
}

func (e *Engine) Name() string { return string(models.KindGumball) }

// Create 建立扭蛋機，狀態為NONE，最大收入 = 票價 x 總票數
func (e *Engine) Create(ctx context.Context, in CreateInput) (*models.Gumball, error) {
	const op = "Create"
	if err := lifecycle.Validate(in); err != nil {
		return nil, err
	}
	now := e.run.Now()
	startTime := in.StartTime.UTC()
	if in.StartTime.IsZero() {
		startTime = now
	}
	endTime := in.EndTime.UTC()
	if !endTime.After(startTime) || !endTime.After(now) {
		return nil, lifecycle.Invalid("endTime must be after startTime and in the future")
	}
	gumball := models.Gumball{
		Creator:           in.Creator,
		Name:              lifecycle.Sanitize(in.Name),
		TicketPrice:       in.TicketPrice,
		TotalTickets:      in.TotalTickets,
		MinPrizes:         in.MinPrizes,
		MaxPrizes:         in.MaxPrizes,
		TotalPrizeValue:   decimal.Zero,
		MaxProceeds:       in.TicketPrice * int64(in.TotalTickets),
		BuyBackEnabled:    in.BuyBackEnabled,
		BuyBackPercentage: in.BuyBackPercentage,
		ManualStart:       in.ManualStart,
		State:             models.GumballNone,
		StartTime:         startTime,
		EndTime:           endTime,
	}
	if gumball.Name == "" {
		return nil, lifecycle.Invalid("name cannot be empty")
	}
	err := e.run.Transact(ctx, func(tx *gorm.DB) error {
		return tx.Create(&gumball).Error
	})
	e.run.Observe(op, err)
	if err != nil {
		return nil, fmt.Errorf("[gumball.%s] Fail to create gumball, err=%w", op, err)
	}
	return &gumball, nil
}

// ConfirmCreation 確認建立付款；非手動開始且開始時間已到時直接ACTIVE
func (e *Engine) ConfirmCreation(ctx context.Context, id uuid.UUID, creator, reference string) (*models.Gumball, error) {
	var gumball models.Gumball
	err := e.run.Mutate(ctx, "ConfirmCreation", reference, func(tx *gorm.DB) error {
		if err := lockGumball(tx, id, creator, &gumball); err != nil {
			return err
		}
		if gumball.State != models.GumballNone {
			return lifecycle.Conflict(lifecycle.ReasonInvalidTransition, "gumball %s is already %s", id, gumball.State)
		}
		target := models.GumballInitialized
		if e.autoStartable(&gumball) {
			target = models.GumballActive
		}
		gumball.State = target
		if err := tx.Model(&gumball).Update("state", target).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerGumballCreation,
			AggregateID: id,
			Sender:      creator,
			Amount:      decimal.Zero,
		})
	})
	if err != nil {
		return nil, err
	}
	e.run.Transitioned(string(gumball.State))
	e.publish(events.GumballConfirmed, &gumball, creator, reference, nil)
	return &gumball, nil
}

// AddPrize 放入一種獎品
func (e *Engine) AddPrize(ctx context.Context, id uuid.UUID, creator string, prize PrizeInput, reference string) (*models.GumballPrize, error) {
	prizes, err := e.addPrizes(ctx, "AddPrize", id, creator, []PrizeInput{prize}, reference, false)
	if err != nil {
		return nil, err
	}
	return &prizes[0], nil
}

// AddPrizes 以單一付款參照放入多種獎品，全部成功或全部失敗
// 已啟用但尚未售出任何票時仍可補放獎品
func (e *Engine) AddPrizes(ctx context.Context, id uuid.UUID, creator string, prizes []PrizeInput, reference string) ([]models.GumballPrize, error) {
	return e.addPrizes(ctx, "AddPrizes", id, creator, prizes, reference, true)
}

func (e *Engine) addPrizes(ctx context.Context, op string, id uuid.UUID, creator string, inputs []PrizeInput, reference string, allowActive bool) ([]models.GumballPrize, error) {
	if err := lifecycle.Validate(prizeBatch{Prizes: inputs}); err != nil {
		return nil, err
	}
	if dup := lo.FindDuplicatesBy(inputs, func(p PrizeInput) int { return p.PrizeIndex }); len(dup) > 0 {
		return nil, lifecycle.Invalid("prize index %d appears more than once", dup[0].PrizeIndex)
	}
	for _, p := range inputs {
		if p.IsNFT && p.Quantity != 1 {
			return nil, lifecycle.Invalid("nft prize %d must have quantity 1", p.PrizeIndex)
		}
		if p.PrizeAmount.IsNegative() || p.TotalAmount.IsNegative() || p.FloorPrice.IsNegative() {
			return nil, lifecycle.Invalid("prize %d amounts cannot be negative", p.PrizeIndex)
		}
	}

	var (
		gumball models.Gumball
		created []models.GumballPrize
	)
	err := e.run.Mutate(ctx, op, reference, func(tx *gorm.DB) error {
		created = nil
		if err := lockGumball(tx, id, creator, &gumball); err != nil {
			return err
		}
		switch {
		case gumball.State == models.GumballNone, gumball.State == models.GumballInitialized:
		case allowActive && gumball.State == models.GumballActive && gumball.TicketsSold == 0:
		default:
			return lifecycle.Conflict(lifecycle.ReasonInvalidTransition, "cannot add prizes to %s gumball %s", gumball.State, id)
		}

		units := lo.SumBy(inputs, func(p PrizeInput) int { return p.Quantity })
		if gumball.PrizesAdded+units > gumball.MaxPrizes {
			return lifecycle.Conflict(lifecycle.ReasonPrizeLimitExceeded,
				"adding %d prizes would exceed the maximum %d, current %d", units, gumball.MaxPrizes, gumball.PrizesAdded)
		}
		indexes := lo.Map(inputs, func(p PrizeInput, _ int) int { return p.PrizeIndex })
		var taken []int
		if err := tx.Model(&models.GumballPrize{}).
			Where("gumball_id = ? AND prize_index IN ?", id, indexes).
			Pluck("prize_index", &taken).Error; err != nil {
			return err
		}
		if len(taken) > 0 {
			return lifecycle.Conflict(lifecycle.ReasonDuplicatePrize, "prize index %d already exists", taken[0])
		}

		created = make([]models.GumballPrize, len(inputs))
		total := decimal.Zero
		for i, p := range inputs {
			totalAmount := p.TotalAmount
			if totalAmount.IsZero() {
				totalAmount = p.PrizeAmount.Mul(decimal.NewFromInt(int64(p.Quantity)))
			}
			created[i] = models.GumballPrize{
				GumballID:   id,
				PrizeIndex:  p.PrizeIndex,
				IsNFT:       p.IsNFT,
				Mint:        p.Mint,
				Name:        lifecycle.Sanitize(p.Name),
				PrizeAmount: p.PrizeAmount,
				TotalAmount: totalAmount,
				FloorPrice:  p.FloorPrice,
				Quantity:    p.Quantity,
			}
			total = total.Add(totalAmount)
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		gumball.PrizesAdded += units
		gumball.TotalPrizeValue = gumball.TotalPrizeValue.Add(total)
		if err := tx.Model(&gumball).Updates(map[string]any{
			"prizes_added":      gumball.PrizesAdded,
			"total_prize_value": gumball.TotalPrizeValue,
		}).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerGumballPrizeAdd,
			AggregateID: id,
			Sender:      creator,
			Amount:      total,
			Metadata: map[string]any{
				"prizeIndexes": indexes,
				"quantity":     units,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	e.publish(events.GumballPrizeAdded, &gumball, creator, reference, map[string]string{
		"prizes":      strconv.Itoa(len(created)),
		"prizesAdded": strconv.Itoa(gumball.PrizesAdded),
	})
	return created, nil
}

// UpdateBuyBack 調整回購設定；已啟用的扭蛋機不能由關閉改為開啟
func (e *Engine) UpdateBuyBack(ctx context.Context, id uuid.UUID, creator string, enabled bool, percentage int, reference string) (*models.Gumball, error) {
	if percentage < 0 || percentage > 100 {
		return nil, lifecycle.Invalid("buy back percentage must be within 0..100")
	}
	var gumball models.Gumball
	err := e.run.Mutate(ctx, "UpdateBuyBack", reference, func(tx *gorm.DB) error {
		if err := lockGumball(tx, id, creator, &gumball); err != nil {
			return err
		}
		if machine.Terminal(gumball.State) {
			return lifecycle.Conflict(lifecycle.ReasonNotActive, "gumball %s is %s", id, gumball.State)
		}
		if gumball.State == models.GumballActive && !gumball.BuyBackEnabled && enabled {
			return lifecycle.Conflict(lifecycle.ReasonInvalidTransition, "cannot enable buy back after gumball %s is live", id)
		}
		gumball.BuyBackEnabled = enabled
		gumball.BuyBackPercentage = percentage
		if err := tx.Model(&gumball).Updates(map[string]any{
			"buy_back_enabled":    enabled,
			"buy_back_percentage": percentage,
		}).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerGumballUpdate,
			AggregateID: id,
			Sender:      creator,
			Amount:      decimal.Zero,
			Metadata: map[string]any{
				"action":            "buyBackSettings",
				"buyBackEnabled":    enabled,
				"buyBackPercentage": percentage,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	e.publish(events.GumballBuyBackChanged, &gumball, creator, reference, map[string]string{
		"enabled":    strconv.FormatBool(enabled),
		"percentage": strconv.Itoa(percentage),
	})
	return &gumball, nil
}

// Activate 由建立者手動啟用，獎品數量必須達到下限
func (e *Engine) Activate(ctx context.Context, id uuid.UUID, creator, reference string) (*models.Gumball, error) {
	var gumball models.Gumball
	err := e.run.Mutate(ctx, "Activate", reference, func(tx *gorm.DB) error {
		if err := lockGumball(tx, id, creator, &gumball); err != nil {
			return err
		}
		if err := machine.Transition(gumball.State, models.GumballActive); err != nil {
			return err
		}
		if gumball.PrizesAdded < gumball.MinPrizes {
			return lifecycle.Conflict(lifecycle.ReasonNotEligible,
				"gumball needs at least %d prizes, has %d", gumball.MinPrizes, gumball.PrizesAdded)
		}
		gumball.State = models.GumballActive
		if err := tx.Model(&gumball).Update("state", gumball.State).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerGumballActivate,
			AggregateID: id,
			Sender:      creator,
			Amount:      decimal.Zero,
		})
	})
	if err != nil {
		return nil, err
	}
	e.run.Transitioned(string(gumball.State))
	e.publish(events.GumballActivated, &gumball, creator, reference, nil)
	return &gumball, nil
}

// Cancel 由建立者取消尚未售出任何票的扭蛋機
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, creator, reference string) error {
	var gumball models.Gumball
	err := e.run.Mutate(ctx, "Cancel", reference, func(tx *gorm.DB) error {
		if err := lockGumball(tx, id, creator, &gumball); err != nil {
			return err
		}
		if gumball.TicketsSold > 0 {
			return lifecycle.Conflict(lifecycle.ReasonHasSales, "gumball %s already sold %d tickets", id, gumball.TicketsSold)
		}
		if err := machine.Transition(gumball.State, models.GumballCancelled); err != nil {
			return err
		}
		gumball.State = models.GumballCancelled
		if err := tx.Model(&gumball).Update("state", gumball.State).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerGumballCancel,
			AggregateID: id,
			Sender:      creator,
			Amount:      decimal.Zero,
		})
	})
	if err != nil {
		return err
	}
	e.run.Transitioned(string(gumball.State))
	e.publish(events.GumballCancelled, &gumball, creator, reference, nil)
	return nil
}

// Delete 由建立者刪除尚未售出任何票的扭蛋機與其獎品
func (e *Engine) Delete(ctx context.Context, id uuid.UUID, creator string) error {
	const op = "Delete"
	var gumball models.Gumball
	err := e.run.Transact(ctx, func(tx *gorm.DB) error {
		if err := lockGumball(tx, id, creator, &gumball); err != nil {
			return err
		}
		if gumball.TicketsSold > 0 {
			return lifecycle.Conflict(lifecycle.ReasonHasSales, "gumball %s already sold %d tickets", id, gumball.TicketsSold)
		}
		if err := tx.Where("gumball_id = ?", id).Delete(&models.GumballPrize{}).Error; err != nil {
			return err
		}
		return tx.Delete(&gumball).Error
	})
	e.run.Observe(op, err)
	if err != nil {
		return fmt.Errorf("[gumball.%s] Fail to delete gumball, err=%w", op, err)
	}
	e.publish(events.GumballDeleted, &gumball, creator, "", nil)
	return nil
}

// Get 讀取扭蛋機與獎品
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.Gumball, error) {
	var gumball models.Gumball
	if err := e.run.DB(ctx).Preload("Prizes", func(db *gorm.DB) *gorm.DB {
		return db.Order("prize_index")
	}).First(&gumball, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.Conflict(lifecycle.ReasonNotFound, "gumball %s not found", id)
		}
		return nil, fmt.Errorf("[gumball.Get] Fail to read gumball, err=%w", err)
	}
	return &gumball, nil
}

func (e *Engine) publish(typ string, gumball *models.Gumball, actor, reference string, attrs map[string]string) {
	e.run.Publish(events.Event{
		Type:        typ,
		AggregateID: gumball.ID.String(),
		State:       string(gumball.State),
		Actor:       actor,
		Reference:   reference,
		Attributes:  attrs,
	})
}

// lockGumball 以寫入鎖讀取扭蛋機；creator非空時同時檢查擁有者
func lockGumball(tx *gorm.DB, id uuid.UUID, creator string, gumball *models.Gumball) error {
	*gumball = models.Gumball{}
	if err := store.ForUpdate(tx).First(gumball, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return lifecycle.Conflict(lifecycle.ReasonNotFound, "gumball %s not found", id)
		}
		return err
	}
	if creator != "" && gumball.Creator != creator {
		return lifecycle.Conflict(lifecycle.ReasonForbidden, "gumball %s is not owned by %s", id, creator)
	}
	return nil
}
