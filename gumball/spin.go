package gumball

import (
	"context"
	"errors"
	"fmt"
	"strconv"

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
)

type SpinInput struct {
	GumballID   uuid.UUID `validate:"required"`
	Participant string    `validate:"required,max=64"`
	Reference   string    `validate:"required,max=128"`
}

// SpinPreview 轉蛋前的唯讀預覽
type SpinPreview struct {
	GumballID        uuid.UUID
	TicketPrice      int64
	TicketsRemaining int
	AvailablePrizes  int
	CanSpin          bool
	// Reason 無法轉蛋時的原因
	Reason lifecycle.Reason
}

// spinnable 判斷扭蛋機目前是否接受轉蛋，回傳的錯誤即為拒絕原因
func (e *Engine) spinnable(g *models.Gumball) error {
	now := e.run.Now()
	switch {
	case g.State != models.GumballActive:
		return lifecycle.Conflict(lifecycle.ReasonNotActive, "gumball %s is %s", g.ID, g.State)
	case !g.ManualStart && now.Before(g.StartTime):
		return lifecycle.Conflict(lifecycle.ReasonNotActive, "gumball %s has not started yet", g.ID)
	case now.After(g.EndTime):
		return lifecycle.Conflict(lifecycle.ReasonExpired, "gumball %s has ended", g.ID)
	case g.TicketsSold >= g.TotalTickets:
		return lifecycle.Conflict(lifecycle.ReasonSoldOut, "gumball %s is sold out", g.ID)
	}
	return nil
}

func candidates(prizes []models.GumballPrize) []selection.Candidate {
	return lo.Map(prizes, func(p models.GumballPrize, _ int) selection.Candidate {
		return selection.Candidate{Key: p.ID.String(), Quantity: p.Quantity, Claimed: p.QuantityClaimed}
	})
}

// PrepareSpin 回傳目前可轉蛋的狀態，不做任何異動
func (e *Engine) PrepareSpin(ctx context.Context, id uuid.UUID) (*SpinPreview, error) {
	gumball, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	preview := &SpinPreview{
		GumballID:        id,
		TicketPrice:      gumball.TicketPrice,
		TicketsRemaining: max(gumball.TotalTickets-gumball.TicketsSold, 0),
		AvailablePrizes:  len(selection.Available(candidates(gumball.Prizes))),
	}
	if err := e.spinnable(gumball); err != nil {
		preview.Reason = lifecycle.ReasonOf(err)
		return preview, nil
	}
	if preview.AvailablePrizes == 0 {
		preview.Reason = lifecycle.ReasonNoPrizesAvailable
		return preview, nil
	}
	preview.CanSpin = true
	return preview, nil
}

// Spin 付款轉一次，從尚有剩餘的獎品中等機率抽出一項
// 抽選在交易內進行，交易因並發衝突重試時會以最新的剩餘數量重新抽選
func (e *Engine) Spin(ctx context.Context, in SpinInput) (*models.GumballSpin, error) {
	if err := lifecycle.Validate(in); err != nil {
		return nil, err
	}
	var (
		gumball models.Gumball
		spin    models.GumballSpin
	)
	err := e.run.Mutate(ctx, "Spin", in.Reference, func(tx *gorm.DB) error {
		if err := lockGumball(tx, in.GumballID, "", &gumball); err != nil {
			return err
		}
		if err := e.spinnable(&gumball); err != nil {
			return err
		}
		var prizes []models.GumballPrize
		if err := store.ForUpdate(tx).
			Where("gumball_id = ?", gumball.ID).
			Order("prize_index").
			Find(&prizes).Error; err != nil {
			return err
		}
		picked, ok := selection.PickPrize(e.run.Source(), candidates(prizes))
		if !ok {
			return lifecycle.Conflict(lifecycle.ReasonNoPrizesAvailable, "gumball %s has no prizes left", gumball.ID)
		}
		prize, _ := lo.Find(prizes, func(p models.GumballPrize) bool { return p.ID.String() == picked.Key })

		var previous int64
		if err := tx.Model(&models.GumballSpin{}).
			Where("gumball_id = ? AND spinner = ?", gumball.ID, in.Participant).
			Count(&previous).Error; err != nil {
			return err
		}

		spin = models.GumballSpin{
			GumballID:   gumball.ID,
			PrizeID:     prize.ID,
			Spinner:     in.Participant,
			Winner:      in.Participant,
			PrizeAmount: prize.PrizeAmount,
		}
		if err := tx.Create(&spin).Error; err != nil {
			return err
		}
		prize.QuantityClaimed++
		if err := tx.Model(&prize).Update("quantity_claimed", prize.QuantityClaimed).Error; err != nil {
			return err
		}
		spin.Prize = prize

		gumball.TicketsSold++
		gumball.TotalProceeds += gumball.TicketPrice
		if previous == 0 {
			gumball.UniqueBuyers++
		}
		if err := tx.Model(&gumball).Updates(map[string]any{
			"tickets_sold":   gumball.TicketsSold,
			"total_proceeds": gumball.TotalProceeds,
			"unique_buyers":  gumball.UniqueBuyers,
		}).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   in.Reference,
			Type:        models.LedgerGumballSpin,
			AggregateID: gumball.ID,
			Sender:      in.Participant,
			Receiver:    gumball.Creator,
			Amount:      decimal.NewFromInt(gumball.TicketPrice),
			Metadata: map[string]any{
				"spinId":      spin.ID.String(),
				"prizeId":     prize.ID.String(),
				"prizeIndex":  prize.PrizeIndex,
				"prizeAmount": prize.PrizeAmount.String(),
				"prizeMint":   prize.Mint,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	e.publish(events.GumballSpun, &gumball, in.Participant, in.Reference, map[string]string{
		"spinId":      spin.ID.String(),
		"prizeIndex":  strconv.Itoa(spin.Prize.PrizeIndex),
		"ticketsSold": strconv.Itoa(gumball.TicketsSold),
	})
	return &spin, nil
}

// ClaimPrize 轉蛋者領取該次抽中的獎品
func (e *Engine) ClaimPrize(ctx context.Context, id, spinID uuid.UUID, participant, reference string) (*models.GumballSpin, error) {
	var spin models.GumballSpin
	err := e.run.Mutate(ctx, "ClaimPrize", reference, func(tx *gorm.DB) error {
		spin = models.GumballSpin{}
		if err := store.ForUpdate(tx).First(&spin, "id = ?", spinID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return lifecycle.Conflict(lifecycle.ReasonNotFound, "spin %s not found", spinID)
			}
			return err
		}
		if spin.GumballID != id {
			return lifecycle.Conflict(lifecycle.ReasonNotFound, "spin %s does not belong to gumball %s", spinID, id)
		}
		if spin.Winner != participant {
			return lifecycle.Conflict(lifecycle.ReasonNotEligible, "%s did not win spin %s", participant, spinID)
		}
		if spin.Claimed {
			return lifecycle.Conflict(lifecycle.ReasonAlreadyClaimed, "spin %s already claimed", spinID)
		}
		if err := tx.First(&spin.Prize, "id = ?", spin.PrizeID).Error; err != nil {
			return err
		}
		now := e.run.Now()
		spin.Claimed = true
		spin.ClaimedAt = &now
		if err := tx.Model(&spin).Updates(map[string]any{
			"claimed":    true,
			"claimed_at": now,
		}).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerGumballClaimPrize,
			AggregateID: id,
			Sender:      participant,
			Receiver:    participant,
			Amount:      spin.PrizeAmount,
			Metadata: map[string]any{
				"spinId":  spinID.String(),
				"prizeId": spin.PrizeID.String(),
				"isNft":   spin.Prize.IsNFT,
				"mint":    spin.Prize.Mint,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	e.run.Publish(events.Event{
		Type:        events.GumballPrizeClaimed,
		AggregateID: id.String(),
		Actor:       participant,
		Reference:   reference,
		Amount:      spin.PrizeAmount.String(),
		Attributes:  map[string]string{"spinId": spinID.String()},
	})
	return &spin, nil
}

// Spins 列出扭蛋機的轉蛋紀錄，participant非空時只列出該參與者
func (e *Engine) Spins(ctx context.Context, id uuid.UUID, participant string) ([]models.GumballSpin, error) {
	query := e.run.DB(ctx).Preload("Prize").Where("gumball_id = ?", id)
	if participant != "" {
		query = query.Where("spinner = ?", participant)
	}
	var spins []models.GumballSpin
	if err := query.Order("created_at, id").Find(&spins).Error; err != nil {
		return nil, fmt.Errorf("[gumball.Spins] Fail to list spins, err=%w", err)
	}
	return spins, nil
}
