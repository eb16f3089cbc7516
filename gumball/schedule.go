package gumball

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"arenad/events"
	"arenad/ledger"
	"arenad/lifecycle"
	"arenad/models"
)

// completion 結束時的結果：有售出任何票即成功
func completion(g *models.Gumball) models.GumballState {
	if g.TicketsSold > 0 {
		return models.GumballCompletedSuccessfully
	}
	return models.GumballCompletedFailed
}

// ProcessScheduledStarts 非手動開始、開始時間已到且獎品數達下限的INITIALIZED扭蛋機，向閘道提交開始後轉為ACTIVE
func (e *Engine) ProcessScheduledStarts(ctx context.Context) (int, error) {
	const op = "ProcessScheduledStarts"
	var ids []uuid.UUID
	if err := e.run.DB(ctx).Model(&models.Gumball{}).
		Where("state = ? AND manual_start = ? AND start_time <= ? AND prizes_added >= min_prizes",
			models.GumballInitialized, false, e.run.Now()).
		Order("start_time").
		Limit(lifecycle.SweepBatchSize).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("[gumball.%s] Fail to query gumballs, err=%w", op, err)
	}
	return e.run.Sweep(ctx, op, ids, e.start)
}

func (e *Engine) startable(g *models.Gumball) bool {
	return g.State == models.GumballInitialized && e.autoStartable(g)
}

// autoStartable 不需建立者手動啟用即可開始：非手動開始、開始時間已到且獎品數達下限
func (e *Engine) autoStartable(g *models.Gumball) bool {
	return !g.ManualStart && !g.StartTime.After(e.run.Now()) && g.PrizesAdded >= g.MinPrizes
}

func (e *Engine) start(ctx context.Context, id uuid.UUID) (bool, error) {
	if ok, err := e.peek(ctx, id, e.startable); err != nil || !ok {
		return false, err
	}
	reference, err := e.run.Gateway().CommitGumballStart(ctx, id)
	if err != nil {
		return false, lifecycle.Settlement(err, "fail to commit start of gumball %s", id)
	}

	var (
		gumball models.Gumball
		applied bool
	)
	err = e.run.Transact(ctx, func(tx *gorm.DB) error {
		applied = false
		if err := lockGumball(tx, id, "", &gumball); err != nil {
			return err
		}
		if !e.startable(&gumball) {
			return nil
		}
		gumball.State = models.GumballActive
		if err := tx.Model(&gumball).Update("state", gumball.State).Error; err != nil {
			return err
		}
		applied = true
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerGumballStart,
			AggregateID: id,
			Sender:      "system",
			Amount:      decimal.Zero,
		})
	})
	if err != nil || !applied {
		return false, err
	}
	e.run.Transitioned(string(gumball.State))
	e.publish(events.GumballStarted, &gumball, "", reference, nil)
	return true, nil
}

// ProcessExpired 結束已截止的扭蛋機，售完的扭蛋機同樣等到截止時間才結束
func (e *Engine) ProcessExpired(ctx context.Context) (int, error) {
	const op = "ProcessExpired"
	var ids []uuid.UUID
	if err := e.run.DB(ctx).Model(&models.Gumball{}).
		Where("state = ? AND end_time <= ?", models.GumballActive, e.run.Now()).
		Order("end_time").
		Limit(lifecycle.SweepBatchSize).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("[gumball.%s] Fail to query gumballs, err=%w", op, err)
	}
	return e.run.Sweep(ctx, op, ids, e.end)
}

func (e *Engine) endable(g *models.Gumball) bool {
	return g.State == models.GumballActive && !g.EndTime.After(e.run.Now())
}

func (e *Engine) end(ctx context.Context, id uuid.UUID) (bool, error) {
	if ok, err := e.peek(ctx, id, e.endable); err != nil || !ok {
		return false, err
	}
	reference, err := e.run.Gateway().CommitGumballEnd(ctx, id)
	if err != nil {
		return false, lifecycle.Settlement(err, "fail to commit end of gumball %s", id)
	}

	var (
		gumball models.Gumball
		applied bool
	)
	err = e.run.Transact(ctx, func(tx *gorm.DB) error {
		applied = false
		if err := lockGumball(tx, id, "", &gumball); err != nil {
			return err
		}
		if !e.endable(&gumball) {
			e.run.Logger().Warn("gumball changed after end was committed",
				slog.String("gumballID", id.String()),
				slog.String("state", string(gumball.State)),
			)
			return nil
		}
		applied = true
		return e.complete(tx, &gumball, "system", reference)
	})
	if err != nil || !applied {
		return false, err
	}
	e.run.Transitioned(string(gumball.State))
	e.publish(events.GumballEnded, &gumball, "", reference, map[string]string{
		"ticketsSold": strconv.Itoa(gumball.TicketsSold),
	})
	return true, nil
}

// EndManually 由建立者立即結束進行中的扭蛋機，結果規則與排程結束相同
func (e *Engine) EndManually(ctx context.Context, id uuid.UUID, creator, reference string) (*models.Gumball, error) {
	var gumball models.Gumball
	err := e.run.Mutate(ctx, "EndManually", reference, func(tx *gorm.DB) error {
		if err := lockGumball(tx, id, creator, &gumball); err != nil {
			return err
		}
		if gumball.State != models.GumballActive {
			return lifecycle.Conflict(lifecycle.ReasonNotActive, "gumball %s is %s", id, gumball.State)
		}
		return e.complete(tx, &gumball, creator, reference)
	})
	if err != nil {
		return nil, err
	}
	e.run.Transitioned(string(gumball.State))
	e.publish(events.GumballEndedManually, &gumball, creator, reference, map[string]string{
		"ticketsSold": strconv.Itoa(gumball.TicketsSold),
	})
	return &gumball, nil
}

func (e *Engine) complete(tx *gorm.DB, gumball *models.Gumball, sender, reference string) error {
	target := completion(gumball)
	if err := machine.Transition(gumball.State, target); err != nil {
		return err
	}
	gumball.State = target
	gumball.SettlementRef = lo.ToPtr(reference)
	if err := tx.Model(gumball).Updates(map[string]any{
		"state":          target,
		"settlement_ref": reference,
	}).Error; err != nil {
		return err
	}
	return e.run.Record(tx, ledger.Entry{
		Reference:   reference,
		Type:        models.LedgerGumballEnd,
		AggregateID: gumball.ID,
		Sender:      sender,
		Receiver:    gumball.Creator,
		Amount:      decimal.NewFromInt(gumball.TotalProceeds),
		Metadata: map[string]any{
			"outcome":      string(target),
			"ticketsSold":  gumball.TicketsSold,
			"uniqueBuyers": gumball.UniqueBuyers,
		},
	})
}

// peek 在交易外讀取扭蛋機並判斷是否值得呼叫閘道
func (e *Engine) peek(ctx context.Context, id uuid.UUID, eligible func(*models.Gumball) bool) (bool, error) {
	var gumball models.Gumball
	result := e.run.DB(ctx).Where("id = ?", id).Limit(1).Find(&gumball)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0 && eligible(&gumball), nil
}
