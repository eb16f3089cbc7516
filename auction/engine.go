// Package auction 英式拍賣的生命週期
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

var machine = lifecycle.NewMachine("auction", map[models.AuctionState][]models.AuctionState{
	models.AuctionCreated:     {models.AuctionInitialized, models.AuctionActive, models.AuctionCancelled},
	models.AuctionInitialized: {models.AuctionActive, models.AuctionCancelled},
	models.AuctionActive: {
		models.AuctionCancelled,
		models.AuctionCompletedFailed,
		models.AuctionCompletedSuccessfully,
	},
})

type CreateInput struct {
	Creator              string          `validate:"required,max=64"`
	PrizeMint            string          `validate:"max=64"`
	PrizeName            string          `validate:"required,max=255"`
	PrizeImage           string          `validate:"omitempty,url"`
	FloorPrice           decimal.Decimal `validate:"-"`
	ReservePrice         *int64          `validate:"omitempty,gt=0"`
	BidIncrementPercent  float64         `validate:"gte=0,lte=100"`
	TimeExtensionMinutes *int            `validate:"omitempty,gt=0"`
	StartsAt             time.Time
	EndsAt               time.Time `validate:"required"`
}

type PlaceBidInput struct {
	AuctionID uuid.UUID `validate:"required"`
	Bidder    string    `validate:"required,max=64"`
	Amount    int64     `validate:"gt=0"`
	Reference string    `validate:"required,max=128"`
}

type Engine struct {
	run *lifecycle.Runner
}

func NewEngine(tx *store.Transactor, gateway settlement.Gateway, opts ...lifecycle.Option) *Engine {
	return &Engine{
		run: lifecycle.NewRunner(models.KindAuction, tx, gateway, opts...),
	}
}

func (e *Engine) Name() string { return string(models.KindAuction) }

// bpsDenominator 加價比例以萬分之一(basis point)儲存
const bpsDenominator = 10_000

// PercentToBps 將百分比換算成萬分之一，不足一個基點的部分捨去
func PercentToBps(pct float64) int64 {
	return decimal.NewFromFloat(pct).Shift(2).Floor().IntPart()
}

// MinimumBid 回傳下一次出價的最低金額
// 沒有出價時為保留價(未設置則為1)，之後為 ceil(highest * (10000+bps) / 10000)，且至少比highest多1
// 以decimal計算，金額接近int64上限時不會溢位
func MinimumBid(a *models.Auction) decimal.Decimal {
	if !a.HasAnyBid {
		if a.ReservePrice != nil {
			return decimal.NewFromInt(*a.ReservePrice)
		}
		return decimal.NewFromInt(1)
	}
	highest := decimal.NewFromInt(a.HighestBidAmount)
	step := highest.Mul(decimal.NewFromInt(a.BidIncrementBps)).
		Div(decimal.NewFromInt(bpsDenominator)).
		Ceil()
	return highest.Add(decimal.Max(step, decimal.NewFromInt(1)))
}

// Create 建立拍賣，狀態為CREATED
func (e *Engine) Create(ctx context.Context, in CreateInput) (*models.Auction, error) {
	const op = "Create"
	if err := lifecycle.Validate(in); err != nil {
		return nil, err
	}
	if in.FloorPrice.IsNegative() {
		return nil, lifecycle.Invalid("floor price cannot be negative")
	}
	now := e.run.Now()
	startsAt := in.StartsAt.UTC()
	if in.StartsAt.IsZero() {
		startsAt = now
	}
	endsAt := in.EndsAt.UTC()
	if !endsAt.After(startsAt) || !endsAt.After(now) {
		return nil, lifecycle.Invalid("endsAt must be after startsAt and in the future")
	}

	auction := models.Auction{
		Creator:              in.Creator,
		PrizeMint:            in.PrizeMint,
		PrizeName:            lifecycle.Sanitize(in.PrizeName),
		PrizeImage:           in.PrizeImage,
		FloorPrice:           in.FloorPrice,
		ReservePrice:         in.ReservePrice,
		BidIncrementBps:      PercentToBps(in.BidIncrementPercent),
		TimeExtensionMinutes: in.TimeExtensionMinutes,
		State:                models.AuctionCreated,
		StartsAt:             startsAt,
		EndsAt:               endsAt,
	}
	if auction.PrizeName == "" {
		return nil, lifecycle.Invalid("prize name cannot be empty")
	}
	err := e.run.Transact(ctx, func(tx *gorm.DB) error {
		return tx.Create(&auction).Error
	})
	e.run.Observe(op, err)
	if err != nil {
		return nil, fmt.Errorf("[auction.%s] Fail to create auction, err=%w", op, err)
	}
	return &auction, nil
}

// ConfirmCreation 確認建立付款，只接受CREATED的拍賣
// INITIALIZED之後的開始一律由排程器向閘道提交
func (e *Engine) ConfirmCreation(ctx context.Context, id uuid.UUID, creator, reference string) (*models.Auction, error) {
	var auction models.Auction
	err := e.run.Mutate(ctx, "ConfirmCreation", reference, func(tx *gorm.DB) error {
		if err := lockAuction(tx, id, &auction); err != nil {
			return err
		}
		if auction.Creator != creator {
			return lifecycle.Conflict(lifecycle.ReasonForbidden, "only the creator can confirm auction %s", id)
		}
		if auction.State != models.AuctionCreated {
			return lifecycle.Conflict(lifecycle.ReasonInvalidTransition, "auction %s is already %s", id, auction.State)
		}
		target := models.AuctionInitialized
		if !auction.StartsAt.After(e.run.Now()) {
			target = models.AuctionActive
		}
		if err := machine.Transition(auction.State, target); err != nil {
			return err
		}
		auction.State = target
		if err := tx.Model(&auction).Update("state", target).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerAuctionCreation,
			AggregateID: id,
			Sender:      creator,
			Amount:      auction.FloorPrice,
		})
	})
	if err != nil {
		return nil, err
	}
	e.run.Transitioned(string(auction.State))
	e.run.Publish(events.Event{
		Type:        events.AuctionConfirmed,
		AggregateID: id.String(),
		State:       string(auction.State),
		Actor:       creator,
		Reference:   reference,
	})
	return &auction, nil
}

// PlaceBid 出價
// 所有比較都在交易內完成，並發出價的落後者重試時會讀到較新的最高價而被拒絕
func (e *Engine) PlaceBid(ctx context.Context, in PlaceBidInput) (*models.Bid, error) {
	if err := lifecycle.Validate(in); err != nil {
		return nil, err
	}
	var (
		auction  models.Auction
		bid      models.Bid
		extended bool
	)
	err := e.run.Mutate(ctx, "PlaceBid", in.Reference, func(tx *gorm.DB) error {
		extended = false
		if err := lockAuction(tx, in.AuctionID, &auction); err != nil {
			return err
		}
		if auction.Creator == in.Bidder {
			return lifecycle.Invalid("creator cannot bid on their own auction")
		}
		if auction.State != models.AuctionActive {
			return lifecycle.Conflict(lifecycle.ReasonNotActive, "auction %s is %s", auction.ID, auction.State)
		}
		now := e.run.Now()
		if now.After(auction.EndsAt) {
			return lifecycle.Conflict(lifecycle.ReasonExpired, "auction %s has ended", auction.ID)
		}
		if auction.HasAnyBid && in.Amount <= auction.HighestBidAmount {
			return lifecycle.Conflict(lifecycle.ReasonBidTooLow,
				"bid %d must be higher than %d", in.Amount, auction.HighestBidAmount)
		}
		if minimum := MinimumBid(&auction); decimal.NewFromInt(in.Amount).LessThan(minimum) {
			return lifecycle.Conflict(lifecycle.ReasonBidTooLow, "bid %d is below the minimum %s", in.Amount, minimum)
		}

		bid = models.Bid{
			AuctionID: auction.ID,
			Bidder:    in.Bidder,
			Amount:    in.Amount,
			Reference: in.Reference,
		}
		if err := tx.Create(&bid).Error; err != nil {
			return err
		}
		auction.HighestBidAmount = in.Amount
		auction.HighestBidder = lo.ToPtr(in.Bidder)
		auction.HasAnyBid = true
		updates := map[string]any{
			"highest_bid_amount": auction.HighestBidAmount,
			"highest_bidder":     in.Bidder,
			"has_any_bid":        true,
		}
		if auction.TimeExtensionMinutes != nil {
			extension := time.Duration(*auction.TimeExtensionMinutes) * time.Minute
			if auction.EndsAt.Sub(now) < extension {
				auction.EndsAt = now.Add(extension)
				updates["ends_at"] = auction.EndsAt
				extended = true
			}
		}
		if err := tx.Model(&auction).Updates(updates).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   in.Reference,
			Type:        models.LedgerAuctionBid,
			AggregateID: auction.ID,
			Sender:      in.Bidder,
			Amount:      decimal.NewFromInt(in.Amount),
		})
	})
	if err != nil {
		return nil, err
	}
	e.run.Publish(events.Event{
		Type:        events.AuctionBidPlaced,
		AggregateID: auction.ID.String(),
		State:       string(auction.State),
		Actor:       in.Bidder,
		Reference:   in.Reference,
		Amount:      strconv.FormatInt(in.Amount, 10),
	})
	if extended {
		e.run.Publish(events.Event{
			Type:        events.AuctionExtended,
			AggregateID: auction.ID.String(),
			State:       string(auction.State),
			Attributes:  map[string]string{"endsAt": auction.EndsAt.Format(time.RFC3339)},
		})
	}
	return &bid, nil
}

// Cancel 由建立者取消尚無任何出價的拍賣
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, creator, reference string) error {
	var auction models.Auction
	err := e.run.Mutate(ctx, "Cancel", reference, func(tx *gorm.DB) error {
		if err := lockAuction(tx, id, &auction); err != nil {
			return err
		}
		if auction.Creator != creator {
			return lifecycle.Conflict(lifecycle.ReasonForbidden, "only the creator can cancel auction %s", id)
		}
		if auction.HasAnyBid {
			return lifecycle.Conflict(lifecycle.ReasonHasSales, "auction %s already has bids", id)
		}
		if err := machine.Transition(auction.State, models.AuctionCancelled); err != nil {
			return err
		}
		auction.State = models.AuctionCancelled
		if err := tx.Model(&auction).Update("state", auction.State).Error; err != nil {
			return err
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerAuctionCancel,
			AggregateID: id,
			Sender:      creator,
			Amount:      decimal.Zero,
		})
	})
	if err != nil {
		return err
	}
	e.run.Transitioned(string(auction.State))
	e.run.Publish(events.Event{
		Type:        events.AuctionCancelled,
		AggregateID: id.String(),
		State:       string(auction.State),
		Actor:       creator,
		Reference:   reference,
	})
	return nil
}

// Delete 由建立者刪除尚無任何出價的拍賣
func (e *Engine) Delete(ctx context.Context, id uuid.UUID, creator string) error {
	const op = "Delete"
	var auction models.Auction
	err := e.run.Transact(ctx, func(tx *gorm.DB) error {
		if err := lockAuction(tx, id, &auction); err != nil {
			return err
		}
		if auction.Creator != creator {
			return lifecycle.Conflict(lifecycle.ReasonForbidden, "only the creator can delete auction %s", id)
		}
		if auction.HasAnyBid {
			return lifecycle.Conflict(lifecycle.ReasonHasSales, "auction %s already has bids", id)
		}
		return tx.Delete(&auction).Error
	})
	e.run.Observe(op, err)
	if err != nil {
		return fmt.Errorf("[auction.%s] Fail to delete auction, err=%w", op, err)
	}
	e.run.Publish(events.Event{
		Type:        events.AuctionDeleted,
		AggregateID: id.String(),
		State:       string(auction.State),
		Actor:       creator,
	})
	return nil
}

// Claim 成交後得標者領取拍賣品，建立者領取成交金額，各自只能領一次
func (e *Engine) Claim(ctx context.Context, id uuid.UUID, actor, reference string) (decimal.Decimal, error) {
	var (
		auction models.Auction
		amount  decimal.Decimal
	)
	err := e.run.Mutate(ctx, "Claim", reference, func(tx *gorm.DB) error {
		if err := lockAuction(tx, id, &auction); err != nil {
			return err
		}
		if auction.State != models.AuctionCompletedSuccessfully {
			return lifecycle.Conflict(lifecycle.ReasonNotActive, "auction %s is %s, nothing to claim", id, auction.State)
		}
		switch {
		case auction.HighestBidder != nil && *auction.HighestBidder == actor:
			amount = decimal.Zero
		case auction.Creator == actor:
			amount = decimal.NewFromInt(lo.FromPtr(auction.FinalPrice))
		default:
			return lifecycle.Conflict(lifecycle.ReasonNotEligible, "%s has nothing to claim in auction %s", actor, id)
		}
		claimed, err := ledger.HasClaim(tx, models.LedgerAuctionClaim, actor, id)
		if err != nil {
			return err
		}
		if claimed {
			return lifecycle.Conflict(lifecycle.ReasonAlreadyClaimed, "%s already claimed auction %s", actor, id)
		}
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerAuctionClaim,
			AggregateID: id,
			Sender:      actor,
			Receiver:    actor,
			Amount:      amount,
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	e.run.Publish(events.Event{
		Type:        events.AuctionClaimed,
		AggregateID: id.String(),
		State:       string(auction.State),
		Actor:       actor,
		Reference:   reference,
		Amount:      amount.String(),
	})
	return amount, nil
}

// ProcessScheduledStarts 開始時間已到的INITIALIZED拍賣，向閘道提交開始後轉為ACTIVE
func (e *Engine) ProcessScheduledStarts(ctx context.Context) (int, error) {
	const op = "ProcessScheduledStarts"
	var ids []uuid.UUID
	if err := e.run.DB(ctx).Model(&models.Auction{}).
		Where("state = ? AND starts_at <= ?", models.AuctionInitialized, e.run.Now()).
		Order("starts_at").
		Limit(lifecycle.SweepBatchSize).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("[auction.%s] Fail to query auctions, err=%w", op, err)
	}
	return e.run.Sweep(ctx, op, ids, e.start)
}

func (e *Engine) start(ctx context.Context, id uuid.UUID) (bool, error) {
	startable := func(a *models.Auction) bool {
		return a.State == models.AuctionInitialized && !a.StartsAt.After(e.run.Now())
	}
	if ok, err := e.peek(ctx, id, startable); err != nil || !ok {
		return false, err
	}
	reference, err := e.run.Gateway().CommitAuctionStart(ctx, id)
	if err != nil {
		return false, lifecycle.Settlement(err, "fail to commit start of auction %s", id)
	}

	var (
		auction models.Auction
		applied bool
	)
	err = e.run.Transact(ctx, func(tx *gorm.DB) error {
		applied = false
		if err := lockAuction(tx, id, &auction); err != nil {
			return err
		}
		if !startable(&auction) {
			return nil
		}
		auction.State = models.AuctionActive
		if err := tx.Model(&auction).Update("state", auction.State).Error; err != nil {
			return err
		}
		applied = true
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerAuctionStart,
			AggregateID: id,
			Sender:      "system",
			Amount:      decimal.Zero,
		})
	})
	if err != nil || !applied {
		return false, err
	}
	e.run.Transitioned(string(auction.State))
	e.run.Publish(events.Event{Type: events.AuctionStarted, AggregateID: id.String(), State: string(auction.State), Reference: reference})
	return true, nil
}

// ProcessExpired 結束已截止的拍賣，有出價則成交，否則流標
func (e *Engine) ProcessExpired(ctx context.Context) (int, error) {
	const op = "ProcessExpired"
	var ids []uuid.UUID
	if err := e.run.DB(ctx).Model(&models.Auction{}).
		Where("state = ? AND ends_at <= ?", models.AuctionActive, e.run.Now()).
		Order("ends_at").
		Limit(lifecycle.SweepBatchSize).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("[auction.%s] Fail to query auctions, err=%w", op, err)
	}
	return e.run.Sweep(ctx, op, ids, e.end)
}

func (e *Engine) end(ctx context.Context, id uuid.UUID) (bool, error) {
	endable := func(a *models.Auction) bool {
		return a.State == models.AuctionActive && !a.EndsAt.After(e.run.Now())
	}
	if ok, err := e.peek(ctx, id, endable); err != nil || !ok {
		return false, err
	}
	reference, err := e.run.Gateway().CommitAuctionEnd(ctx, id)
	if err != nil {
		return false, lifecycle.Settlement(err, "fail to commit end of auction %s", id)
	}

	var (
		auction models.Auction
		applied bool
	)
	err = e.run.Transact(ctx, func(tx *gorm.DB) error {
		applied = false
		if err := lockAuction(tx, id, &auction); err != nil {
			return err
		}
		if !endable(&auction) {
			e.run.Logger().Warn("auction changed after end was committed",
				slog.String("auctionID", id.String()),
				slog.String("state", string(auction.State)),
				slog.Time("endsAt", auction.EndsAt),
			)
			return nil
		}
		target := models.AuctionCompletedFailed
		updates := map[string]any{"settlement_ref": reference}
		amount := decimal.Zero
		if auction.HasAnyBid {
			target = models.AuctionCompletedSuccessfully
			auction.FinalPrice = lo.ToPtr(auction.HighestBidAmount)
			updates["final_price"] = auction.HighestBidAmount
			amount = decimal.NewFromInt(auction.HighestBidAmount)
		}
		if err := machine.Transition(auction.State, target); err != nil {
			return err
		}
		auction.State = target
		auction.SettlementRef = lo.ToPtr(reference)
		updates["state"] = target
		if err := tx.Model(&auction).Updates(updates).Error; err != nil {
			return err
		}
		applied = true
		return e.run.Record(tx, ledger.Entry{
			Reference:   reference,
			Type:        models.LedgerAuctionEnd,
			AggregateID: id,
			Sender:      "system",
			Receiver:    auction.Creator,
			Amount:      amount,
			Metadata: map[string]any{
				"outcome":       string(target),
				"highestBidder": lo.FromPtr(auction.HighestBidder),
			},
		})
	})
	if err != nil || !applied {
		return false, err
	}
	e.run.Transitioned(string(auction.State))
	e.run.Publish(events.Event{
		Type:        events.AuctionEnded,
		AggregateID: id.String(),
		State:       string(auction.State),
		Actor:       lo.FromPtr(auction.HighestBidder),
		Reference:   reference,
		Amount:      strconv.FormatInt(lo.FromPtr(auction.FinalPrice), 10),
	})
	return true, nil
}

// peek 在交易外讀取拍賣並判斷是否值得呼叫閘道
func (e *Engine) peek(ctx context.Context, id uuid.UUID, eligible func(*models.Auction) bool) (bool, error) {
	var auction models.Auction
	result := e.run.DB(ctx).Where("id = ?", id).Limit(1).Find(&auction)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0 && eligible(&auction), nil
}

// Get 讀取拍賣
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	var auction models.Auction
	if err := e.run.DB(ctx).First(&auction, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.Conflict(lifecycle.ReasonNotFound, "auction %s not found", id)
		}
		return nil, fmt.Errorf("[auction.Get] Fail to read auction, err=%w", err)
	}
	return &auction, nil
}

// Bids 依出價順序列出拍賣的所有出價
func (e *Engine) Bids(ctx context.Context, id uuid.UUID) ([]models.Bid, error) {
	var bids []models.Bid
	if err := e.run.DB(ctx).Where("auction_id = ?", id).Order("amount").Find(&bids).Error; err != nil {
		return nil, fmt.Errorf("[auction.Bids] Fail to list bids, err=%w", err)
	}
	return bids, nil
}

func lockAuction(tx *gorm.DB, id uuid.UUID, auction *models.Auction) error {
	*auction = models.Auction{}
	if err := store.ForUpdate(tx).First(auction, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return lifecycle.Conflict(lifecycle.ReasonNotFound, "auction %s not found", id)
		}
		return err
	}
	return nil
}
