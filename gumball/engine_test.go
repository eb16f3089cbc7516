package gumball_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"arenad/adapters/store"
	"arenad/adapters/store/storetest"
	"arenad/events"
	"arenad/gumball"
	"arenad/lifecycle"
	"arenad/lifecycle/lifecycletest"
	"arenad/models"
	"arenad/selection"
	"arenad/settlement"
)

type fixture struct {
	engine   *gumball.Engine
	gateway  *settlement.Simulated
	clock    *lifecycletest.Clock
	recorder *events.Recorder
}

func setupTest(t *testing.T) (*fixture, func()) {
	_, tx, cleanup := storetest.New(t)
	f := &fixture{
		gateway:  settlement.NewSimulated(),
		clock:    lifecycletest.NewClock(lifecycletest.Epoch),
		recorder: &events.Recorder{},
	}
	f.engine = gumball.NewEngine(tx, f.gateway,
		lifecycle.WithClock(f.clock),
		lifecycle.WithPublisher(f.recorder),
		lifecycle.WithSource(selection.NewSeededSource(42)),
	)
	return f, cleanup
}

// confirmed 建立並確認一台手動開始的扭蛋機，狀態為INITIALIZED
func (f *fixture) confirmed(t *testing.T, totalTickets, minPrizes, maxPrizes int) *models.Gumball {
	t.Helper()
	ctx := context.Background()
	g, err := f.engine.Create(ctx, gumball.CreateInput{
		Creator:      "creator",
		Name:         "Lucky <em>machine</em>",
		TicketPrice:  25,
		TotalTickets: totalTickets,
		MinPrizes:    minPrizes,
		MaxPrizes:    maxPrizes,
		ManualStart:  true,
		EndTime:      f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	g, err = f.engine.ConfirmCreation(ctx, g.ID, "creator", "create-"+g.ID.String())
	require.NoError(t, err)
	require.Equal(t, models.GumballInitialized, g.State)
	return g
}

// active 建立、放入獎品並啟用
func (f *fixture) active(t *testing.T, totalTickets int, quantities ...int) *models.Gumball {
	t.Helper()
	units := lo.Sum(quantities)
	g := f.confirmed(t, totalTickets, 1, units)
	_, err := f.engine.AddPrizes(context.Background(), g.ID, "creator", prizes(quantities...), "prizes-"+g.ID.String())
	require.NoError(t, err)
	g, err = f.engine.Activate(context.Background(), g.ID, "creator", "activate-"+g.ID.String())
	require.NoError(t, err)
	return g
}

func prizes(quantities ...int) []gumball.PrizeInput {
	return lo.Map(quantities, func(q int, i int) gumball.PrizeInput {
		return gumball.PrizeInput{
			PrizeIndex:  i,
			Mint:        fmt.Sprintf("mint-%d", i),
			Name:        fmt.Sprintf("prize %d", i),
			PrizeAmount: decimal.NewFromInt(int64(10 * (i + 1))),
			Quantity:    q,
		}
	})
}

func (f *fixture) spin(id uuid.UUID, participant, reference string) (*models.GumballSpin, error) {
	return f.engine.Spin(context.Background(), gumball.SpinInput{
		GumballID:   id,
		Participant: participant,
		Reference:   reference,
	})
}

func TestEngine_Create(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	ctx := context.Background()

	g, err := f.engine.Create(ctx, gumball.CreateInput{
		Creator: "creator", Name: "machine", TicketPrice: 25, TotalTickets: 40, MinPrizes: 1, MaxPrizes: 10,
		EndTime: f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, models.GumballNone, g.State)
	assert.Equal(t, int64(1000), g.MaxProceeds)

	_, err = f.engine.Create(ctx, gumball.CreateInput{
		Creator: "creator", Name: "machine", TicketPrice: 25, TotalTickets: 40, MinPrizes: 11, MaxPrizes: 10,
		EndTime: f.clock.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, lifecycle.ErrValidation)

	// 獎品數未達下限，即使開始時間已到也停在INITIALIZED
	g, err = f.engine.ConfirmCreation(ctx, g.ID, "creator", "create-1")
	require.NoError(t, err)
	assert.Equal(t, models.GumballInitialized, g.State)
	_, err = f.engine.ConfirmCreation(ctx, g.ID, "creator", "create-2")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	// 確認前已放入足夠獎品，確認後直接ACTIVE
	stocked, err := f.engine.Create(ctx, gumball.CreateInput{
		Creator: "creator", Name: "stocked", TicketPrice: 25, TotalTickets: 40, MinPrizes: 1, MaxPrizes: 10,
		EndTime: f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = f.engine.AddPrize(ctx, stocked.ID, "creator", gumball.PrizeInput{PrizeIndex: 0, Mint: "m", Quantity: 1}, "prize-1")
	require.NoError(t, err)
	stocked, err = f.engine.ConfirmCreation(ctx, stocked.ID, "creator", "create-3")
	require.NoError(t, err)
	assert.Equal(t, models.GumballActive, stocked.State)
}

func TestEngine_AddPrize(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	ctx := context.Background()
	g := f.confirmed(t, 10, 2, 5)

	tests := []struct {
		name    string
		prize   gumball.PrizeInput
		creator string
		wantErr error
	}{
		{name: "first prize", creator: "creator", prize: gumball.PrizeInput{PrizeIndex: 0, Mint: "m0", PrizeAmount: decimal.NewFromInt(4), Quantity: 3}},
		{name: "exceeds the unit limit", creator: "creator", prize: gumball.PrizeInput{PrizeIndex: 1, Mint: "m1", Quantity: 3}, wantErr: lifecycle.ErrPrizeLimitExceeded},
		{name: "duplicate index", creator: "creator", prize: gumball.PrizeInput{PrizeIndex: 0, Mint: "m1", Quantity: 1}, wantErr: lifecycle.ErrDuplicatePrize},
		{name: "nft must be single", creator: "creator", prize: gumball.PrizeInput{PrizeIndex: 2, Mint: "nft", IsNFT: true, Quantity: 2}, wantErr: lifecycle.ErrValidation},
		{name: "not the owner", creator: "mallory", prize: gumball.PrizeInput{PrizeIndex: 3, Mint: "m3", Quantity: 1}, wantErr: lifecycle.ErrForbidden},
		{name: "fills the limit", creator: "creator", prize: gumball.PrizeInput{PrizeIndex: 1, Mint: "m1", TotalAmount: decimal.NewFromInt(7), Quantity: 2}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.AddPrize(ctx, g.ID, tt.creator, tt.prize, fmt.Sprintf("prize-%d", i))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	got, err := f.engine.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.PrizesAdded)
	assert.True(t, decimal.NewFromInt(19).Equal(got.TotalPrizeValue), got.TotalPrizeValue.String())
	assert.Len(t, got.Prizes, 2)
}

func TestEngine_AddPrizes(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	ctx := context.Background()
	g := f.confirmed(t, 10, 1, 10)

	_, err := f.engine.AddPrizes(ctx, g.ID, "creator", []gumball.PrizeInput{
		{PrizeIndex: 0, Mint: "a", Quantity: 1},
		{PrizeIndex: 0, Mint: "b", Quantity: 1},
	}, "batch-dup")
	assert.ErrorIs(t, err, lifecycle.ErrValidation)

	added, err := f.engine.AddPrizes(ctx, g.ID, "creator", prizes(2, 2), "batch-1")
	require.NoError(t, err)
	assert.Len(t, added, 2)

	_, err = f.engine.Activate(ctx, g.ID, "creator", "activate-1")
	require.NoError(t, err)

	// 已啟用但尚未售出：單筆不行，批次可以
	_, err = f.engine.AddPrize(ctx, g.ID, "creator", gumball.PrizeInput{PrizeIndex: 5, Mint: "c", Quantity: 1}, "single-active")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	_, err = f.engine.AddPrizes(ctx, g.ID, "creator", []gumball.PrizeInput{{PrizeIndex: 5, Mint: "c", Quantity: 1}}, "batch-2")
	require.NoError(t, err)

	_, err = f.spin(g.ID, "alice", "spin-1")
	require.NoError(t, err)
	_, err = f.engine.AddPrizes(ctx, g.ID, "creator", []gumball.PrizeInput{{PrizeIndex: 6, Mint: "d", Quantity: 1}}, "batch-3")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	got, err := f.engine.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.PrizesAdded)
}

func TestEngine_Activate(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	ctx := context.Background()
	g := f.confirmed(t, 10, 3, 10)

	_, err := f.engine.AddPrize(ctx, g.ID, "creator", gumball.PrizeInput{PrizeIndex: 0, Mint: "m", Quantity: 2}, "prize-1")
	require.NoError(t, err)
	_, err = f.engine.Activate(ctx, g.ID, "creator", "activate-1")
	assert.ErrorIs(t, err, lifecycle.ErrNotEligible)

	_, err = f.engine.AddPrize(ctx, g.ID, "creator", gumball.PrizeInput{PrizeIndex: 1, Mint: "m", Quantity: 1}, "prize-2")
	require.NoError(t, err)
	got, err := f.engine.Activate(ctx, g.ID, "creator", "activate-1")
	require.NoError(t, err)
	assert.Equal(t, models.GumballActive, got.State)

	_, err = f.engine.Activate(ctx, g.ID, "creator", "activate-2")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestEngine_Spin(t *testing.T) {
	t.Run("drains prizes and tickets", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		f, cleanup := setupTest(t)
		defer cleanup()
		ctx := context.Background()
		g := f.active(t, 3, 1, 2)

		preview, err := f.engine.PrepareSpin(ctx, g.ID)
		require.NoError(t, err)
		assert.True(t, preview.CanSpin)
		assert.Equal(t, 2, preview.AvailablePrizes)
		assert.Equal(t, 3, preview.TicketsRemaining)

		for i, p := range []string{"alice", "bob", "alice"} {
			spin, err := f.spin(g.ID, p, fmt.Sprintf("spin-%d", i))
			require.NoError(t, err)
			assert.Equal(t, p, spin.Winner)
		}
		_, err = f.spin(g.ID, "carol", "spin-3")
		assert.ErrorIs(t, err, lifecycle.ErrSoldOut)

		got, err := f.engine.Get(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.TicketsSold)
		assert.Equal(t, int64(75), got.TotalProceeds)
		assert.Equal(t, 2, got.UniqueBuyers)
		for _, prize := range got.Prizes {
			assert.Equal(t, prize.Quantity, prize.QuantityClaimed, "prize %d", prize.PrizeIndex)
		}

		preview, err = f.engine.PrepareSpin(ctx, g.ID)
		require.NoError(t, err)
		assert.False(t, preview.CanSpin)
		assert.Equal(t, lifecycle.ReasonSoldOut, preview.Reason)
	})

	t.Run("no prizes left", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		f, cleanup := setupTest(t)
		defer cleanup()
		g := f.active(t, 5, 1)

		_, err := f.spin(g.ID, "alice", "spin-1")
		require.NoError(t, err)
		_, err = f.spin(g.ID, "alice", "spin-2")
		assert.ErrorIs(t, err, lifecycle.ErrNoPrizesAvailable)
		_, err = f.spin(g.ID, "alice", "spin-1")
		assert.ErrorIs(t, err, lifecycle.ErrDuplicateReference)
	})

	t.Run("rejected when not active or after the end", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		f, cleanup := setupTest(t)
		defer cleanup()
		pending := f.confirmed(t, 5, 0, 5)
		_, err := f.spin(pending.ID, "alice", "spin-1")
		assert.ErrorIs(t, err, lifecycle.ErrNotActive)

		g := f.active(t, 5, 2)
		f.clock.Advance(time.Hour + time.Second)
		_, err = f.spin(g.ID, "alice", "spin-2")
		assert.ErrorIs(t, err, lifecycle.ErrExpired)
	})

	t.Run("every sku is equally likely", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		f, cleanup := setupTest(t)
		defer cleanup()
		ctx := context.Background()
		// 第一種獎品數量遠大於第二種，但兩者被抽中的機率相同
		g := f.active(t, 40, 38, 2)

		for i := 0; i < 2; i++ {
			_, err := f.spin(g.ID, "alice", fmt.Sprintf("spin-%d", i))
			require.NoError(t, err)
		}
		spins, err := f.engine.Spins(ctx, g.ID, "alice")
		require.NoError(t, err)
		assert.Len(t, spins, 2)
		for _, s := range spins {
			assert.True(t, s.Prize.PrizeAmount.Equal(s.PrizeAmount))
		}
	})
}

func TestEngine_Spin_Concurrent(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	const tickets, spinners = 5, 12
	g := f.active(t, tickets, 3, 3)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		soldOut int
	)
	for i := 0; i < spinners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.spin(g.ID, fmt.Sprintf("p%d", i), fmt.Sprintf("spin-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, lifecycle.ErrSoldOut):
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, tickets, ok)
	assert.Equal(t, spinners-tickets, soldOut)
	got, err := f.engine.Get(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, tickets, got.TicketsSold)
	claimed := lo.SumBy(got.Prizes, func(p models.GumballPrize) int { return p.QuantityClaimed })
	assert.Equal(t, tickets, claimed)
}

func TestEngine_Spin_RetriesConflict(t *testing.T) {
	defer goleak.VerifyNone(t)
	var retries []int
	db, tx, cleanup := storetest.New(t, store.WithRetryHook(func(attempt int, _ error) {
		retries = append(retries, attempt)
	}))
	defer cleanup()
	f := &fixture{
		gateway:  settlement.NewSimulated(),
		clock:    lifecycletest.NewClock(lifecycletest.Epoch),
		recorder: &events.Recorder{},
	}
	f.engine = gumball.NewEngine(tx, f.gateway,
		lifecycle.WithClock(f.clock),
		lifecycle.WithPublisher(f.recorder),
		lifecycle.WithSource(selection.NewSeededSource(42)),
	)
	g := f.active(t, 5, 2)

	// 第一次寫入轉蛋紀錄時回報序列化衝突
	conflicts := 1
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:spin_conflict", func(db *gorm.DB) {
		if db.Statement.Table == "gumball_spins" && conflicts > 0 {
			conflicts--
			_ = db.AddError(&pgconn.PgError{Code: pgerrcode.SerializationFailure})
		}
	}))

	spin, err := f.spin(g.ID, "alice", "spin-1")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, retries)
	assert.Equal(t, "alice", spin.Winner)

	got, err := f.engine.Get(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TicketsSold)
	assert.Equal(t, 1, got.UniqueBuyers)
	assert.Equal(t, 1, lo.SumBy(got.Prizes, func(p models.GumballPrize) int { return p.QuantityClaimed }))

	spins, err := f.engine.Spins(context.Background(), g.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, spins, 1)
}

func TestEngine_Delete(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	ctx := context.Background()

	sold := f.active(t, 5, 2)
	_, err := f.spin(sold.ID, "alice", "spin-1")
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.Delete(ctx, sold.ID, "creator"), lifecycle.ErrHasSales)

	unsold := f.active(t, 5, 2)
	assert.ErrorIs(t, f.engine.Delete(ctx, unsold.ID, "bob"), lifecycle.ErrForbidden)
	require.NoError(t, f.engine.Delete(ctx, unsold.ID, "creator"))

	_, err = f.engine.Get(ctx, unsold.ID)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
	assert.ErrorIs(t, f.engine.Delete(ctx, unsold.ID, "creator"), lifecycle.ErrNotFound)
	assert.Contains(t, f.recorder.Types(), events.GumballDeleted)
}

func TestEngine_ClaimPrize(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	ctx := context.Background()
	g := f.active(t, 5, 2)
	other := f.active(t, 5, 2)

	spin, err := f.spin(g.ID, "alice", "spin-1")
	require.NoError(t, err)

	_, err = f.engine.ClaimPrize(ctx, g.ID, spin.ID, "bob", "claim-1")
	assert.ErrorIs(t, err, lifecycle.ErrNotEligible)
	_, err = f.engine.ClaimPrize(ctx, other.ID, spin.ID, "alice", "claim-2")
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	claimed, err := f.engine.ClaimPrize(ctx, g.ID, spin.ID, "alice", "claim-3")
	require.NoError(t, err)
	assert.True(t, claimed.Claimed)
	assert.NotNil(t, claimed.ClaimedAt)
	assert.True(t, decimal.NewFromInt(10).Equal(claimed.PrizeAmount))

	_, err = f.engine.ClaimPrize(ctx, g.ID, spin.ID, "alice", "claim-4")
	assert.ErrorIs(t, err, lifecycle.ErrAlreadyClaimed)

	// 重送已入帳的付款參考
	_, err = f.engine.ClaimPrize(ctx, g.ID, spin.ID, "alice", "claim-3")
	assert.ErrorIs(t, err, lifecycle.ErrDuplicateReference)
}

func TestEngine_UpdateBuyBack(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	ctx := context.Background()

	pending := f.confirmed(t, 5, 0, 5)
	got, err := f.engine.UpdateBuyBack(ctx, pending.ID, "creator", true, 80, "bb-1")
	require.NoError(t, err)
	assert.True(t, got.BuyBackEnabled)
	assert.Equal(t, 80, got.BuyBackPercentage)

	g := f.active(t, 5, 1)
	_, err = f.engine.UpdateBuyBack(ctx, g.ID, "creator", true, 50, "bb-2")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	_, err = f.engine.UpdateBuyBack(ctx, g.ID, "creator", false, 0, "bb-3")
	require.NoError(t, err)
	_, err = f.engine.UpdateBuyBack(ctx, g.ID, "creator", false, 101, "bb-4")
	assert.ErrorIs(t, err, lifecycle.ErrValidation)
}

func TestEngine_Cancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	ctx := context.Background()

	sold := f.active(t, 5, 2)
	_, err := f.spin(sold.ID, "alice", "spin-1")
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.Cancel(ctx, sold.ID, "creator", "cancel-1"), lifecycle.ErrHasSales)

	unsold := f.active(t, 5, 2)
	assert.ErrorIs(t, f.engine.Cancel(ctx, unsold.ID, "bob", "cancel-2"), lifecycle.ErrForbidden)
	require.NoError(t, f.engine.Cancel(ctx, unsold.ID, "creator", "cancel-3"))
	_, err = f.spin(unsold.ID, "alice", "spin-2")
	assert.ErrorIs(t, err, lifecycle.ErrNotActive)
}

func TestEngine_ProcessScheduledStarts(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	ctx := context.Background()

	g, err := f.engine.Create(ctx, gumball.CreateInput{
		Creator: "creator", Name: "scheduled", TicketPrice: 1, TotalTickets: 5, MaxPrizes: 5,
		StartTime: f.clock.Now().Add(time.Minute),
		EndTime:   f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	g, err = f.engine.ConfirmCreation(ctx, g.ID, "creator", "create-1")
	require.NoError(t, err)
	require.Equal(t, models.GumballInitialized, g.State)
	manual := f.confirmed(t, 5, 0, 5)

	n, err := f.engine.ProcessScheduledStarts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Minute)
	n, err = f.engine.ProcessScheduledStarts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.engine.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GumballActive, got.State)
	got, err = f.engine.Get(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GumballInitialized, got.State)
}

func TestEngine_ProcessScheduledStarts_MinPrizes(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	ctx := context.Background()

	g, err := f.engine.Create(ctx, gumball.CreateInput{
		Creator: "creator", Name: "scheduled", TicketPrice: 1, TotalTickets: 5, MinPrizes: 2, MaxPrizes: 5,
		StartTime: f.clock.Now().Add(time.Minute),
		EndTime:   f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = f.engine.ConfirmCreation(ctx, g.ID, "creator", "create-1")
	require.NoError(t, err)
	_, err = f.engine.AddPrize(ctx, g.ID, "creator", gumball.PrizeInput{PrizeIndex: 0, Mint: "m", Quantity: 1}, "prize-1")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	n, err := f.engine.ProcessScheduledStarts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.gateway.Commits())

	_, err = f.engine.AddPrize(ctx, g.ID, "creator", gumball.PrizeInput{PrizeIndex: 1, Mint: "m", Quantity: 1}, "prize-2")
	require.NoError(t, err)
	n, err = f.engine.ProcessScheduledStarts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.engine.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GumballActive, got.State)
	assert.Equal(t, 2, got.PrizesAdded)
}

func TestEngine_ProcessExpired(t *testing.T) {
	t.Run("sold out waits for the end time", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		f, cleanup := setupTest(t)
		defer cleanup()
		ctx := context.Background()
		g := f.active(t, 2, 2)
		for i := 0; i < 2; i++ {
			_, err := f.spin(g.ID, "alice", fmt.Sprintf("spin-%d", i))
			require.NoError(t, err)
		}

		n, err := f.engine.ProcessExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, f.gateway.Commits())
		got, err := f.engine.Get(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, models.GumballActive, got.State)

		f.clock.Advance(time.Hour)
		f.gateway.FailCommits(1, nil)
		n, err = f.engine.ProcessExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		got, err = f.engine.Get(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, models.GumballActive, got.State)

		n, err = f.engine.ProcessExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		got, err = f.engine.Get(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, models.GumballCompletedSuccessfully, got.State)
		assert.NotNil(t, got.SettlementRef)
	})

	t.Run("expired without sales fails", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		f, cleanup := setupTest(t)
		defer cleanup()
		ctx := context.Background()
		g := f.active(t, 5, 2)

		f.clock.Advance(time.Hour)
		n, err := f.engine.ProcessExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		got, err := f.engine.Get(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, models.GumballCompletedFailed, got.State)
		assert.Contains(t, f.recorder.Types(), events.GumballEnded)
	})
}

func TestEngine_EndManually(t *testing.T) {
	defer goleak.VerifyNone(t)
	f, cleanup := setupTest(t)
	defer cleanup()
	ctx := context.Background()
	g := f.active(t, 5, 2)
	_, err := f.spin(g.ID, "alice", "spin-1")
	require.NoError(t, err)

	_, err = f.engine.EndManually(ctx, g.ID, "alice", "end-1")
	assert.ErrorIs(t, err, lifecycle.ErrForbidden)

	got, err := f.engine.EndManually(ctx, g.ID, "creator", "end-2")
	require.NoError(t, err)
	assert.Equal(t, models.GumballCompletedSuccessfully, got.State)
	assert.Empty(t, f.gateway.Commits())

	_, err = f.engine.EndManually(ctx, g.ID, "creator", "end-3")
	assert.ErrorIs(t, err, lifecycle.ErrNotActive)
}
