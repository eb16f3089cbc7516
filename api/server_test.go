package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenad/api"
	"arenad/events"
	"arenad/models"
	"arenad/raffle"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newConfig(t *testing.T) api.ServerConfig {
	return api.ServerConfig{
		DB: api.DBConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "arena.db"),
			MaxRetries: 3,
		},
		Scheduler: api.SchedulerConfig{
			Interval: time.Hour,
			LockKey:  "arena:scheduler",
		},
		Settlement: api.SettlementConfig{Mode: api.SettlementModeSimulated, VerifyCacheTTL: time.Hour},
	}
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewServer_SettlementMode(t *testing.T) {
	for _, mode := range []string{"", "onchain"} {
		t.Run(mode, func(t *testing.T) {
			config := newConfig(t)
			config.Settlement.Mode = mode
			server, err := api.NewServer(config)
			assert.Nil(t, server)
			assert.ErrorContains(t, err, "unsupported settlement mode")
		})
	}
}

func TestServer_WithoutRedis(t *testing.T) {
	server, err := api.NewServer(newConfig(t))
	require.NoError(t, err)
	defer server.Close()
	handler := server.Handler()

	rec := get(t, handler, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"db":"ok"}`, rec.Body.String())

	rec = get(t, handler, "/events/recent")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, handler, "/raffles/not-a-uuid/draw")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, handler, "/raffles/"+uuid.NewString()+"/draw")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// 排程一輪沒有任何事件
	result, err := server.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Skipped)

	rec = get(t, handler, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "arena_scheduler_tick_seconds")
}

func TestServer_Lifecycle(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	config := newConfig(t)
	config.Redis = api.RedisConfig{Addr: mr.Addr(), EventStream: "arena:events", EventStreamLen: 1000}
	server, err := api.NewServer(config)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	defer server.Close()
	handler := server.Handler()

	rec := get(t, handler, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"db":"ok","redis":"ok"}`, rec.Body.String())

	ctx := context.Background()
	r, err := server.Raffles().Create(ctx, raffle.CreateInput{
		Creator:         "creator",
		Title:           "Server raffle",
		PrizeValue:      decimal.NewFromInt(1),
		TicketPrice:     5,
		TicketSupply:    3,
		MaxEntries:      3,
		NumberOfWinners: 1,
		EndsAt:          time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = server.Raffles().ConfirmCreation(ctx, r.ID, "creator", "create-"+r.ID.String())
	require.NoError(t, err)
	_, err = server.Raffles().BuyTicket(ctx, raffle.BuyTicketInput{RaffleID: r.ID, Participant: "alice", Quantity: 1, Reference: "buy-1"})
	require.NoError(t, err)

	// 已驗證的參照會快取在redis
	assert.True(t, mr.Exists("arena:verified:buy-1"))

	var recent []events.Event
	require.Eventually(t, func() bool {
		rec := get(t, handler, "/events/recent?limit=10")
		if rec.Code != http.StatusOK {
			return false
		}
		recent = nil
		return json.Unmarshal(rec.Body.Bytes(), &recent) == nil && len(recent) == 2
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, events.RaffleTicketPurchased, recent[0].Type)
	assert.Equal(t, events.RaffleConfirmed, recent[1].Type)

	rec = get(t, handler, "/events/recent?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	got, err := server.Raffles().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RaffleActive, got.State)

	rec = get(t, handler, "/metrics")
	assert.True(t, strings.Contains(rec.Body.String(), `arena_operations_total{kind="raffle",op="BuyTicket",result="ok"} 1`))
}
