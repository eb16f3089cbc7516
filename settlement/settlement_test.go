package settlement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenad/settlement"
)

func TestSimulated_VerifyReference(t *testing.T) {
	gateway := settlement.NewSimulated()
	ctx := context.Background()

	ok, err := gateway.VerifyReference(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, ok)

	gateway.Deny("sig-2")
	ok, err = gateway.VerifyReference(ctx, "sig-2")
	require.NoError(t, err)
	assert.False(t, ok)

	gateway.DenyAll(true)
	ok, err = gateway.VerifyReference(ctx, "sig-1")
	require.NoError(t, err)
	assert.False(t, ok)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = gateway.VerifyReference(canceled, "sig-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulated_Commit(t *testing.T) {
	gateway := settlement.NewSimulated()
	ctx := context.Background()
	raffleID := uuid.New()

	gateway.FailCommits(1, nil)
	_, err := gateway.CommitWinners(ctx, raffleID, []string{"alice"})
	assert.ErrorIs(t, err, settlement.ErrCommitRejected)
	assert.Empty(t, gateway.Commits())

	winners := []string{"alice", "bob"}
	ref, err := gateway.CommitWinners(ctx, raffleID, winners)
	require.NoError(t, err)
	assert.Contains(t, ref, "sim-")
	winners[0] = "mallory"

	custom := errors.New("rpc down")
	gateway.FailCommits(1, custom)
	_, err = gateway.CommitAuctionEnd(ctx, uuid.New())
	assert.ErrorIs(t, err, custom)

	_, err = gateway.CommitGumballStart(ctx, uuid.New())
	require.NoError(t, err)

	commits := gateway.Commits()
	require.Len(t, commits, 2)
	assert.Equal(t, "announce_winners", commits[0].Action)
	assert.Equal(t, raffleID, commits[0].Aggregate)
	assert.Equal(t, []string{"alice", "bob"}, commits[0].Winners)
	assert.Equal(t, ref, commits[0].Reference)
	assert.Equal(t, "start_gumball", commits[1].Action)
}

func TestCachedVerifier(t *testing.T) {
	const key = "arena:verified:sig-1"

	t.Run("cache hit skips the gateway", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		inner := settlement.NewSimulated()
		inner.DenyAll(true)
		verifier := settlement.NewCachedVerifier(inner, client)

		mock.ExpectExists(key).SetVal(1)
		ok, err := verifier.VerifyReference(context.Background(), "sig-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("confirmed reference is cached", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		verifier := settlement.NewCachedVerifier(settlement.NewSimulated(), client,
			settlement.WithCachedVerifierTTL(time.Hour))

		mock.ExpectExists(key).SetVal(0)
		mock.ExpectSet(key, 1, time.Hour).SetVal("OK")
		ok, err := verifier.VerifyReference(context.Background(), "sig-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unconfirmed reference is not cached", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		inner := settlement.NewSimulated()
		inner.Deny("sig-1")
		verifier := settlement.NewCachedVerifier(inner, client)

		mock.ExpectExists(key).SetVal(0)
		ok, err := verifier.VerifyReference(context.Background(), "sig-1")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cache errors fall back to the gateway", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		verifier := settlement.NewCachedVerifier(settlement.NewSimulated(), client,
			settlement.WithCachedVerifierPrefix("p:"))

		mock.ExpectExists("p:sig-1").SetErr(errors.New("connection refused"))
		mock.ExpectSet("p:sig-1", 1, 24*time.Hour).SetErr(errors.New("connection refused"))
		ok, err := verifier.VerifyReference(context.Background(), "sig-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commits pass through", func(t *testing.T) {
		client, _ := redismock.NewClientMock()
		inner := settlement.NewSimulated()
		verifier := settlement.NewCachedVerifier(inner, client)

		_, err := verifier.CommitAuctionStart(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Len(t, inner.Commits(), 1)
	})
}
