package ledger_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"arenad/adapters/store/storetest"
	"arenad/ledger"
	"arenad/models"
)

func TestRecord(t *testing.T) {
	defer goleak.VerifyNone(t)
	db, tr, cleanup := storetest.New(t)
	defer cleanup()

	raffleID := uuid.New()
	entry := ledger.Entry{
		Reference:     "sig-1",
		Type:          models.LedgerRaffleEntry,
		AggregateKind: models.KindRaffle,
		AggregateID:   raffleID,
		Sender:        "alice",
		Amount:        decimal.NewFromInt(300),
		Metadata:      map[string]any{"quantity": 3},
	}

	t.Run("first record succeeds", func(t *testing.T) {
		err := tr.Do(context.Background(), func(tx *gorm.DB) error {
			record, err := ledger.Record(tx, entry)
			if err != nil {
				return err
			}
			assert.Equal(t, "system", record.Receiver)
			assert.NotEqual(t, uuid.Nil, record.ID)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("duplicate reference is rejected", func(t *testing.T) {
		err := tr.Do(context.Background(), func(tx *gorm.DB) error {
			_, err := ledger.Record(tx, entry)
			return err
		})
		assert.ErrorIs(t, err, ledger.ErrDuplicateReference)

		var count int64
		require.NoError(t, db.Model(&models.LedgerRecord{}).Where("reference = ?", "sig-1").Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("empty reference is rejected", func(t *testing.T) {
		_, err := ledger.Record(db, ledger.Entry{Type: models.LedgerRaffleEntry})
		assert.ErrorIs(t, err, ledger.ErrEmptyReference)
	})

	t.Run("exists", func(t *testing.T) {
		ok, err := ledger.Exists(db, "sig-1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = ledger.Exists(db, "sig-unknown")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("list keeps metadata", func(t *testing.T) {
		records, err := ledger.List(db, raffleID)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, records[0].Amount.Equal(decimal.NewFromInt(300)))
		assert.EqualValues(t, 3, records[0].Metadata["quantity"])
	})
}

func TestHasClaim(t *testing.T) {
	defer goleak.VerifyNone(t)
	db, _, cleanup := storetest.New(t)
	defer cleanup()

	raffleID := uuid.New()
	_, err := ledger.Record(db, ledger.Entry{
		Reference:     "claim-1",
		Type:          models.LedgerRaffleClaim,
		AggregateKind: models.KindRaffle,
		AggregateID:   raffleID,
		Sender:        "alice",
		Amount:        decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		typ      models.LedgerType
		sender   string
		raffleID uuid.UUID
		want     bool
	}{
		{name: "same claimant", typ: models.LedgerRaffleClaim, sender: "alice", raffleID: raffleID, want: true},
		{name: "other claimant", typ: models.LedgerRaffleClaim, sender: "bob", raffleID: raffleID, want: false},
		{name: "other raffle", typ: models.LedgerRaffleClaim, sender: "alice", raffleID: uuid.New(), want: false},
		{name: "other type", typ: models.LedgerRaffleEntry, sender: "alice", raffleID: raffleID, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ledger.HasClaim(db, tt.typ, tt.sender, tt.raffleID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
