// Package storetest 提供以sqlite暫存檔為後端的測試資料庫
package storetest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"arenad/adapters/store"
)

// New 建立已完成遷移的資料庫與Transactor，回傳的cleanup會關閉連線
func New(t testing.TB, opts ...store.TransactorOption) (*gorm.DB, *store.Transactor, func()) {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))

	opts = append([]store.TransactorOption{store.WithBaseBackoff(time.Millisecond)}, opts...)
	return db, store.NewTransactor(db, opts...), func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())
	}
}
