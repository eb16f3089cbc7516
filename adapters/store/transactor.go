package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var ErrRetriesExhausted = errors.New("transaction conflict retries exhausted")

type transactorOptions struct {
	logger      *slog.Logger
	isolation   sql.IsolationLevel
	maxRetries  int
	baseBackoff time.Duration
	onRetry     func(attempt int, err error)
}

type TransactorOption func(*transactorOptions)

// WithTransactorLogger 設置日誌記錄器
func WithTransactorLogger(logger *slog.Logger) TransactorOption {
	return func(o *transactorOptions) {
		o.logger = logger
	}
}

// WithIsolation 設置交易隔離等級
func WithIsolation(level sql.IsolationLevel) TransactorOption {
	return func(o *transactorOptions) {
		o.isolation = level
	}
}

// WithMaxRetries 設置發生寫入衝突時的最大重試次數
func WithMaxRetries(n int) TransactorOption {
	return func(o *transactorOptions) {
		o.maxRetries = n
	}
}

// WithBaseBackoff 設置第一次重試前的等待時間，之後每次加倍
func WithBaseBackoff(d time.Duration) TransactorOption {
	return func(o *transactorOptions) {
		o.baseBackoff = d
	}
}

// WithRetryHook 每次重試前呼叫(主要用於指標統計)
func WithRetryHook(fn func(attempt int, err error)) TransactorOption {
	return func(o *transactorOptions) {
		o.onRetry = fn
	}
}

// Transactor 以指定隔離等級執行交易，遇到可重試的衝突時以指數退避重新執行整個交易
type Transactor struct {
	db      *gorm.DB
	logger  *slog.Logger
	options transactorOptions
}

func NewTransactor(db *gorm.DB, opts ...TransactorOption) *Transactor {
	options := transactorOptions{
		logger:      slog.Default(),
		isolation:   sql.LevelSerializable,
		maxRetries:  3,
		baseBackoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.maxRetries < 0 {
		options.maxRetries = 0
	}
	return &Transactor{
		db:      db,
		logger:  options.logger.With(slog.String("caller", "Transactor")),
		options: options,
	}
}

// DB 回傳不在交易中的連線，用於唯讀查詢
func (t *Transactor) DB(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx)
}

// Do 在交易中執行fn
// fn回傳的錯誤會讓交易回滾；只有資料庫回報的序列化衝突或死結會觸發重試
func (t *Transactor) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	const op = "Transactor.Do"
	txOptions := &sql.TxOptions{Isolation: t.options.isolation}
	for attempt := 0; ; attempt++ {
		err := t.db.WithContext(ctx).Transaction(fn, txOptions)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt >= t.options.maxRetries {
			return fmt.Errorf("[%s] %w after %d attempts: %w", op, ErrRetriesExhausted, attempt+1, err)
		}
		backoff := t.options.baseBackoff << attempt
		t.logger.Warn("transaction conflict, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)
		if t.options.onRetry != nil {
			t.options.onRetry(attempt+1, err)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// IsRetryable 判斷錯誤是否為並發寫入造成的暫時性衝突
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}
