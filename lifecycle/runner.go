package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"arenad/adapters/store"
	"arenad/events"
	"arenad/ledger"
	"arenad/metrics"
	"arenad/models"
	"arenad/selection"
	"arenad/settlement"
)

// Clock 目前時間的來源
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type options struct {
	logger    *slog.Logger
	publisher events.Publisher
	clock     Clock
	source    selection.Source
	metrics   *metrics.Metrics
	archive   Archive
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPublisher 設置事件發布者
func WithPublisher(publisher events.Publisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

// WithClock 設置時間來源
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithSource 設置抽獎亂數來源
func WithSource(source selection.Source) Option {
	return func(o *options) {
		o.source = source
	}
}

// WithMetrics 設置指標
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Runner 引擎共用的執行流程：驗證付款參照、交易、帳本、事件與指標
type Runner struct {
	kind    models.AggregateKind
	tx      *store.Transactor
	gateway settlement.Gateway
	logger  *slog.Logger
	options options
}

func NewRunner(kind models.AggregateKind, tx *store.Transactor, gateway settlement.Gateway, opts ...Option) *Runner {
	o := options{
		logger:    slog.Default(),
		publisher: events.Nop{},
		clock:     ClockFunc(time.Now),
		source:    selection.NewCryptoSource(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Runner{
		kind:    kind,
		tx:      tx,
		gateway: gateway,
		logger:  o.logger.With(slog.String("caller", string(kind)+"Engine")),
		options: o,
	}
}

func (r *Runner) Logger() *slog.Logger        { return r.logger }
func (r *Runner) Gateway() settlement.Gateway { return r.gateway }
func (r *Runner) Source() selection.Source    { return r.options.source }
func (r *Runner) Metrics() *metrics.Metrics   { return r.options.metrics }

// Now 目前時間(UTC)
func (r *Runner) Now() time.Time {
	return r.options.clock.Now().UTC()
}

// DB 交易外的唯讀查詢
func (r *Runner) DB(ctx context.Context) *gorm.DB {
	return r.tx.DB(ctx)
}

// Verify 確認付款參照
func (r *Runner) Verify(ctx context.Context, reference string) error {
	if reference == "" {
		return Invalid("reference is required")
	}
	ok, err := r.gateway.VerifyReference(ctx, reference)
	if err != nil {
		return Settlement(err, "fail to verify reference %s", reference)
	}
	if !ok {
		return Unverified(reference)
	}
	return nil
}

// Mutate 參與者異動的標準流程
// 先向閘道確認參照，再於單一交易中檢查參照未被使用並執行fn；fn必須自行寫入帳本
func (r *Runner) Mutate(ctx context.Context, op, reference string, fn func(tx *gorm.DB) error) error {
	err := r.Verify(ctx, reference)
	if err == nil {
		err = r.Transact(ctx, func(tx *gorm.DB) error {
			exists, err := ledger.Exists(tx, reference)
			if err != nil {
				return err
			}
			if exists {
				return Conflict(ReasonDuplicateReference, "reference %s already applied", reference)
			}
			return fn(tx)
		})
	}
	r.Observe(op, err)
	if err != nil && KindOf(err) == "" {
		return fmt.Errorf("[%s.%s] Fail to apply operation, err=%w", r.kind, op, err)
	}
	return err
}

// Transact 在可重試的交易中執行fn，並轉換下層錯誤
func (r *Runner) Transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return Normalize(r.tx.Do(ctx, fn))
}

// Record 寫入帳本，AggregateKind由Runner補上
func (r *Runner) Record(tx *gorm.DB, entry ledger.Entry) error {
	entry.AggregateKind = r.kind
	_, err := ledger.Record(tx, entry)
	return err
}

// Publish 發布事件，失敗只記錄日誌
func (r *Runner) Publish(event events.Event) {
	event.Kind = string(r.kind)
	if event.At.IsZero() {
		event.At = r.Now()
	}
	if err := r.options.publisher.Publish(event); err != nil {
		r.logger.Warn("fail to publish event",
			slog.String("type", event.Type),
			slog.String("aggregateID", event.AggregateID),
			slog.Any("error", err),
		)
	}
}

// Transitioned 記錄一次生命週期轉換
func (r *Runner) Transitioned(to string) {
	r.options.metrics.Transition(string(r.kind), to)
}

// SettlementFailed 記錄結算失敗，事件留在原狀態等待下一輪
func (r *Runner) SettlementFailed(id fmt.Stringer, err error) {
	r.options.metrics.SettlementFailure(string(r.kind))
	r.logger.Error("settlement commit failed, will retry next tick",
		slog.String("id", id.String()),
		slog.Any("error", err),
	)
}

// Observe 記錄操作結果
func (r *Runner) Observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	r.options.metrics.Operation(string(r.kind), op, result)
}
