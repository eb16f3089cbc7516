package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// SweepBatchSize 每一輪排程對單一階段處理的最大事件數
const SweepBatchSize = 100

// Archive 稽核資料的外部存放處
type Archive interface {
	Put(ctx context.Context, key string, v any) error
}

// WithArchive 設置稽核存放處
func WithArchive(archive Archive) Option {
	return func(o *options) {
		o.archive = archive
	}
}

// Archive 存放稽核資料，未設置存放處或失敗時只記錄日誌
func (r *Runner) Archive(ctx context.Context, key string, v any) {
	if r.options.archive == nil {
		return
	}
	if err := r.options.archive.Put(ctx, key, v); err != nil {
		r.logger.Warn("fail to archive", slog.String("key", key), slog.Any("error", err))
	}
}

// Sweep 依序對每個事件執行fn，單一事件失敗不影響其他事件
// fn回傳true代表實際套用了轉換；結算失敗只記錄，留待下一輪重試
func (r *Runner) Sweep(ctx context.Context, stage string, ids []uuid.UUID, fn func(ctx context.Context, id uuid.UUID) (bool, error)) (int, error) {
	applied := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := fn(ctx, id)
		switch {
		case err == nil:
			if ok {
				applied++
			}
		case errors.Is(err, ErrSettlementFailure):
			r.SettlementFailed(id, err)
		default:
			r.logger.Error("fail to process scheduled transition",
				slog.String("stage", stage),
				slog.String("id", id.String()),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("%s %s: %w", stage, id, err))
		}
	}
	return applied, errors.Join(errs...)
}
