// Package scheduler 週期性驅動各引擎的時間觸發轉換
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"arenad/adapters/redis"
	"arenad/lifecycle"
	"arenad/metrics"
)

// 跳過一輪的原因
const (
	SkipInFlight  = "in_flight"
	SkipLocked    = "locked"
	SkipLockError = "lock_error"
)

// Task 每一輪依序執行的工作，回傳實際套用的轉換數
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// SweeperTasks 每個引擎產生兩個工作：先處理排程開始，再處理到期
func SweeperTasks(sweepers ...lifecycle.Sweeper) []Task {
	tasks := make([]Task, 0, len(sweepers)*2)
	for _, s := range sweepers {
		tasks = append(tasks,
			Task{Name: s.Name() + ".starts", Run: s.ProcessScheduledStarts},
			Task{Name: s.Name() + ".expired", Run: s.ProcessExpired},
		)
	}
	return tasks
}

// Locker 跨實例的單一執行鎖
type Locker interface {
	TryLock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
}

// Result 一輪的結果
type Result struct {
	Applied map[string]int
	Skipped string
}

type options struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	locker   Locker
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics 設置指標
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithInterval 設置執行間隔
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// WithLocker 設置跨實例鎖，未設置時只保證單一程序內不重疊
func WithLocker(locker Locker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

type Scheduler struct {
	tasks   []Task
	tick    sync.Mutex
	mu      sync.Mutex
	cron    *gocron.Scheduler
	cancel  context.CancelFunc
	logger  *slog.Logger
	options options
}

func New(tasks []Task, opts ...Option) *Scheduler {
	o := options{
		logger:   slog.Default(),
		interval: time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.interval <= 0 {
		o.interval = time.Minute
	}
	return &Scheduler{
		tasks:   tasks,
		logger:  o.logger.With(slog.String("caller", "Scheduler")),
		options: o,
	}
}

// Start 以固定間隔在背景執行，重複呼叫不會有作用
func (s *Scheduler) Start() error {
	const op = "Scheduler.Start"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	_, err := cron.Every(s.options.interval).Do(func() {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", slog.Any("error", err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("[%s] Fail to schedule tick, err=%w", op, err)
	}
	cron.StartAsync()
	s.cron = cron
	s.cancel = cancel
	s.logger.Info("scheduler started", slog.Duration("interval", s.options.interval), slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop 停止排程並等待進行中的一輪結束，重複呼叫不會有作用
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	s.cancel()
	s.cron.Stop()
	s.cron = nil
	// 等待進行中的一輪
	s.tick.Lock()
	s.tick.Unlock()
	s.logger.Info("scheduler stopped")
}

// RunOnce 同步執行一輪；上一輪仍在進行或鎖被其他實例持有時直接跳過
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	if !s.tick.TryLock() {
		s.skip(SkipInFlight)
		return Result{Skipped: SkipInFlight}, nil
	}
	defer s.tick.Unlock()

	if s.options.locker != nil {
		lockCtx, err := s.options.locker.TryLock(ctx)
		if errors.Is(err, redis.ErrLockHeld) {
			s.skip(SkipLocked)
			return Result{Skipped: SkipLocked}, nil
		}
		if err != nil {
			s.skip(SkipLockError)
			return Result{Skipped: SkipLockError}, fmt.Errorf("[Scheduler.RunOnce] Fail to acquire lock, err=%w", err)
		}
		defer func() {
			if _, err := s.options.locker.Unlock(); err != nil {
				s.logger.Warn("fail to release scheduler lock", slog.Any("error", err))
			}
		}()
		ctx = lockCtx
	}

	start := time.Now()
	defer func() {
		s.options.metrics.Tick(time.Since(start).Seconds())
	}()

	result := Result{Applied: make(map[string]int, len(s.tasks))}
	var errs []error
	for _, task := range s.tasks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := task.Run(ctx)
		result.Applied[task.Name] = n
		if err != nil {
			s.logger.Error("scheduler task failed", slog.String("task", task.Name), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", task.Name, err))
		}
		if n > 0 {
			s.logger.Info("scheduler task applied transitions", slog.String("task", task.Name), slog.Int("applied", n))
		}
	}
	return result, errors.Join(errs...)
}

func (s *Scheduler) skip(reason string) {
	s.options.metrics.Skipped(reason)
	s.logger.Debug("scheduler tick skipped", slog.String("reason", reason))
}
