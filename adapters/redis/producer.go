package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"

	"arenad/events"
)

var ErrProducerClosed = errors.New("producer is closed")

type producerOptions struct {
	logger       *slog.Logger
	bufferSize   int
	maxLen       int64
	writeTimeout time.Duration
}

type ProducerOption func(*producerOptions)

// WithProducerLogger 設置日誌記錄器
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(o *producerOptions) {
		o.logger = logger
	}
}

// WithProducerBufferSize 設置緩衝大小
func WithProducerBufferSize(size int) ProducerOption {
	return func(o *producerOptions) {
		o.bufferSize = size
	}
}

// WithProducerMaxLen 設置stream保留的大約長度，0代表不裁剪
func WithProducerMaxLen(n int64) ProducerOption {
	return func(o *producerOptions) {
		o.maxLen = n
	}
}

// WithProducerWriteTimeout 設置單次寫入的超時
func WithProducerWriteTimeout(d time.Duration) ProducerOption {
	return func(o *producerOptions) {
		o.writeTimeout = d
	}
}

// Producer 將已提交的生命週期事件非同步寫入redis stream
// Publish不會阻塞引擎；Close會先送出緩衝中的事件
type Producer struct {
	client   redis.UniversalClient
	stream   string
	upstream *chanx.UnboundedChan[map[string]any]
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
	options  producerOptions
}

func NewProducer(client redis.UniversalClient, stream string, opts ...ProducerOption) (*Producer, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := producerOptions{
		logger:       slog.Default(),
		bufferSize:   100,
		maxLen:       100000,
		writeTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Producer{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Producer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (p *Producer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.upstream = chanx.NewUnboundedChan[map[string]any](ctx, p.options.bufferSize)
	p.cancel = cancel
	p.closed = false
	p.logger.Info("starting stream producer")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("producer goroutine stopped")

		// upstream.In關閉後，Out會在送完緩衝內容後關閉
		for message := range p.upstream.Out {
			p.write(message)
		}
	}()
}

func (p *Producer) write(message map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), p.options.writeTimeout)
	defer cancel()

	args := &redis.XAddArgs{Stream: p.stream, Values: message}
	if p.options.maxLen > 0 {
		args.MaxLen = p.options.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.logger.Error("publish event error", slog.Any("type", message["type"]), slog.Any("error", err))
		return
	}
	p.logger.Debug("event published", slog.String("messageId", id))
}

// Publish 實作events.Publisher
func (p *Producer) Publish(event events.Event) error {
	message, err := EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("[Producer.Publish] Fail to encode event, err=%w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	p.upstream.In <- message
	return nil
}

// Recent 由新到舊讀取stream中最近的count筆事件
func (p *Producer) Recent(ctx context.Context, count int64) ([]events.Event, error) {
	const op = "Producer.Recent"
	messages, err := p.client.XRevRangeN(ctx, p.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to read stream, err=%w", op, err)
	}
	result := make([]events.Event, 0, len(messages))
	for _, m := range messages {
		event, err := DecodeEvent(m.Values)
		if err != nil {
			p.logger.Warn("skip undecodable message", slog.String("messageId", m.ID), slog.Any("error", err))
			continue
		}
		result = append(result, event)
	}
	return result, nil
}

func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.logger.Info("closing stream producer")
	p.closed = true
	close(p.upstream.In)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	p.logger.Info("stream producer closed")
}
