package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type cachedVerifierOptions struct {
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

type CachedVerifierOption func(*cachedVerifierOptions)

// WithCachedVerifierLogger 設置日誌記錄器
func WithCachedVerifierLogger(logger *slog.Logger) CachedVerifierOption {
	return func(o *cachedVerifierOptions) {
		o.logger = logger
	}
}

// WithCachedVerifierPrefix 設置redis key前綴
func WithCachedVerifierPrefix(prefix string) CachedVerifierOption {
	return func(o *cachedVerifierOptions) {
		o.prefix = prefix
	}
}

// WithCachedVerifierTTL 設置快取存活時間
func WithCachedVerifierTTL(ttl time.Duration) CachedVerifierOption {
	return func(o *cachedVerifierOptions) {
		o.ttl = ttl
	}
}

// CachedVerifier 將驗證成功的參照快取在redis
// 已確認的鏈上交易不會變回未確認，所以只快取成功結果；提交類操作直接轉給內層閘道
type CachedVerifier struct {
	Gateway
	client  *redis.Client
	logger  *slog.Logger
	options cachedVerifierOptions
}

func NewCachedVerifier(gateway Gateway, client *redis.Client, opts ...CachedVerifierOption) *CachedVerifier {
	options := cachedVerifierOptions{
		logger: slog.Default(),
		prefix: "arena:verified:",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &CachedVerifier{
		Gateway: gateway,
		client:  client,
		logger:  options.logger.With(slog.String("caller", "CachedVerifier")),
		options: options,
	}
}

func (c *CachedVerifier) VerifyReference(ctx context.Context, reference string) (bool, error) {
	key := c.options.prefix + reference
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		// 快取失效時退回內層閘道
		c.logger.Warn("fail to read verification cache", slog.String("reference", reference), slog.Any("error", err))
	} else if n > 0 {
		return true, nil
	}

	ok, err := c.Gateway.VerifyReference(ctx, reference)
	if err != nil || !ok {
		return ok, err
	}
	if err := c.client.Set(ctx, key, 1, c.options.ttl).Err(); err != nil {
		c.logger.Warn("fail to write verification cache", slog.String("reference", reference), slog.Any("error", err))
	}
	return true, nil
}
