package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	natsAdapter "arenad/adapters/nats"
	redisAdapter "arenad/adapters/redis"
	s3Adapter "arenad/adapters/s3"
	"arenad/adapters/store"
	"arenad/auction"
	"arenad/events"
	"arenad/gumball"
	"arenad/lifecycle"
	"arenad/metrics"
	"arenad/raffle"
	"arenad/scheduler"
	"arenad/settlement"
)

// ServerImpl 組裝引擎、排程器與所有外部連線
type ServerImpl struct {
	db          *gorm.DB
	redisClient *redis.Client
	natsConn    *natsgo.Conn
	producer    *redisAdapter.Producer
	registry    *prometheus.Registry
	metrics     *metrics.Metrics

	raffles   *raffle.Engine
	auctions  *auction.Engine
	gumballs  *gumball.Engine
	scheduler *scheduler.Scheduler
	gateway   *settlement.Simulated

	httpServer *http.Server
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
	logger     *slog.Logger

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"
	logger := slog.Default().With(slog.String("caller", "Server"))
	impl := &ServerImpl{logger: logger, config: config}

	if config.Settlement.Mode != SettlementModeSimulated {
		return nil, fmt.Errorf("[%s] Fail to create settlement gateway, err=unsupported settlement mode %q", op, config.Settlement.Mode)
	}

	// 初始化資料庫連線
	db, err := openDB(config.DB)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to open database, err=%w", op, err)
	}
	impl.db = db

	// 初始化指標
	impl.registry = prometheus.NewRegistry()
	impl.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	impl.metrics = metrics.New(impl.registry)

	tx := store.NewTransactor(db,
		store.WithTransactorLogger(slog.Default()),
		store.WithMaxRetries(config.DB.MaxRetries),
		store.WithRetryHook(func(int, error) { impl.metrics.TxRetry() }),
	)

	// 結算閘道；只有明確指定simulated模式時才以模擬閘道代替鏈上結算
	impl.gateway = settlement.NewSimulated()
	logger.Warn("settlement runs in simulated mode", slog.String("mode", config.Settlement.Mode))
	var gateway settlement.Gateway = impl.gateway

	publishers := events.Multi{}
	opts := []lifecycle.Option{
		lifecycle.WithLogger(slog.Default()),
		lifecycle.WithMetrics(impl.metrics),
	}

	// 初始化Redis連線
	if config.Redis.Enabled() {
		impl.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		gateway = settlement.NewCachedVerifier(gateway, impl.redisClient,
			settlement.WithCachedVerifierLogger(slog.Default()),
			settlement.WithCachedVerifierTTL(config.Settlement.VerifyCacheTTL),
		)
		if config.Redis.EventStream != "" {
			impl.producer, err = redisAdapter.NewProducer(impl.redisClient, config.Redis.EventStream,
				redisAdapter.WithProducerLogger(slog.Default()),
				redisAdapter.WithProducerMaxLen(config.Redis.EventStreamLen),
			)
			if err != nil {
				impl.Close()
				return nil, fmt.Errorf("[%s] Fail to create event producer, err=%w", op, err)
			}
			publishers = append(publishers, impl.producer)
		}
	}

	// 初始化NATS連線
	if config.NATS.Enabled() {
		impl.natsConn, err = natsAdapter.Connect(config.NATS.URL, config.NATS.Name, slog.Default())
		if err != nil {
			impl.Close()
			return nil, fmt.Errorf("[%s] Fail to connect to nats, err=%w", op, err)
		}
		publisher, err := natsAdapter.NewPublisher(impl.natsConn, natsAdapter.WithPublisherLogger(slog.Default()))
		if err != nil {
			impl.Close()
			return nil, fmt.Errorf("[%s] Fail to create nats publisher, err=%w", op, err)
		}
		publishers = append(publishers, publisher)
	}
	if len(publishers) > 0 {
		opts = append(opts, lifecycle.WithPublisher(publishers))
	}

	// 初始化S3客戶端
	if config.S3.Enabled() {
		archive, err := newArchive(config.S3)
		if err != nil {
			impl.Close()
			return nil, fmt.Errorf("[%s] Fail to create draw archive, err=%w", op, err)
		}
		opts = append(opts, lifecycle.WithArchive(archive))
	}

	impl.raffles = raffle.NewEngine(tx, gateway, opts...)
	impl.auctions = auction.NewEngine(tx, gateway, opts...)
	impl.gumballs = gumball.NewEngine(tx, gateway, opts...)

	schedulerOpts := []scheduler.Option{
		scheduler.WithLogger(slog.Default()),
		scheduler.WithMetrics(impl.metrics),
		scheduler.WithInterval(config.Scheduler.Interval),
	}
	if impl.redisClient != nil && config.Scheduler.LockKey != "" {
		schedulerOpts = append(schedulerOpts, scheduler.WithLocker(redisAdapter.NewAutoRenewMutex(
			impl.redisClient,
			config.Scheduler.LockKey,
			redisAdapter.WithAutoRenewMutexLogger(slog.Default()),
			redisAdapter.WithAutoRenewMutexExpiry(config.Scheduler.LockExpiry),
		)))
	}
	impl.scheduler = scheduler.New(scheduler.SweeperTasks(impl.raffles, impl.auctions, impl.gumballs), schedulerOpts...)

	return impl, nil
}

func openDB(config DBConfig) (*gorm.DB, error) {
	switch config.Driver {
	case "sqlite":
		db, err := store.OpenSQLite(config.SQLitePath)
		if err != nil {
			return nil, err
		}
		// 本機開發時自動建立資料表，postgres的schema由atlas管理
		if err := store.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	case "postgres", "":
		return store.OpenPostgres(store.PostgresConfig{
			User:     config.User,
			Password: config.Password,
			Host:     config.Host,
			Port:     config.Port,
			Database: config.Database,
			Schema:   config.Schema,
		})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}
}

func newArchive(config S3Config) (*s3Adapter.Archive, error) {
	loadOpts := []func(*awsCfg.LoadOptions) error{
		awsCfg.WithRegion(config.Region),
	}
	if config.Endpoint != "" {
		loadOpts = append(loadOpts, awsCfg.WithBaseEndpoint(config.Endpoint))
	}
	if config.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsCfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}
	cfg, err := awsCfg.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("fail to load AWS config, err=%w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = config.Endpoint != ""
	})
	return s3Adapter.NewArchive(client, config.Bucket, s3Adapter.WithArchivePrefix(config.Prefix))
}

func (impl *ServerImpl) Raffles() *raffle.Engine   { return impl.raffles }
func (impl *ServerImpl) Auctions() *auction.Engine { return impl.auctions }
func (impl *ServerImpl) Gumballs() *gumball.Engine { return impl.gumballs }

// Gateway 模擬結算閘道，供開發環境調整驗證結果
func (impl *ServerImpl) Gateway() *settlement.Simulated { return impl.gateway }

// RunOnce 同步執行一輪排程
func (impl *ServerImpl) RunOnce(ctx context.Context) (scheduler.Result, error) {
	return impl.scheduler.RunOnce(ctx)
}

// Start 啟動事件發布、排程器與維運HTTP服務
func (impl *ServerImpl) Start() error {
	const op = "ServerImpl.Start"
	if impl.producer != nil {
		impl.producer.Start()
	}
	if err := impl.scheduler.Start(); err != nil {
		return fmt.Errorf("[%s] Fail to start scheduler, err=%w", op, err)
	}
	if impl.config.OpsAddr == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel
	impl.httpServer = &http.Server{
		Addr:              impl.config.OpsAddr,
		Handler:           impl.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	impl.logger.Info("Start ops server", slog.String("addr", impl.config.OpsAddr))
	impl.wg.Add(1)
	go func() {
		defer impl.wg.Done()
		defer impl.logger.Info("Ops server stopped")
		if err := impl.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			impl.logger.Error("Ops server failed", slog.Any("error", err))
		}
	}()
	return nil
}

// Handler 維運用的HTTP路由
func (impl *ServerImpl) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", impl.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(impl.registry, promhttp.HandlerOpts{})))
	router.GET("/events/recent", impl.recentEvents)
	router.GET("/raffles/:id/draw", impl.raffleDraw)
	return router
}

func (impl *ServerImpl) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{"db": "ok"}
	healthy := true
	sqlDB, err := impl.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		status["db"] = err.Error()
		healthy = false
	}
	if impl.redisClient != nil {
		status["redis"] = "ok"
		if err := impl.redisClient.Ping(ctx).Err(); err != nil {
			status["redis"] = err.Error()
			healthy = false
		}
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (impl *ServerImpl) recentEvents(c *gin.Context) {
	if impl.producer == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "event stream is not configured"})
		return
	}
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || limit <= 0 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "limit must be between 1 and 1000"})
		return
	}
	recent, err := impl.producer.Recent(c.Request.Context(), limit)
	if err != nil {
		impl.logger.Error("Fail to read recent events", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "fail to read events"})
		return
	}
	c.JSON(http.StatusOK, recent)
}

func (impl *ServerImpl) raffleDraw(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid raffle id"})
		return
	}
	draw, err := impl.raffles.Draw(c.Request.Context(), id)
	if err != nil {
		impl.logger.Error("Fail to load draw", slog.String("raffleID", id.String()), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "fail to load draw"})
		return
	}
	if draw == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "raffle has not been drawn"})
		return
	}
	c.JSON(http.StatusOK, draw)
}

func (impl *ServerImpl) Close() {
	// 關閉維運服務
	if impl.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := impl.httpServer.Shutdown(ctx); err != nil {
			impl.logger.Warn("Fail to shutdown ops server", slog.Any("error", err))
		}
		cancel()
		impl.cancelFunc()
		impl.wg.Wait()
	}
	// 停止排程器，等待進行中的一輪結束
	if impl.scheduler != nil {
		impl.scheduler.Stop()
	}
	// 送出緩衝中的事件
	if impl.producer != nil {
		impl.producer.Close()
	}
	if impl.natsConn != nil {
		if err := impl.natsConn.Drain(); err != nil {
			impl.logger.Warn("Fail to drain nats connection", slog.Any("error", err))
		}
	}
	if impl.redisClient != nil {
		impl.redisClient.Close()
	}
	if impl.db != nil {
		if sqlDB, err := impl.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
