package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/api/handlers"
	"github.com/BaSui01/tokenbudget/config"
	"github.com/BaSui01/tokenbudget/internal/cache"
	"github.com/BaSui01/tokenbudget/internal/database"
	"github.com/BaSui01/tokenbudget/internal/mcptools"
	"github.com/BaSui01/tokenbudget/internal/metrics"
	"github.com/BaSui01/tokenbudget/internal/migration"
	"github.com/BaSui01/tokenbudget/internal/server"
	"github.com/BaSui01/tokenbudget/internal/store"
	"github.com/BaSui01/tokenbudget/internal/telemetry"
	llmcontext "github.com/BaSui01/tokenbudget/llm/context"
	"github.com/BaSui01/tokenbudget/llm/observability"
	"github.com/BaSui01/tokenbudget/llm/tokenizer"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// components 由配置装配出的核心对象，serve 与 stdio 共用
type components struct {
	cfg    *config.Config
	logger *zap.Logger

	pool          *database.PoolManager
	redis         *redis.Client
	cache         *cache.Manager
	counter       *tokenizer.Counter
	encoder       *tokenizer.TiktokenEncoder
	conversations *store.ConversationStore
	compressor    *llmcontext.Compressor
	budget        *llmcontext.Budget
	collector     *metrics.Collector
	otelMetrics   *observability.Metrics
	mcp           *mcptools.Server
}

// buildComponents 按依赖顺序打开数据库、缓存并构造计数与压缩流水线
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *components, err error) {
	c := &components{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.collector = metrics.NewCollector("tokenbudget", logger)
	if c.otelMetrics, err = observability.NewMetrics(); err != nil {
		return nil, fmt.Errorf("init otel instruments: %w", err)
	}

	// 1. 数据库与迁移
	if c.pool, err = database.Open(cfg.Database, logger, database.WithStatsObserver(c.collector)); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err = autoMigrate(ctx, c.pool, logger); err != nil {
			return nil, err
		}
	}

	// 2. 计数器
	c.encoder = tokenizer.NewTiktokenEncoder()
	counterOpts := []tokenizer.Option{
		tokenizer.WithEncoder(c.encoder),
		tokenizer.WithLogger(logger),
		tokenizer.WithObserver(c.collector),
		tokenizer.WithLimits(tokenizer.NewLimits(cfg.Tokenizer.Limits)),
	}
	if cfg.Tokenizer.AnthropicAPIKey != "" {
		exact, aerr := tokenizer.NewAnthropicCounter(tokenizer.AnthropicConfig{
			APIKey:     cfg.Tokenizer.AnthropicAPIKey,
			BaseURL:    cfg.Tokenizer.AnthropicBaseURL,
			Timeout:    cfg.Tokenizer.Timeout,
			MaxRetries: cfg.Tokenizer.MaxRetries,
		})
		if aerr != nil {
			return nil, fmt.Errorf("init anthropic counter: %w", aerr)
		}
		counterOpts = append(counterOpts, tokenizer.WithExactCounter(exact))
		logger.Info("Exact token counting enabled for primary family")
	} else {
		logger.Info("Anthropic API key not configured, primary family uses local counting")
	}
	c.counter = tokenizer.NewCounter(counterOpts...)

	// 3. 缓存
	cacheStore, err := c.openCacheStore(ctx)
	if err != nil {
		return nil, err
	}
	c.cache = cache.NewManager(cacheStore, c.counter, cache.Config{
		Backend:      cfg.Cache.Backend,
		MaxSize:      cfg.Cache.MaxSize,
		DefaultTTL:   cfg.Cache.DefaultTTL,
		CleanOnStart: cfg.Cache.CleanOnStart,
	}, logger, cache.WithRecorder(c.collector))
	if cfg.Cache.CleanOnStart {
		if n, cerr := c.cache.CleanExpired(ctx); cerr != nil {
			logger.Warn("Cache cleanup on start failed", zap.Error(cerr))
		} else {
			logger.Info("Cache cleaned on start", zap.Int64("removed", n))
		}
	}

	// 4. 会话、压缩与预算
	c.conversations = store.NewConversationStore(c.pool, c.counter, logger)
	c.compressor = llmcontext.NewCompressor(c.counter, logger,
		llmcontext.WithCache(c.cache),
		llmcontext.WithMessageSource(c.conversations),
		llmcontext.WithRecorder(c.collector),
		llmcontext.WithMetrics(c.otelMetrics),
	)
	c.budget = llmcontext.NewBudget(c.conversations, c.counter)

	// 5. MCP 工具
	c.mcp = mcptools.New(Version, mcptools.Deps{
		Counter:               c.counter,
		Budget:                c.budget,
		Compressor:            c.compressor,
		Cache:                 c.cache,
		DefaultModel:          cfg.Tokenizer.DefaultModel,
		DefaultStrategy:       cfg.Compression.DefaultStrategy,
		DefaultTargetRatio:    cfg.Compression.TargetRatio,
		DefaultPreserveRecent: cfg.Compression.PreserveRecent,
	},
		mcptools.WithRecorder(c.collector),
		mcptools.WithMetrics(c.otelMetrics),
		mcptools.WithLogger(logger),
	)

	return c, nil
}

// autoMigrate 在服务自己的连接上执行内嵌迁移
func autoMigrate(ctx context.Context, pool *database.PoolManager, logger *zap.Logger) error {
	dbType, err := migration.ParseDatabaseType(pool.Driver())
	if err != nil {
		return err
	}
	m, err := migration.NewMigratorFromDB(dbType, pool.SQLDB(), logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("Database migrations applied", zap.String("driver", pool.Driver()))
	return nil
}

// openCacheStore 按 cache.backend 选择存储
func (c *components) openCacheStore(ctx context.Context) (cache.Store, error) {
	switch strings.ToLower(c.cfg.Cache.Backend) {
	case "", "sql":
		return cache.NewGormStore(c.pool.DB()), nil
	case "redis":
		rc := c.cfg.Redis
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:         rc.Addr,
			Password:     rc.Password,
			DB:           rc.DB,
			KeyPrefix:    rc.KeyPrefix,
			MaxRetries:   3,
			PoolSize:     rc.PoolSize,
			MinIdleConns: rc.MinIdleConns,
			TLS:          rc.TLS,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.redis = client
		return cache.NewRedisStore(client, rc.KeyPrefix), nil
	case "memory":
		return cache.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", c.cfg.Cache.Backend)
	}
}

// Close 释放缓存与数据库连接
func (c *components) Close() {
	if c.cache != nil {
		// Manager.Close 会关闭底层存储（含 Redis 客户端）
		if err := c.cache.Close(); err != nil {
			c.logger.Warn("Cache close error", zap.Error(err))
		}
	} else if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.pool != nil {
		if err := c.pool.Close(); err != nil {
			c.logger.Warn("Database close error", zap.Error(err))
		}
	}
}

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 是 TokenBudget 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	components *components
	telemetry  *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler *handlers.HealthHandler

	// 后台 goroutine（限流清理、连接池指标）生命周期
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start 装配组件并启动所有监听
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		s.logger.Warn("Failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	if s.components, err = buildComponents(ctx, s.cfg, s.logger); err != nil {
		return err
	}

	s.initHealth()

	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if s.cfg.Server.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("tls", s.cfg.Server.TLSEnabled()),
		zap.String("cache_backend", s.cfg.Cache.Backend),
		zap.Bool("mcp_enabled", s.cfg.MCP.Enabled),
	)
	return nil
}

// initHealth 注册就绪检查
func (s *Server) initHealth() {
	c := s.components
	s.healthHandler = handlers.NewHealthHandler(s.logger, handlers.WithHealthVersion(Version))
	s.healthHandler.RegisterCheck(handlers.NewCheck("database", c.pool.Ping))
	s.healthHandler.RegisterCheck(handlers.NewCheck("cache", c.cache.Ping))
	// 编码表加载失败时计数退化为估算，只降级不下线
	s.healthHandler.RegisterOptionalCheck(handlers.NewCheck("tokenizer", func(context.Context) error {
		_, err := c.encoder.Count(tokenizer.DefaultEncoding, "ping")
		return err
	}))
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册全部 HTTP 路由
func (s *Server) routes() *http.ServeMux {
	c := s.components
	cfg := s.cfg
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// Token 计数
	tokens := handlers.NewTokenHandler(c.counter, cfg.Tokenizer.DefaultModel, s.logger)
	mux.HandleFunc("POST /v1/tokens/count", tokens.HandleCount)
	mux.HandleFunc("POST /v1/tokens/count/batch", tokens.HandleCountBatch)
	mux.HandleFunc("POST /v1/tokens/recommendation", tokens.HandleRecommendation)

	// 压缩
	compress := handlers.NewCompressHandler(c.compressor, c.conversations, cfg.Compression, cfg.Tokenizer.DefaultModel, s.logger)
	mux.HandleFunc("POST /v1/compress", compress.HandleCompress)

	// 会话
	conv := handlers.NewConversationHandler(c.conversations, c.budget, cfg.Tokenizer.DefaultModel, s.logger)
	mux.HandleFunc("POST /v1/conversations", conv.HandleCreate)
	mux.HandleFunc("GET /v1/conversations", conv.HandleList)
	mux.HandleFunc("GET /v1/conversations/{id}", conv.HandleGet)
	mux.HandleFunc("DELETE /v1/conversations/{id}", conv.HandleDelete)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", conv.HandleListMessages)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", conv.HandleAppend)
	mux.HandleFunc("GET /v1/conversations/{id}/budget", conv.HandleBudget)

	// 缓存管理
	cacheHandler := handlers.NewCacheHandler(c.cache, s.logger)
	mux.HandleFunc("GET /v1/cache/stats", cacheHandler.HandleStats)
	mux.HandleFunc("POST /v1/cache/clean", cacheHandler.HandleClean)
	mux.HandleFunc("DELETE /v1/cache", cacheHandler.HandleClear)
	mux.HandleFunc("DELETE /v1/cache/{key...}", cacheHandler.HandleInvalidate)

	// 预算推送
	mux.Handle("GET /ws/budget", handlers.NewBudgetSocket(conv, s.logger,
		handlers.WithOriginPatterns(cfg.Server.CORSAllowedOrigins...),
	))

	// MCP（Streamable HTTP）
	if cfg.MCP.Enabled {
		mux.Handle(cfg.MCP.Path, c.mcp.HTTPHandler(cfg.MCP.Path))
		s.logger.Info("MCP endpoint registered",
			zap.String("path", cfg.MCP.Path),
			zap.Strings("tools", c.mcp.Tools()))
	}

	if cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

// startHTTPServer 构建中间件链并启动 HTTP 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	mux := s.routes()

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	var tracing Middleware
	if s.telemetry != nil && s.telemetry.Enabled() {
		tracing = OTelTracing()
	}
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		tracing,
		MetricsMiddleware(s.components.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		BodyLimit(s.cfg.Server.MaxBodyBytes),
		Auth(s.cfg.Auth, skipAuthPaths, s.logger),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.ConfigFrom(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// startMetricsServer 在独立端口暴露 /metrics
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号或服务异常，然后优雅关闭全部资源
func (s *Server) WaitForShutdown(ctx context.Context) error {
	var err error
	if s.httpManager != nil {
		err = s.httpManager.WaitForShutdown(ctx)
	}
	s.Shutdown()
	return err
}

// Shutdown 优雅关闭所有服务，可重复调用
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	// 1. 停止后台 goroutine
	if s.cancel != nil {
		s.cancel()
	}

	// 2. 关闭 HTTP 与 Metrics 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	s.wg.Wait()

	// 3. 释放存储
	if s.components != nil {
		s.components.Close()
	}

	// 4. 刷出遥测数据
	if s.telemetry != nil {
		tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.telemetry.Shutdown(tctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
