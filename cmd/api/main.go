package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recipe-modifier/internal/api"
	"recipe-modifier/internal/api/handlers/health"
	"recipe-modifier/internal/api/middleware"
	"recipe-modifier/internal/core/ai/cache"
	"recipe-modifier/internal/core/ai/client"
	"recipe-modifier/internal/core/ai/openrouter"
	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/core/ai/queue"
	"recipe-modifier/internal/core/ai/quota"
	"recipe-modifier/internal/core/ai/simulated"
	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/infrastructure/config"
	"recipe-modifier/internal/infrastructure/metrics"
	"recipe-modifier/internal/infrastructure/persistence/gormstore"
	"recipe-modifier/internal/infrastructure/persistence/memory"
	"recipe-modifier/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// repository 同時提供食譜與偏好
type repository interface {
	recipe.Repository
	recipe.PreferenceRepository
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	// 載入設定（含 .env）
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化 logger（需在載入 config 後）
	if err := common.InitLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer common.Sync()

	common.LogInfo("載入設定",
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("openrouter_model", cfg.OpenRouter.Model),
		zap.String("openrouter_api_key", common.MaskSecret(cfg.OpenRouter.APIKey)),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("quota_backend", cfg.Quota.Backend),
		zap.String("database_driver", cfg.Database.Driver),
	)

	m := metrics.New()

	// Redis 連線（快取或配額使用 redis 後端時）
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = newRedisClient(cfg.Redis)
		if err != nil {
			common.LogFatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	// 修改結果快取
	responses := cache.New(newCacheStore(cfg, redisClient), cache.Options{TTL: cfg.Cache.TTL, Metrics: m})
	defer responses.Close()

	// 每日配額
	limiter, err := newLimiter(cfg, redisClient, m)
	if err != nil {
		common.LogFatal("Failed to initialize quota limiter", zap.Error(err))
	}

	// AI 提供者與重試客戶端
	gate, err := newProvider(cfg)
	if err != nil {
		common.LogFatal("Failed to initialize AI provider", zap.Error(err))
	}
	defer gate.Close()
	model := client.New(gate, client.Config{
		Model:          cfg.OpenRouter.Model,
		MaxTokens:      cfg.OpenRouter.MaxTokens,
		Temperature:    cfg.OpenRouter.Temperature,
		MaxAttempts:    cfg.AI.MaxAttempts,
		BaseDelay:      cfg.AI.BaseDelay,
		MaxDelay:       cfg.AI.MaxDelay,
		AttemptTimeout: cfg.AI.AttemptTimeout,
	}, m)

	// 食譜與偏好儲存
	repo, err := newRepository(cfg.Database)
	if err != nil {
		common.LogFatal("Failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()

	svc := modification.NewService(modification.Dependencies{
		Recipes:     repo,
		Preferences: repo,
		Cache:       responses,
		Limiter:     limiter,
		Model:       model,
		Metrics:     m,
	})

	// 速率限制與閒置用戶端清理
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst)
	stopCleanup := make(chan struct{})
	cleanupEvery := cfg.RateLimit.Window
	if cleanupEvery <= 0 {
		cleanupEvery = time.Minute
	}
	go func() {
		ticker := time.NewTicker(cleanupEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rateLimiter.Cleanup()
			case <-stopCleanup:
				return
			}
		}
	}()
	defer close(stopCleanup)

	// 設置路由
	router, err := api.SetupRouter(cfg, api.Dependencies{
		Modification: svc,
		Recipes:      repo,
		Preferences:  repo,
		Metrics:      m,
		RateLimiter:  rateLimiter,
		Health: health.Options{
			Version:  cfg.App.Version,
			Provider: model.ProviderName(),
			Queue:    gate,
			InFlight: responses.InFlight,
			Checks: map[string]health.Checker{
				"cache":    responses,
				"quota":    limiter,
				"database": repo,
			},
		},
	})
	if err != nil {
		common.LogError("Failed to setup router", zap.Error(err))
		os.Exit(1)
	}

	// 設置 HTTP 服務器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + 5*time.Second,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 啟動服務器
	serverErr := make(chan error, 1)
	go func() {
		common.LogInfo("啟動應用",
			zap.String("version", cfg.App.Version),
			zap.String("env", cfg.App.Env),
			zap.Bool("debug", cfg.App.Debug),
			zap.Int("port", cfg.Server.Port),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中斷信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		common.LogError("Failed to start server", zap.Error(err))
		return
	}

	common.LogInfo("Shutting down server...")

	// 設置關閉超時
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		common.LogError("Server forced to shutdown",
			zap.Error(err),
		)
	}

	common.LogInfo("Server exited")
}

func newRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	common.LogInfo("Redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return rdb, nil
}

func newCacheStore(cfg *config.Config, rdb *redis.Client) cache.Store {
	if cfg.Cache.Backend == config.BackendRedis {
		return cache.NewRedisStore(rdb, cfg.Cache.KeyPrefix, nil)
	}
	return cache.NewMemoryStore(cache.MemoryOptions{
		MaxSize:         cfg.Cache.MaxSize,
		CleanupInterval: cfg.Cache.CleanupInterval,
	})
}

func newLimiter(cfg *config.Config, rdb *redis.Client, m *metrics.Metrics) (*quota.Limiter, error) {
	loc, err := cfg.Quota.Location()
	if err != nil {
		return nil, err
	}
	var store quota.Store = quota.NewMemoryStore()
	if cfg.Quota.Backend == config.BackendRedis {
		store = quota.NewRedisStore(rdb, cfg.Quota.KeyPrefix)
	}
	policy := quota.NewPolicy(quota.Limit(cfg.Quota.DailyLimit), cfg.Quota.UnlimitedUsers)
	return quota.New(store, policy, quota.Options{Location: loc, Metrics: m}), nil
}

func newProvider(cfg *config.Config) (*queue.Manager, error) {
	var p provider.Provider
	switch cfg.AI.Provider {
	case config.ProviderSimulated:
		p = simulated.New(cfg.AI.SimulatedLatency)
	default:
		or, err := openrouter.NewClient(provider.Config{
			APIKey:  cfg.OpenRouter.APIKey,
			Model:   cfg.OpenRouter.Model,
			Timeout: cfg.OpenRouter.Timeout,
			BaseURL: cfg.OpenRouter.BaseURL,
			Referer: cfg.OpenRouter.Referer,
			Title:   cfg.OpenRouter.Title,
		})
		if err != nil {
			return nil, err
		}
		p = or
	}
	return queue.NewManager(p, queue.Options{Workers: cfg.Queue.Workers, MaxSize: cfg.Queue.MaxSize}), nil
}

func newRepository(cfg config.DatabaseConfig) (repository, error) {
	if cfg.Driver == config.DriverMemory {
		common.LogWarn("Using in-memory repository, data is lost on restart")
		return memory.NewStore(), nil
	}
	store, err := gormstore.Open(gormstore.Options{
		Driver:       cfg.Driver,
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
		AutoMigrate:  cfg.AutoMigrate,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}
