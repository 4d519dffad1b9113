package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	AI         AIConfig         `mapstructure:"ai"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Database   DatabaseConfig   `mapstructure:"database"`
	LogLevel   string           `mapstructure:"log_level"`
	LogFile    string           `mapstructure:"log_file"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env     string `mapstructure:"env"`
	Debug   bool   `mapstructure:"debug"`
	Version string `mapstructure:"version"`
	Name    string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// OpenRouterConfig OpenRouter 配置
type OpenRouterConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Referer     string        `mapstructure:"referer"`
	Title       string        `mapstructure:"title"`
}

// AI 提供者
const (
	ProviderOpenRouter = "openrouter"
	ProviderSimulated  = "simulated"
)

// AIConfig 模型呼叫與重試設定
type AIConfig struct {
	Provider         string        `mapstructure:"provider"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
	SimulatedLatency time.Duration `mapstructure:"simulated_latency"`
}

// 儲存後端
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// CacheConfig 緩存配置
type CacheConfig struct {
	Backend         string        `mapstructure:"backend"`
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
}

// QueueConfig 同時送往提供者的請求數與等待上限
type QueueConfig struct {
	Workers int `mapstructure:"workers"`
	MaxSize int `mapstructure:"max_size"`
}

// RedisConfig Redis 連線設定，cache 或 quota 使用 redis 後端時才需要
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// QuotaConfig 每日配額設定
type QuotaConfig struct {
	Backend        string   `mapstructure:"backend"`
	DailyLimit     int64    `mapstructure:"daily_limit"`
	Timezone       string   `mapstructure:"timezone"`
	UnlimitedUsers []string `mapstructure:"unlimited_users"`
	KeyPrefix      string   `mapstructure:"key_prefix"`
}

// Location 解析配額時區
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(q.Timezone)
}

// RateLimitConfig 每個用戶端的 HTTP 速率限制
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	Burst    int           `mapstructure:"burst"`
}

// 資料庫驅動
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig 食譜與偏好的儲存設定
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// LoadConfig 從目前目錄的 .env 與環境變數載入設定
func LoadConfig() (*Config, error) {
	return Load(".env")
}

// Load 載入設定；envFile 不存在時略過
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	// 設定環境變數前綴
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Quota.UnlimitedUsers = splitList(config.Quota.UnlimitedUsers)
	config.Server.CORSOrigins = splitList(config.Server.CORSOrigins)

	// 驗證必要設定
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// bindEnv 綁定不帶 APP_ 前綴的常用環境變數
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"openrouter.api_key":    "OPENROUTER_API_KEY",
		"openrouter.base_url":   "OPENROUTER_BASE_URL",
		"openrouter.model":      "OPENROUTER_MODEL",
		"openrouter.max_tokens": "MODEL_MAX_TOKENS",
		"ai.provider":           "AI_PROVIDER",
		"cache.backend":         "CACHE_BACKEND",
		"redis.addr":            "REDIS_ADDR",
		"redis.password":        "REDIS_PASSWORD",
		"quota.backend":         "QUOTA_BACKEND",
		"quota.daily_limit":     "QUOTA_DAILY_LIMIT",
		"quota.timezone":        "QUOTA_TIMEZONE",
		"quota.unlimited_users": "QUOTA_UNLIMITED_USERS",
		"rate_limit.enabled":    "RATE_LIMIT_ENABLED",
		"rate_limit.requests":   "RATE_LIMIT_REQUESTS",
		"rate_limit.window":     "RATE_LIMIT_WINDOW",
		"database.driver":       "DATABASE_DRIVER",
		"database.dsn":          "DATABASE_DSN",
		"server.port":           "PORT",
		"log_level":             "LOG_LEVEL",
		"log_file":              "LOG_FILE",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "APP_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// setDefaults 設定預設值
func setDefaults(v *viper.Viper) {
	// 應用程式設定
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", true)
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.name", "recipe-modifier")

	// 伺服器設定
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.cors_origins", []string{"*"})

	// OpenRouter 設定
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini")
	v.SetDefault("openrouter.max_tokens", 2048)
	v.SetDefault("openrouter.temperature", 0.7)
	v.SetDefault("openrouter.timeout", "30s")
	v.SetDefault("openrouter.title", "Recipe Modifier")

	// AI 設定
	v.SetDefault("ai.provider", ProviderOpenRouter)
	v.SetDefault("ai.max_attempts", 3)
	v.SetDefault("ai.base_delay", "500ms")
	v.SetDefault("ai.max_delay", "8s")
	v.SetDefault("ai.attempt_timeout", "30s")
	v.SetDefault("ai.simulated_latency", "300ms")

	// 快取設定
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.cleanup_interval", "10m")
	v.SetDefault("cache.key_prefix", "recipe-modifier:modification:")

	// 隊列設定
	v.SetDefault("queue.workers", 5)
	v.SetDefault("queue.max_size", 100)

	// Redis 設定
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")

	// 配額設定
	v.SetDefault("quota.backend", BackendMemory)
	v.SetDefault("quota.daily_limit", 5)
	v.SetDefault("quota.timezone", "UTC")
	v.SetDefault("quota.unlimited_users", []string{})
	v.SetDefault("quota.key_prefix", "recipe-modifier:quota:")

	// 限流設定
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.burst", 20)

	// 資料庫設定
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	// 日誌設定
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	// 驗證伺服器設定
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", config.Server.Port)
	}

	switch config.AI.Provider {
	case ProviderOpenRouter:
		if strings.TrimSpace(config.OpenRouter.APIKey) == "" {
			return fmt.Errorf("OPENROUTER_API_KEY is required when ai.provider is %q", ProviderOpenRouter)
		}
	case ProviderSimulated:
	default:
		return fmt.Errorf("unknown ai provider %q", config.AI.Provider)
	}
	if config.AI.MaxAttempts <= 0 {
		return fmt.Errorf("ai max attempts must be positive")
	}
	if config.AI.BaseDelay <= 0 || config.AI.MaxDelay < config.AI.BaseDelay {
		return fmt.Errorf("invalid ai backoff delays")
	}
	if config.AI.AttemptTimeout <= 0 {
		return fmt.Errorf("invalid ai attempt timeout")
	}

	// 驗證快取設定
	if err := checkBackend("cache", config.Cache.Backend); err != nil {
		return err
	}
	if config.Cache.MaxSize <= 0 {
		return fmt.Errorf("invalid cache max size")
	}
	if config.Cache.TTL <= 0 {
		return fmt.Errorf("invalid cache ttl")
	}
	if config.Cache.CleanupInterval <= 0 {
		return fmt.Errorf("invalid cache cleanup interval")
	}

	// 驗證隊列設定
	if config.Queue.Workers <= 0 {
		return fmt.Errorf("invalid queue workers")
	}
	if config.Queue.MaxSize < 0 {
		return fmt.Errorf("invalid queue max size")
	}

	// 驗證配額設定
	if err := checkBackend("quota", config.Quota.Backend); err != nil {
		return err
	}
	if config.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota daily limit must be positive")
	}
	if _, err := config.Quota.Location(); err != nil {
		return fmt.Errorf("invalid quota timezone %q: %w", config.Quota.Timezone, err)
	}

	if config.RateLimit.Enabled && (config.RateLimit.Requests <= 0 || config.RateLimit.Window <= 0) {
		return fmt.Errorf("invalid rate limit settings")
	}

	switch config.Database.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if config.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", config.Database.Driver)
	}
	return nil
}

func checkBackend(section, backend string) error {
	switch backend {
	case BackendMemory, BackendRedis:
		return nil
	default:
		return fmt.Errorf("unknown %s backend %q", section, backend)
	}
}

// UsesRedis 是否有任何元件使用 Redis
func (c *Config) UsesRedis() bool {
	return c.Cache.Backend == BackendRedis || c.Quota.Backend == BackendRedis
}

// splitList 環境變數以逗號分隔的清單
func splitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
