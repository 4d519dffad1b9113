package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AI_PROVIDER", ProviderSimulated)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ProviderSimulated, cfg.AI.Provider)
	assert.Equal(t, 3, cfg.AI.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.AI.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.AI.MaxDelay)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, int64(5), cfg.Quota.DailyLimit)
	assert.Equal(t, "UTC", cfg.Quota.Timezone)
	assert.Empty(t, cfg.Quota.UnlimitedUsers)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.False(t, cfg.UsesRedis())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test-key")
	t.Setenv("OPENROUTER_MODEL", "anthropic/claude-3-haiku")
	t.Setenv("QUOTA_DAILY_LIMIT", "10")
	t.Setenv("QUOTA_UNLIMITED_USERS", "admin, tester")
	t.Setenv("QUOTA_BACKEND", BackendRedis)
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("APP_AI_MAX_ATTEMPTS", "5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenRouter, cfg.AI.Provider)
	assert.Equal(t, "sk-or-test-key", cfg.OpenRouter.APIKey)
	assert.Equal(t, "anthropic/claude-3-haiku", cfg.OpenRouter.Model)
	assert.Equal(t, int64(10), cfg.Quota.DailyLimit)
	assert.Equal(t, []string{"admin", "tester"}, cfg.Quota.UnlimitedUsers)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.AI.MaxAttempts)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.UsesRedis())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AI_PROVIDER=simulated\nQUOTA_DAILY_LIMIT=7\n"), 0o600))
	// godotenv 不覆蓋既有變數；先以 t.Setenv 登記以便測試結束後還原
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("QUOTA_DAILY_LIMIT", "")
	require.NoError(t, os.Unsetenv("AI_PROVIDER"))
	require.NoError(t, os.Unsetenv("QUOTA_DAILY_LIMIT"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderSimulated, cfg.AI.Provider)
	assert.Equal(t, int64(7), cfg.Quota.DailyLimit)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("AI_PROVIDER", ProviderSimulated)

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "openrouter without key", env: map[string]string{"AI_PROVIDER": ProviderOpenRouter}},
		{name: "unknown provider", env: map[string]string{"AI_PROVIDER": "gpt"}},
		{name: "zero quota", env: map[string]string{"AI_PROVIDER": ProviderSimulated, "QUOTA_DAILY_LIMIT": "0"}},
		{name: "bad timezone", env: map[string]string{"AI_PROVIDER": ProviderSimulated, "QUOTA_TIMEZONE": "Mars/Base"}},
		{name: "unknown cache backend", env: map[string]string{"AI_PROVIDER": ProviderSimulated, "CACHE_BACKEND": "memcached"}},
		{name: "postgres without dsn", env: map[string]string{"AI_PROVIDER": ProviderSimulated, "DATABASE_DRIVER": DriverPostgres, "DATABASE_DSN": ""}},
		{name: "bad port", env: map[string]string{"AI_PROVIDER": ProviderSimulated, "PORT": "70000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENROUTER_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestQuotaLocation(t *testing.T) {
	loc, err := QuotaConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = QuotaConfig{Timezone: "UTC"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}
