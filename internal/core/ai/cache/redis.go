package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"recipe-modifier/internal/core/ai/fingerprint"
	"recipe-modifier/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "recipe-modifier:modification:"

// RedisStore 以 Redis 保存快取條目，過期交由 Redis TTL 處理；
// 另以 set 記錄每個食譜的 fingerprint 以支援整批失效
type RedisStore struct {
	client       *redis.Client
	prefix       string
	now          Clock
	deleteScript *redis.Script
}

// luaDeleteByRecipe 在同一個腳本內讀取索引並刪除條目，與 MULTI 寫入互斥
const luaDeleteByRecipe = `
local members = redis.call("SMEMBERS", KEYS[1])
local deleted = 0
for _, fp in ipairs(members) do
  deleted = deleted + redis.call("DEL", ARGV[1] .. fp)
end
redis.call("DEL", KEYS[1])
return deleted
`

// NewRedisStore 創建 Redis 快取；client 由呼叫端建立與關閉，可與配額共用
func NewRedisStore(client *redis.Client, prefix string, clock Clock) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisStore{
		client:       client,
		prefix:       prefix,
		now:          clock,
		deleteScript: redis.NewScript(luaDeleteByRecipe),
	}
}

func (s *RedisStore) entryKey(fp fingerprint.Fingerprint) string {
	return s.prefix + "entry:" + string(fp)
}

func (s *RedisStore) recipeKey(recipeID string) string {
	return s.prefix + "recipe:" + recipeID
}

// Get 獲取緩存
func (s *RedisStore) Get(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, error) {
	data, err := s.client.Get(ctx, s.entryKey(fp)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// 無法解析的條目視為不存在並移除
		common.LogWarn("快取條目格式錯誤，已刪除", zap.String("鍵", fp.Short()), zap.Error(err))
		_ = s.client.Del(ctx, s.entryKey(fp)).Err()
		return nil, ErrMiss
	}
	if entry.Expired(s.now()) {
		_ = s.client.Del(ctx, s.entryKey(fp)).Err()
		return nil, ErrMiss
	}
	return &entry, nil
}

// Set 設置緩存，TTL 取自 ExpiresAt
func (s *RedisStore) Set(ctx context.Context, entry *Entry) error {
	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	idx := s.recipeKey(entry.RecipeID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(entry.Fingerprint), data, ttl)
		pipe.SAdd(ctx, idx, string(entry.Fingerprint))
		pipe.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Delete 刪除單一條目；索引中的殘留成員會在 DeleteByRecipe 時一併清除
func (s *RedisStore) Delete(ctx context.Context, fp fingerprint.Fingerprint) error {
	if err := s.client.Del(ctx, s.entryKey(fp)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}

// DeleteByRecipe 刪除某食譜的所有條目
func (s *RedisStore) DeleteByRecipe(ctx context.Context, recipeID string) (int, error) {
	n, err := s.deleteScript.Run(ctx, s.client, []string{s.recipeKey(recipeID)}, s.prefix+"entry:").Int()
	if err != nil {
		return 0, fmt.Errorf("failed to delete recipe entries: %w", err)
	}
	return n, nil
}

// Ping 檢查 Redis 連線
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close client 由呼叫端關閉
func (s *RedisStore) Close() error {
	return nil
}
