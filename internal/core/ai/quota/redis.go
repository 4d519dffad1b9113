package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultKeyPrefix = "recipe-modifier:quota:"

// counterTTL 計數鍵在最後一次預留後保留兩天，足以涵蓋時區差異
const counterTTL = 48 * time.Hour

// RedisStore 以 Lua 腳本在 Redis 端原子地完成重置、檢查與遞增
type RedisStore struct {
	client *redis.Client
	prefix string
	script *redis.Script
}

// NewRedisStore 創建 Redis 計數；client 由呼叫端建立與關閉
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		script: redis.NewScript(luaReserveScript),
	}
}

const luaReserveScript = `
local key = KEYS[1]
local today = ARGV[1]
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "window", "count")
local window = data[1]
local count = 0
if data[2] ~= false and data[2] ~= nil then
  count = tonumber(data[2])
end

if window == false or window == nil or window < today then
  window = today
  count = 0
end

if count >= limit then
  return { 0, count, window }
end

count = count + 1
redis.call("HSET", key, "window", window, "count", count)
redis.call("EXPIRE", key, ttl)
return { 1, count, window }
`

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

// Reserve 檢查並預留一次額度
func (s *RedisStore) Reserve(ctx context.Context, userID, today string, limit Limit) (ReserveResult, error) {
	res, err := s.script.Run(ctx, s.client, []string{s.key(userID)},
		today, int64(limit), int64(counterTTL/time.Second)).Result()
	if err != nil {
		return ReserveResult{}, fmt.Errorf("quota script failed: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return ReserveResult{}, fmt.Errorf("unexpected quota script result %v", res)
	}
	reserved, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	window, _ := vals[2].(string)
	if window == "" {
		return ReserveResult{}, fmt.Errorf("quota script returned no window")
	}
	return ReserveResult{Reserved: reserved == 1, Count: count, Window: window}, nil
}

// Load 讀取計數
func (s *RedisStore) Load(ctx context.Context, userID string) (Counter, bool, error) {
	vals, err := s.client.HMGet(ctx, s.key(userID), "window", "count").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Counter{}, false, nil
		}
		return Counter{}, false, fmt.Errorf("failed to load quota counter: %w", err)
	}
	window, _ := vals[0].(string)
	if window == "" {
		return Counter{}, false, nil
	}
	c := Counter{UserID: userID, Window: window}
	if raw, ok := vals[1].(string); ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Counter{}, false, fmt.Errorf("invalid quota count %q: %w", raw, err)
		}
		c.Count = n
	}
	return c, true, nil
}

// Seed 直接寫入既有計數
func (s *RedisStore) Seed(ctx context.Context, c Counter) error {
	return s.client.HSet(ctx, s.key(c.UserID), "window", c.Window, "count", c.Count).Err()
}

// Ping 檢查 Redis 連線
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close client 由呼叫端關閉
func (s *RedisStore) Close() error {
	return nil
}
