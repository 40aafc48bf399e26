package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// INCR и установка TTL одной командой, чтобы ключ не остался без срока
// жизни при обрыве соединения между ними.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore хранит окна в Redis и разделяет их между экземплярами сервиса.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

var _ CounterStore = (*RedisStore)(nil)

// NewRedisStore создаёт RedisStore. prefix отделяет ключи лимитера от прочих.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "storefront:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Increment реализует CounterStore.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	if window < time.Millisecond {
		window = time.Millisecond
	}
	res, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis rate limit increment: %w", err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("redis rate limit increment: unexpected reply %v", res)
	}
	return res[0], time.Now().Add(time.Duration(res[1]) * time.Millisecond), nil
}
