package cache

import (
	"context"
	"strconv"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/redis/go-redis/v9"
)

const idleAttemptTTL = 24 * time.Hour

// incrementScript bumps the counter, or starts a new window when none exists
// or the stored one elapsed. Instants are unix milliseconds.
var incrementScript = redis.NewScript(`
local start = redis.call('HGET', KEYS[1], 'window_start')
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
if (not start) or (window > 0 and tonumber(start) + window <= now) then
	redis.call('HSET', KEYS[1], 'count', 1, 'window_start', ARGV[1])
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
else
	redis.call('HINCRBY', KEYS[1], 'count', 1)
end
return redis.call('HMGET', KEYS[1], 'count', 'window_start')
`)

// AttemptStore keeps failed login counters in redis hashes. Increments run
// in a script so concurrent failures for one key are all counted.
type AttemptStore struct {
	client redis.UniversalClient
	prefix string
}

var _ auth.AttemptStore = (*AttemptStore)(nil)

func NewAttemptStore(client redis.UniversalClient, opts ...Option) *AttemptStore {
	o := resolveOptions(opts)
	return &AttemptStore{client: client, prefix: o.prefix}
}

func (s *AttemptStore) key(key string) string {
	return s.prefix + ":attempts:" + key
}

func (s *AttemptStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (auth.AttemptCounter, error) {
	ttl := window
	if ttl <= 0 {
		ttl = idleAttemptTTL
	}

	res, err := incrementScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(), window.Milliseconds(), ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return auth.AttemptCounter{}, err
	}
	return parseCounter(key, res), nil
}

func (s *AttemptStore) Get(ctx context.Context, key string) (auth.AttemptCounter, error) {
	res, err := s.client.HMGet(ctx, s.key(key), "count", "window_start").Result()
	if err != nil {
		return auth.AttemptCounter{}, err
	}
	return parseCounter(key, res), nil
}

func (s *AttemptStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func parseCounter(key string, fields []any) auth.AttemptCounter {
	counter := auth.AttemptCounter{Key: key}
	if len(fields) != 2 {
		return counter
	}
	if n, ok := asInt64(fields[0]); ok {
		counter.Count = int(n)
	}
	if ms, ok := asInt64(fields[1]); ok && ms > 0 {
		counter.WindowStart = time.UnixMilli(ms).UTC()
	}
	return counter
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	case int64:
		return t, true
	default:
		return 0, false
	}
}
