package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ipflow/relay/ratelimit"
)

// windowScript maintains a sliding window as a sorted set of event times.
// KEYS[1] = window key
// ARGV[1] = now (unix ms), ARGV[2] = window (ms), ARGV[3] = limit, ARGV[4] = member
// Returns {count, recorded, oldest}. A limit of 0 only reads.
var windowScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local recorded = 0
if limit > 0 and count < limit then
    redis.call('ZADD', KEYS[1], now, ARGV[4])
    count = count + 1
    recorded = 1
end
if count > 0 then
    redis.call('PEXPIRE', KEYS[1], window)
end
local oldest = 0
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if first[2] then oldest = first[2] end
return {count, recorded, tostring(oldest)}
`)

// Hit implements ratelimit.Store.
func (s *Store) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (ratelimit.Window, bool, error) {
	return s.runWindow(ctx, key, now, window, limit)
}

// Count implements ratelimit.Store.
func (s *Store) Count(ctx context.Context, key string, now time.Time, window time.Duration) (ratelimit.Window, error) {
	w, _, err := s.runWindow(ctx, key, now, window, 0)
	return w, err
}

func (s *Store) runWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (ratelimit.Window, bool, error) {
	args := []any{now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString()}
	res, err := windowScript.Run(ctx, s.rdb, []string{zRateWindow + key}, args...).Slice()
	if err != nil {
		return ratelimit.Window{}, false, fmt.Errorf("relay/redis: rate window: %w", err)
	}
	if len(res) != 3 {
		return ratelimit.Window{}, false, fmt.Errorf("relay/redis: rate window: unexpected reply %v", res)
	}

	count, _ := res[0].(int64)
	recorded, _ := res[1].(int64)
	raw, _ := res[2].(string)

	w := ratelimit.Window{Count: int(count)}
	if count > 0 {
		ms, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ratelimit.Window{}, false, fmt.Errorf("relay/redis: rate window oldest %q: %w", raw, err)
		}
		w.Oldest = time.UnixMilli(int64(ms)).UTC()
	}
	return w, recorded == 1, nil
}
