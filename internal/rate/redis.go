package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Scores are microseconds since the epoch. The cutoff arrives pre-formatted
// from Go because Lua number formatting loses precision at this magnitude.
const slidingWindowScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
local limit = tonumber(ARGV[3])
if count < limit then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
  return {1, count + 1, ""}
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
return {0, count, oldest[2]}
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// RedisBackend keeps each window in a sorted set so limits hold across
// processes.
type RedisBackend struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "gk"
	}
	return &RedisBackend{redis: client, prefix: prefix}
}

func (b *RedisBackend) key(key string) string {
	return b.prefix + ":rl:" + key
}

// Admit implements [Backend].
//
//	Performance: 1 script call (ZREMRANGEBYSCORE + ZCARD + ZADD + PEXPIRE).
func (b *RedisBackend) Admit(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Decision, error) {
	nowUS := now.UnixMicro()
	windowUS := window.Microseconds()
	ttlMS := window.Milliseconds() + 1

	res, err := slidingWindowLua.Run(ctx, b.redis,
		[]string{b.key(key)},
		nowUS,
		"("+strconv.FormatInt(nowUS-windowUS, 10),
		limit,
		uuid.NewString(),
		ttlMS,
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: malformed window reply", ErrUnavailable)
	}

	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)

	if allowed == 1 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit - int(count)}, nil
	}

	oldest, err := strconv.ParseFloat(fmt.Sprint(res[2]), 64)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: corrupt window score: %v", ErrUnavailable, err)
	}
	retry := time.Duration(int64(oldest)+windowUS-nowUS) * time.Microsecond

	return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retry}, nil
}
