package ratelimit

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// takeScript counts hits in a key that expires with the window. It returns
// the hit count and the remaining TTL in milliseconds.
var takeScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisStore keeps buckets in Redis so that all instances share one budget
// per key.
type RedisStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a RedisStore. Keys are stored under prefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

var _ Store = (*RedisStore)(nil)

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, rule Rule) (Decision, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + key}, rule.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrap(err, "run rate limit script")
	}
	if len(res) != 2 {
		return Decision{}, errors.Errorf("unexpected rate limit script result %v", res)
	}

	hits, ttl := res[0], time.Duration(res[1])*time.Millisecond
	remaining := int64(rule.Points) - hits
	return Decision{
		Allowed:   remaining >= 0,
		Limit:     rule.Points,
		Remaining: int(max(remaining, 0)),
		ResetAt:   s.now().Add(ttl),
	}, nil
}
