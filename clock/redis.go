package clock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// advance keeps a per-key high-water mark: the candidate wins unless it does
// not move past the stored value, in which case stored+1 is used.
var advance = redis.NewScript(`
local t = tonumber(ARGV[1])
local last = tonumber(redis.call('GET', KEYS[1]) or '0')
if t <= last then t = last + 1 end
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], t, 'PX', ARGV[2])
else
  redis.call('SET', KEYS[1], t)
end
return t
`)

// Redis shares timestamps across processes so that writers on different
// hosts never reuse or go below a timestamp already handed out for a key.
// Keys may carry a TTL to bound growth; once a mark expires the key falls
// back to wall time.
type Redis struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration
	now func() time.Time
}

var _ Clock = (*Redis)(nil)

// NewRedis creates a Redis-backed clock without TTL.
func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	return &Redis{rdb: client, ns: namespace, now: time.Now}
}

// NewRedisWithTTL expires high-water marks after ttl of inactivity.
// ttl <= 0 disables expiry.
func NewRedisWithTTL(client redis.UniversalClient, namespace string, ttl time.Duration) *Redis {
	return &Redis{rdb: client, ns: namespace, ttl: ttl, now: time.Now}
}

func (c *Redis) key(k string) string { return "clock:" + c.ns + ":" + k }

func (c *Redis) Now(ctx context.Context, key string) (int64, error) {
	return advance.Run(ctx, c.rdb, []string{c.key(key)}, c.now().UnixMilli(), c.ttl.Milliseconds()).Int64()
}

// Close closes the underlying client.
func (c *Redis) Close() error { return c.rdb.Close() }
