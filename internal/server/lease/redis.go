package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/redis/go-redis/v9"
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker keeps leases as plain string keys holding the owner token.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := newToken()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w: %w", key, common.ErrUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrBusy)
	}
	return &Lease{Key: key, Token: token, TTL: ttl, b: r}, nil
}

func (r *RedisLocker) renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, r.client, []string{r.prefix + key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("renew %s: %w: %w", key, common.ErrUnavailable, err)
	}
	return n == 1, nil
}

func (r *RedisLocker) release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("release %s: %w: %w", key, common.ErrUnavailable, err)
	}
	return nil
}
