package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLeaseStore implements mem.LeaseStore on a shared redis so that several
// service instances serialise charges for the same order or subscription.
type RedisLeaseStore struct {
	client      *redis.Client
	serviceName string
}

func NewRedisLeaseStore(addr, serviceName string) *RedisLeaseStore {
	return &RedisLeaseStore{
		client:      redis.NewClient(&redis.Options{Addr: addr}),
		serviceName: serviceName,
	}
}

func (r *RedisLeaseStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.GenerateKey("lease", key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lease %q: %w", key, err)
	}
	return ok, nil
}

func (r *RedisLeaseStore) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.GenerateKey("lease", key)}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis: release lease %q: %w", key, err)
	}
	return nil
}

func (r *RedisLeaseStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLeaseStore) Close() error {
	return r.client.Close()
}

func (r *RedisLeaseStore) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.serviceName, operation, key)
}
