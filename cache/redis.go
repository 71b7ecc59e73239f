// cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	logger "github.com/aegis-authz/aegis/logging"
)

const (
	permissionKeyPrefix = "authz:permissions:"
	ownershipKeyPrefix  = "authz:ownership:"
	failureKeyPrefix    = "authz:failures:"
)

// RedisPermissionCache stores resolved permission sets in Redis so a
// multi-instance deployment shares one cache. Expiry is delegated to
// Redis TTLs; no sweeper is needed.
type RedisPermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPermissionCache(client *redis.Client, ttl time.Duration) *RedisPermissionCache {
	return &RedisPermissionCache{client: client, ttl: ttl}
}

func (c *RedisPermissionCache) Get(ctx context.Context, identityID string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, permissionKeyPrefix+identityID).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	} else if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get permissions from cache: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to unmarshal cached permissions: %w", err)
	}
	return entry, true, nil
}

func (c *RedisPermissionCache) Set(ctx context.Context, identityID string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	if err := c.client.Set(ctx, permissionKeyPrefix+identityID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache permissions: %w", err)
	}
	logger.Debug("Permissions cached", zap.String("identityID", identityID))
	return nil
}

func (c *RedisPermissionCache) Delete(ctx context.Context, identityID string) error {
	if err := c.client.Del(ctx, permissionKeyPrefix+identityID).Err(); err != nil {
		return fmt.Errorf("failed to delete cached permissions: %w", err)
	}
	return nil
}

func (c *RedisPermissionCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, permissionKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to clear permission cache: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan permission cache keys: %w", err)
	}
	return nil
}

// RedisOwnershipCache keeps ownership verdicts with the same lifecycle as
// the permission cache.
type RedisOwnershipCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisOwnershipCache(client *redis.Client, ttl time.Duration) *RedisOwnershipCache {
	return &RedisOwnershipCache{client: client, ttl: ttl}
}

func (c *RedisOwnershipCache) Get(ctx context.Context, key OwnershipKey) (bool, bool, error) {
	raw, err := c.client.Get(ctx, ownershipKeyPrefix+key.String()).Result()
	if err == redis.Nil {
		return false, false, nil
	} else if err != nil {
		return false, false, fmt.Errorf("failed to get ownership from cache: %w", err)
	}
	return raw == "1", true, nil
}

func (c *RedisOwnershipCache) Set(ctx context.Context, key OwnershipKey, isOwner bool) error {
	val := "0"
	if isOwner {
		val = "1"
	}
	if err := c.client.Set(ctx, ownershipKeyPrefix+key.String(), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache ownership: %w", err)
	}
	return nil
}

// RedisFailureCounter relies on INCR's atomicity so concurrent failing
// requests cannot under-count a lockout.
type RedisFailureCounter struct {
	client *redis.Client
}

func NewRedisFailureCounter(client *redis.Client) *RedisFailureCounter {
	return &RedisFailureCounter{client: client}
}

func (c *RedisFailureCounter) Fail(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := failureKeyPrefix + key

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// NX keeps the original window start when the counter already exists.
	pipe.ExpireNX(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to record authorization failure: %w", err)
	}
	return incr.Val(), nil
}

func (c *RedisFailureCounter) Count(ctx context.Context, key string) (int64, error) {
	count, err := c.client.Get(ctx, failureKeyPrefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to read failure counter: %w", err)
	}
	return count, nil
}

func (c *RedisFailureCounter) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, failureKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset failure counter: %w", err)
	}
	return nil
}
