package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const (
	redisKeyPrefix  = "venue:cache:"
	redisHashPrefix = "venue:hash:"
)

// RedisCache implements Cache on Redis. Expiry is native, so Cleanup has
// nothing to remove and Stats never reports expired entries.
type RedisCache struct {
	client  *redis.Client
	nowFunc func() time.Time
}

// NewRedis connects to the Redis server at url (redis://host:port/db) and
// verifies the connection.
func NewRedis(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrap(err, "cache: redis ping")
	}
	return NewRedisFromClient(client), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, nowFunc: time.Now}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: redis get %s", key)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, eris.Wrapf(err, "cache: decode %s", key)
	}
	if e.Expired(c.nowFunc()) {
		return nil, nil
	}
	return &e, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, contentHash string, ttl time.Duration) error {
	if err := checkKey(key); err != nil {
		return err
	}
	ttl = ttlOrDefault(ttl)
	now := c.nowFunc().UTC()
	raw, err := json.Marshal(Entry{
		Key:         key,
		Value:       value,
		ContentHash: contentHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	})
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s", key)
	}
	return eris.Wrapf(c.client.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(), "cache: redis set %s", key)
}

func (c *RedisCache) HasHashChanged(ctx context.Context, key, newHash string) (bool, error) {
	changed, _, err := c.CompareHash(ctx, key, newHash)
	return changed, err
}

// CompareHash swaps the stored hash atomically with SET ... GET.
func (c *RedisCache) CompareHash(ctx context.Context, key, newHash string) (bool, bool, error) {
	if err := checkKey(key); err != nil {
		return false, false, err
	}
	old, err := c.client.SetArgs(ctx, redisHashPrefix+key, newHash, redis.SetArgs{
		Get: true,
		TTL: HashTTL,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return true, false, nil
	}
	if err != nil {
		return false, false, eris.Wrapf(err, "cache: redis swap hash %s", key)
	}
	return old != newHash, true, nil
}

func (c *RedisCache) Cleanup(context.Context) (int, error) {
	return 0, nil
}

func (c *RedisCache) Clear(ctx context.Context) error {
	for _, prefix := range []string{redisKeyPrefix, redisHashPrefix} {
		iter := c.client.Scan(ctx, 0, prefix+"*", 500).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == 500 {
				if err := c.client.Del(ctx, batch...).Err(); err != nil {
					return eris.Wrap(err, "cache: redis clear")
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return eris.Wrap(err, "cache: redis scan")
		}
		if len(batch) > 0 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return eris.Wrap(err, "cache: redis clear")
			}
		}
	}
	return nil
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Backend: "redis"}
	for _, prefix := range []string{redisKeyPrefix, redisHashPrefix} {
		iter := c.client.Scan(ctx, 0, prefix+"*", 500).Iterator()
		for iter.Next(ctx) {
			s.Total++
		}
		if err := iter.Err(); err != nil {
			return s, eris.Wrap(err, "cache: redis scan")
		}
	}
	s.Valid = s.Total
	return s, nil
}

// Ping checks connectivity for health endpoints.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
