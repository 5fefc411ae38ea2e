package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache backed by a redis server.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to redisURL, e.g. redis://:password@localhost:6379/0.
// Every key is stored under prefix.
func NewRedisCache(ctx context.Context, redisURL, prefix string) (*RedisCache, error) {
	parsedURL, err := url.Parse(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	redisPassword, _ := parsedURL.User.Password()

	db := 0
	if path := strings.Trim(parsedURL.Path, "/"); path != "" {
		db, err = strconv.Atoi(path)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q: %w", path, err)
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedURL.Host,
		Password: redisPassword,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return &RedisCache{client: client, prefix: prefix}, nil
}

func (rc *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := rc.client.Get(ctx, rc.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (rc *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return rc.client.Set(ctx, rc.prefix+key, value, ttl).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
