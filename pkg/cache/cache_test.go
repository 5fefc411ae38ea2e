package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	_, ok, err := c.Get(ctx, "min")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "min", "40", time.Minute))
	require.NoError(t, c.Set(ctx, "forever", "1", 0))

	v, ok, err := c.Get(ctx, "min")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "40", v)

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, "min")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires after its ttl")

	_, ok, _ = c.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestRedisCache(t *testing.T) {
	redisURL := os.Getenv("SWAPBOT_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("SWAPBOT_TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	c, err := NewRedisCache(ctx, redisURL, "swapbot-test:"+uuid.NewString()+":")
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get(ctx, "min")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "min", "40", time.Minute))
	v, ok, err := c.Get(ctx, "min")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "40", v)
}

func TestNewRedisCache_InvalidDB(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "redis://localhost:6379/abc", "")
	assert.Error(t, err)
}
