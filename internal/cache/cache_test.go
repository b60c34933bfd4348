package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/communehq/commune/config"
)

func TestNewCache_LocalOnly(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	c, err := NewCache()
	require.NoError(t, err)

	ctx := context.Background()
	err = c.Set(ctx, "wallet:7", map[string]int64{"balance": 120}, 1*time.Minute)
	assert.NoError(t, err)

	var got map[string]int64
	err = c.Get(ctx, "wallet:7", &got)
	assert.NoError(t, err)
	assert.Equal(t, int64(120), got["balance"])

	err = c.Delete(ctx, "wallet:7")
	assert.NoError(t, err)
}

func TestCache_GetMissIsNotAnError(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	c, err := NewCache()
	require.NoError(t, err)

	var got string
	err = c.Get(context.Background(), "does-not-exist", &got)
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestCache_RedisBacked(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := newRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)

	ctx := context.Background()
	err = c.Set(ctx, "ledger:7", []string{"led_1", "led_2"}, 1*time.Minute)
	assert.NoError(t, err)

	var got []string
	err = c.Get(ctx, "ledger:7", &got)
	assert.NoError(t, err)
	assert.Equal(t, []string{"led_1", "led_2"}, got)
}

func TestNewCache_InvalidRedisURL(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: "not a valid url"},
	})

	_, err := NewCache()
	assert.Error(t, err)
}
