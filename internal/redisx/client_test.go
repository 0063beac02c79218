package redisx

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestExists(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	ctx := context.Background()

	ok, err := Exists(ctx, rdb, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mr.Set(fmt.Sprintf(KeyIdemPayment, "pay_1"), "order-1"))
	ok, err = Exists(ctx, rdb, fmt.Sprintf(KeyIdemPayment, "pay_1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaim_OnlyFirstCallerWins(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	ctx := context.Background()
	key := fmt.Sprintf(KeyDedup, "orderlog", "evt-1")

	first, err := Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	second, err := Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, TTLDedup, mr.TTL(key))
}
