package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Status string `json:"status"`
}

func newCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(rdb), mr
}

func TestRedisCache_SetGetDel(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	var got item
	hit, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.SetJSON(ctx, "k", item{Status: "done"}, time.Minute))
	hit, err = c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "done", got.Status)

	require.NoError(t, c.Del(ctx, "k"))
	hit, _ = c.GetJSON(ctx, "k", &got)
	assert.False(t, hit)
	assert.NoError(t, c.Del(ctx))
}

func TestRedisCache_SetJSONNX(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	ok, err := c.SetJSONNX(ctx, SeenKey("m1"), item{Status: "processing"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetJSONNX(ctx, SeenKey("m1"), item{Status: "processing"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = c.SetJSONNX(ctx, SeenKey("m1"), item{Status: "processing"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisCache_CorruptValueIsAMiss(t *testing.T) {
	c, mr := newCache(t)
	require.NoError(t, mr.Set("k", "{nope"))

	var got item
	hit, err := c.GetJSON(context.Background(), "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists("k"))
}
