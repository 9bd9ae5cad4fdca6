package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type entry struct {
	Symbol string `json:"symbol"`
	Pct    string `json:"pct"`
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, "fintools", time.Minute, zap.NewNop()), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	var got []entry
	hit, err := c.Get(ctx, "near-sma:50:2", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	want := []entry{{Symbol: "RELIANCE", Pct: "1.25"}}
	require.NoError(t, c.Set(ctx, "near-sma:50:2", want))
	assert.True(t, mr.Exists("fintools:near-sma:50:2"))
	assert.Equal(t, time.Minute, mr.TTL("fintools:near-sma:50:2"))

	hit, err = c.Get(ctx, "near-sma:50:2", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)
}

func TestRedisCacheInvalidateKeepsOtherPrefixes(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))
	require.NoError(t, mr.Set("other:key", "x"))

	require.NoError(t, c.Invalidate(ctx))

	assert.False(t, mr.Exists("fintools:a"))
	assert.False(t, mr.Exists("fintools:b"))
	assert.True(t, mr.Exists("other:key"))
}

func TestRedisCacheIgnoresCorruptEntries(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("fintools:bad", "{not json"))

	var got []entry
	hit, err := c.Get(context.Background(), "bad", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}
