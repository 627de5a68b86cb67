package data

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.Logger {
	return log.NewStdLogger(os.Stdout)
}

func newTestData(t *testing.T, rdb *redis.Client) *Data {
	t.Helper()
	d, cleanup, err := NewData(nil, testLogger(), rdb, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return d
}

func TestEventDedupeWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dedupe, err := NewEventDedupe(newTestData(t, rdb), testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	assert.False(t, dedupe.Seen(ctx, "evt-1"), "first sighting is fresh")
	assert.True(t, dedupe.Seen(ctx, "evt-1"), "second sighting is a duplicate")
	assert.False(t, dedupe.Seen(ctx, "evt-2"))

	// Keys carry a TTL so the set does not grow forever.
	ttl := mr.TTL(dedupeKeyPrefix + "evt-1")
	assert.Equal(t, dedupeTTL, ttl)
}

func TestEventDedupeFallbackWithoutRedis(t *testing.T) {
	dedupe, err := NewEventDedupe(newTestData(t, nil), testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	assert.False(t, dedupe.Seen(ctx, "evt-1"))
	assert.True(t, dedupe.Seen(ctx, "evt-1"))
	assert.False(t, dedupe.Seen(ctx, ""), "empty ids are never duplicates")
	assert.False(t, dedupe.Seen(ctx, ""))
}

func TestEventDedupeDegradesWhenRedisDies(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dedupe, err := NewEventDedupe(newTestData(t, rdb), testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	assert.False(t, dedupe.Seen(ctx, "evt-1"))

	mr.Close()

	// Redis gone: the in-process cache keeps dedupe working for new ids.
	assert.False(t, dedupe.Seen(ctx, "evt-2"))
	assert.True(t, dedupe.Seen(ctx, "evt-2"))
}
