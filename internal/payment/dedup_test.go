package payment

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDedup(t *testing.T) (*Dedup, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewDedup(rdb), mr
}

func TestDedup_SeenAfterMark(t *testing.T) {
	ctx := context.Background()
	d, mr := newTestDedup(t)

	seen, err := d.Seen(ctx, "123", StatusApproved)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "123", StatusApproved))

	seen, err = d.Seen(ctx, "123", StatusApproved)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = d.Seen(ctx, "123", StatusRefunded)
	require.NoError(t, err)
	assert.False(t, seen, "a new status for the same payment is not a duplicate")

	assert.True(t, mr.Exists("dedup:payment:123:approved"))
	assert.Equal(t, TTLDedup, mr.TTL("dedup:payment:123:approved"))
}

func TestDedup_Expires(t *testing.T) {
	ctx := context.Background()
	d, mr := newTestDedup(t)

	require.NoError(t, d.Mark(ctx, "9", StatusRejected))
	mr.FastForward(TTLDedup + 1)

	seen, err := d.Seen(ctx, "9", StatusRejected)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDedup_RedisDown(t *testing.T) {
	ctx := context.Background()
	d, mr := newTestDedup(t)
	require.NoError(t, d.Ping(ctx))

	mr.Close()
	_, err := d.Seen(ctx, "1", StatusApproved)
	require.Error(t, err)
	require.Error(t, d.Ping(ctx))
}
