package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestL2(t *testing.T) *l2Tier {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	l2, err := newL2Tier("redis://"+mr.Addr(), "cache:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l2.close() })
	return l2
}

func TestL2Tier_SetAndGet_RoundTrips(t *testing.T) {
	l2 := newTestL2(t)
	ctx := context.Background()

	entry := Entry{Value: []byte("hello"), CreatedAt: time.Now()}
	require.NoError(t, l2.set(ctx, "k", entry, time.Minute))

	got, ok, err := l2.get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got.Value)
}

func TestL2Tier_Get_MissReturnsFalse(t *testing.T) {
	l2 := newTestL2(t)
	_, ok, err := l2.get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestL2Tier_Delete_RemovesKey(t *testing.T) {
	l2 := newTestL2(t)
	ctx := context.Background()

	require.NoError(t, l2.set(ctx, "k", Entry{Value: []byte("v")}, time.Minute))
	ok, err := l2.delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, _ := l2.get(ctx, "k")
	assert.False(t, found)
}

func TestL2Tier_Exists(t *testing.T) {
	l2 := newTestL2(t)
	ctx := context.Background()

	exists, err := l2.exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, l2.set(ctx, "k", Entry{Value: []byte("v")}, time.Minute))
	exists, err = l2.exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestL2Tier_Clear_RemovesOnlyPrefixedKeys(t *testing.T) {
	l2 := newTestL2(t)
	ctx := context.Background()

	require.NoError(t, l2.set(ctx, "a", Entry{Value: []byte("v")}, time.Minute))
	require.NoError(t, l2.set(ctx, "b", Entry{Value: []byte("v")}, time.Minute))

	count, err := l2.clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, aOk, _ := l2.get(ctx, "a")
	assert.False(t, aOk)
}

func TestL2Tier_NilReceiver_IsSafeNoOp(t *testing.T) {
	var l2 *l2Tier
	ctx := context.Background()

	_, ok, err := l2.get(ctx, "k")
	assert.False(t, ok)
	assert.NoError(t, err)

	assert.NoError(t, l2.set(ctx, "k", Entry{}, time.Minute))

	deleted, err := l2.delete(ctx, "k")
	assert.False(t, deleted)
	assert.NoError(t, err)

	assert.Error(t, l2.ping(ctx))
	assert.NoError(t, l2.close())
}
