package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL3Tier_SetAndGet_RoundTrips(t *testing.T) {
	l3, err := newL3Tier(t.TempDir())
	require.NoError(t, err)

	entry := Entry{Value: []byte("hello"), CreatedAt: time.Now()}
	require.NoError(t, l3.set("k", entry))

	got, ok, err := l3.get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got.Value)
}

func TestL3Tier_Get_MissReturnsFalse(t *testing.T) {
	l3, err := newL3Tier(t.TempDir())
	require.NoError(t, err)

	_, ok, err := l3.get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestL3Tier_Get_ExpiredEntryIsRemovedAndReportsMiss(t *testing.T) {
	l3, err := newL3Tier(t.TempDir())
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, l3.set("k", Entry{Value: []byte("v"), CreatedAt: past, ExpiresAt: past.Add(time.Minute)}))

	_, ok, err := l3.get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, file, _ := l3.paths("k")
	_, statErr := os.Stat(file)
	assert.True(t, os.IsNotExist(statErr))
}

func TestL3Tier_ShardsByFirstTwoHexChars(t *testing.T) {
	l3, err := newL3Tier(t.TempDir())
	require.NoError(t, err)

	shard, file, _ := l3.paths("some-key")
	assert.Len(t, shard, 2)
	assert.Equal(t, filepath.Join(l3.dir, shard), filepath.Dir(file))
}

func TestL3Tier_Get_CorruptedFileIsRemovedAndReportsMiss(t *testing.T) {
	l3, err := newL3Tier(t.TempDir())
	require.NoError(t, err)

	_, file, _ := l3.paths("k")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte("not json"), 0o644))

	_, ok, err := l3.get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestL3Tier_Delete_RemovesFile(t *testing.T) {
	l3, err := newL3Tier(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l3.set("k", Entry{Value: []byte("v")}))
	ok, err := l3.delete("k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l3.delete("k")
	require.NoError(t, err)
	assert.False(t, ok, "deleting an already-removed key is not an error")
}

func TestL3Tier_PurgeExpired_RemovesOnlyExpiredFiles(t *testing.T) {
	l3, err := newL3Tier(t.TempDir())
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, l3.set("expired", Entry{CreatedAt: past, ExpiresAt: past.Add(time.Minute)}))
	require.NoError(t, l3.set("fresh", Entry{CreatedAt: time.Now(), ExpiresAt: future}))

	purged, err := l3.purgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, freshOk, _ := l3.get("fresh")
	assert.True(t, freshOk)
}

func TestL3Tier_Clear_RemovesAllEntries(t *testing.T) {
	l3, err := newL3Tier(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l3.set("a", Entry{Value: []byte("v")}))
	require.NoError(t, l3.set("b", Entry{Value: []byte("v")}))

	count, err := l3.clear()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, ok, _ := l3.get("a")
	assert.False(t, ok)
}
