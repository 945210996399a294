package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *TieredCache {
	t.Helper()
	c, err := New(Config{
		MaxEntries:          100,
		MaxBytes:            1 << 20,
		DefaultTTL:          time.Hour,
		DiskCacheDir:        t.TempDir(),
		MaintenanceInterval: time.Hour, // effectively disabled for these tests
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTieredCache_SetThenGet_RoundTripsThroughL3(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.Set(ctx, "k1", []byte("payload"), SetOptions{})
	require.NoError(t, err)

	got, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestTieredCache_Get_MissingKeyReturnsFalse(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Get(context.Background(), "nope")
	assert.False(t, ok)
}

func TestTieredCache_Set_HotSmallValueAlsoPlacedInL1(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	// Seed an access pattern above the isHot() > 5/h threshold.
	c.mu.Lock()
	c.patterns["hot"] = &AccessPattern{Key: "hot", AccessFrequency: 6, LastAccessed: time.Now()}
	c.mu.Unlock()

	require.NoError(t, c.Set(ctx, "hot", []byte("v"), SetOptions{}))

	_, ok := c.l1.get("hot")
	assert.True(t, ok, "a hot small value should be written to L1 too")
}

func TestTieredCache_Set_TierHintOverridesPlacement(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "hinted", []byte("v"), SetOptions{TierHint: TierL1}))

	_, l1ok := c.l1.get("hinted")
	assert.True(t, l1ok)

	_, l3ok, _ := c.l3.get("hinted")
	assert.False(t, l3ok, "tier hint should skip L3 entirely")
}

func TestTieredCache_Delete_RemovesFromAllTiers(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), SetOptions{TierHint: TierL1}))
	assert.True(t, c.Delete(ctx, "k"))

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestTieredCache_Clear_EmptiesAllTiersAndPatterns(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("v"), SetOptions{TierHint: TierL1}))
	require.NoError(t, c.Set(ctx, "b", []byte("v"), SetOptions{TierHint: TierL3}))

	count := c.Clear(ctx)
	assert.GreaterOrEqual(t, count, 2)

	_, aOk := c.Get(ctx, "a")
	_, bOk := c.Get(ctx, "b")
	assert.False(t, aOk)
	assert.False(t, bOk)
}

func TestTieredCache_Health_ReportsL2UnavailableWhenNotConfigured(t *testing.T) {
	c := newTestCache(t)
	health := c.Health(context.Background())

	assert.NoError(t, health[TierL1])
	assert.NoError(t, health[TierL3])
	assert.Error(t, health[TierL2])
}

func TestPlacementTiers_MatchesSizeFrequencyTable(t *testing.T) {
	assert.ElementsMatch(t, []Tier{TierL2, TierL3}, placementTiers(10*1024, false))
	assert.ElementsMatch(t, []Tier{TierL1, TierL2, TierL3}, placementTiers(10*1024, true))
	assert.ElementsMatch(t, []Tier{TierL2, TierL3}, placementTiers(1*1024*1024, true))
	assert.ElementsMatch(t, []Tier{TierL3}, placementTiers(10*1024*1024, true))
}

func TestAccessPattern_PromotionThresholds(t *testing.T) {
	p := &AccessPattern{AccessCount: 3}
	assert.True(t, p.shouldPromoteFromL3())

	p2 := &AccessPattern{AccessCount: 2}
	assert.False(t, p2.shouldPromoteFromL3())

	p3 := &AccessPattern{AccessFrequency: 11}
	assert.True(t, p3.shouldPromoteFromL2())

	p4 := &AccessPattern{AccessFrequency: 5}
	assert.False(t, p4.shouldPromoteFromL2())
}

func TestEntry_Expired(t *testing.T) {
	now := time.Now()
	assert.True(t, Entry{ExpiresAt: now.Add(-time.Minute)}.Expired(now))
	assert.False(t, Entry{ExpiresAt: now.Add(time.Minute)}.Expired(now))
	assert.False(t, Entry{}.Expired(now), "zero ExpiresAt means no expiry")
}

func TestTieredCache_RunMaintenance_PurgesExpiredL3FileFromDisk(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, c.l3.set("expired", Entry{Value: []byte("v"), CreatedAt: past, ExpiresAt: past.Add(time.Minute)}))

	_, file, _ := c.l3.paths("expired")
	_, statErr := os.Stat(file)
	require.NoError(t, statErr, "file should exist on disk before maintenance runs")

	c.runMaintenance(ctx)

	_, statErr = os.Stat(file)
	assert.True(t, os.IsNotExist(statErr), "expired L3 file should be removed by maintenance")
}
