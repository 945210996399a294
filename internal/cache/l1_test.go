package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL1Tier_SetAndGet_RoundTrips(t *testing.T) {
	l1 := newL1Tier(10, 1<<20)

	entry := Entry{Value: []byte("hello"), CreatedAt: time.Now()}
	l1.set("k1", entry, estimateSize(entry.Value), nil)

	got, ok := l1.get("k1")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got.Value)
}

func TestL1Tier_Get_MissReturnsFalse(t *testing.T) {
	l1 := newL1Tier(10, 1<<20)
	_, ok := l1.get("missing")
	assert.False(t, ok)
}

func TestL1Tier_EvictsOnEntryCountOverflow(t *testing.T) {
	l1 := newL1Tier(2, 1<<20)

	l1.set("a", Entry{Value: []byte("a")}, 1, nil)
	l1.set("b", Entry{Value: []byte("b")}, 1, nil)
	l1.set("c", Entry{Value: []byte("c")}, 1, nil)

	_, aOk := l1.get("a")
	_, bOk := l1.get("b")
	_, cOk := l1.get("c")

	assert.False(t, aOk, "oldest entry should have been evicted")
	assert.True(t, bOk)
	assert.True(t, cOk)
}

func TestL1Tier_EvictsOnByteBudgetOverflow(t *testing.T) {
	l1 := newL1Tier(100, 10)

	l1.set("big1", Entry{Value: []byte("0123456789")}, 10, nil)
	l1.set("big2", Entry{Value: []byte("0123456789")}, 10, nil)

	_, ok1 := l1.get("big1")
	assert.False(t, ok1, "first entry should be evicted once byte budget is exceeded")
}

func TestL1Tier_EvictsLowestScoreFirst(t *testing.T) {
	l1 := newL1Tier(2, 1<<20)

	l1.set("low", Entry{Value: []byte("x")}, 1, nil)
	l1.set("high", Entry{Value: []byte("x")}, 1, nil)

	scorer := func(key string) float64 {
		if key == "low" {
			return 0.01
		}
		return 99
	}
	l1.set("new", Entry{Value: []byte("x")}, 1, scorer)

	_, lowOk := l1.get("low")
	_, highOk := l1.get("high")
	assert.False(t, lowOk, "lowest-scoring key should be evicted")
	assert.True(t, highOk)
}

func TestL1Tier_EvictFraction_RemovesAtLeastOne(t *testing.T) {
	l1 := newL1Tier(100, 1<<20)
	for i := 0; i < 10; i++ {
		l1.set(string(rune('a'+i)), Entry{Value: []byte("x")}, 1, nil)
	}

	evicted := l1.evictFraction(0.1, nil)
	assert.Equal(t, 1, evicted)
}

func TestL1Tier_Delete_RemovesEntry(t *testing.T) {
	l1 := newL1Tier(10, 1<<20)
	l1.set("k", Entry{Value: []byte("v")}, 1, nil)

	assert.True(t, l1.delete("k"))
	_, ok := l1.get("k")
	assert.False(t, ok)
	assert.False(t, l1.delete("k"), "deleting an absent key returns false")
}

func TestL1Tier_Clear_ReturnsCountAndEmpties(t *testing.T) {
	l1 := newL1Tier(10, 1<<20)
	l1.set("a", Entry{Value: []byte("v")}, 1, nil)
	l1.set("b", Entry{Value: []byte("v")}, 1, nil)

	assert.Equal(t, 2, l1.clear())
	assert.Empty(t, l1.keys())
}
