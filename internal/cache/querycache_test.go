package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupResult struct {
	Name string `json:"name"`
}

func TestKey_IsStableRegardlessOfParamOrder(t *testing.T) {
	k1 := Key(QuerySearch, map[string]string{"q": "foo", "limit": "20"})
	k2 := Key(QuerySearch, map[string]string{"limit": "20", "q": "foo"})
	assert.Equal(t, k1, k2)
}

func TestKey_DiffersByQueryType(t *testing.T) {
	params := map[string]string{"q": "foo"}
	assert.NotEqual(t, Key(QuerySearch, params), Key(QuerySemanticSearch, params))
}

func TestQueryCache_StoreThenLookup_RoundTrips(t *testing.T) {
	c := newTestCache(t)
	qc := NewQueryCache(c)
	ctx := context.Background()

	key := Key(QuerySymbolLookup, map[string]string{"name": "Add"})
	qc.Store(ctx, QuerySymbolLookup, key, lookupResult{Name: "Add"}, []string{"symbols"})

	var got lookupResult
	found := qc.Lookup(ctx, key, &got)
	require.True(t, found)
	assert.Equal(t, "Add", got.Name)
}

func TestQueryCache_Lookup_MissReturnsFalse(t *testing.T) {
	c := newTestCache(t)
	qc := NewQueryCache(c)

	var got lookupResult
	found := qc.Lookup(context.Background(), "nonexistent", &got)
	assert.False(t, found)
}

func TestQueryCache_InvalidateTag_RemovesTaggedEntries(t *testing.T) {
	c := newTestCache(t)
	qc := NewQueryCache(c)
	ctx := context.Background()

	key := Key(QuerySearch, map[string]string{"q": "foo"})
	qc.Store(ctx, QuerySearch, key, lookupResult{Name: "foo"}, []string{"search"})

	removed := qc.InvalidateTag(ctx, "search")
	assert.Equal(t, 1, removed)

	var got lookupResult
	assert.False(t, qc.Lookup(ctx, key, &got))
}

func TestQueryCache_InvalidateFile_ClearsFileSymbolsAndSearchTags(t *testing.T) {
	c := newTestCache(t)
	qc := NewQueryCache(c)
	ctx := context.Background()

	symbolKey := Key(QuerySymbolLookup, map[string]string{"name": "Add"})
	searchKey := Key(QuerySearch, map[string]string{"q": "Add"})

	qc.Store(ctx, QuerySymbolLookup, symbolKey, lookupResult{Name: "Add"}, []string{"symbols"})
	qc.Store(ctx, QuerySearch, searchKey, lookupResult{Name: "Add"}, []string{"search"})

	qc.InvalidateFile(ctx, "main.go")

	var got lookupResult
	assert.False(t, qc.Lookup(ctx, symbolKey, &got))
	assert.False(t, qc.Lookup(ctx, searchKey, &got))
}

func TestQueryCache_UntaggedEntry_IsNotTrackedForInvalidation(t *testing.T) {
	c := newTestCache(t)
	qc := NewQueryCache(c)
	ctx := context.Background()

	key := Key(QueryProjectStatus, nil)
	qc.Store(ctx, QueryProjectStatus, key, lookupResult{Name: "status"}, nil)

	removed := qc.InvalidateTag(ctx, "search")
	assert.Equal(t, 0, removed)

	var got lookupResult
	assert.True(t, qc.Lookup(ctx, key, &got), "untagged entry should remain cached")
}
