package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// QueryType names one of the Dispatcher operations the query-result
// cache wraps (spec 4.3).
type QueryType string

const (
	QuerySymbolLookup   QueryType = "SYMBOL_LOOKUP"
	QuerySearch         QueryType = "SEARCH"
	QuerySemanticSearch QueryType = "SEMANTIC_SEARCH"
	QueryFileSymbols    QueryType = "FILE_SYMBOLS"
	QueryProjectStatus  QueryType = "PROJECT_STATUS"
)

// defaultQueryTTL holds the per-type TTLs spec 4.3 names.
var defaultQueryTTL = map[QueryType]time.Duration{
	QuerySymbolLookup:   30 * time.Minute,
	QuerySearch:         10 * time.Minute,
	QuerySemanticSearch: 15 * time.Minute,
	QueryFileSymbols:    30 * time.Minute,
	QueryProjectStatus:  time.Minute,
}

// fileChangeTags names the tags a "file changed" event clears
// (spec 4.3: "invalidates tags {file, symbols, search}").
var fileChangeTags = []string{"file", "symbols", "search"}

// QueryCache is the thin query-result wrapper spec 4.3 describes: keys
// by (query_type, canonicalized params), applies per-type TTLs, and
// tracks which cache keys carry which tags for invalidation. It wraps
// a TieredCache rather than reimplementing tiering, mirroring the
// teacher's CachedEmbedder wrap-an-inner-interface shape
// (internal/embed/cached.go) applied to query results instead of
// embeddings.
type QueryCache struct {
	cache *TieredCache

	mu      sync.Mutex
	tagKeys map[string]map[string]struct{} // tag -> set of cache keys
}

func NewQueryCache(cache *TieredCache) *QueryCache {
	return &QueryCache{cache: cache, tagKeys: make(map[string]map[string]struct{})}
}

// Key canonicalizes query_type and params into a stable cache key:
// params are sorted by field name before hashing so callers don't need
// to pre-sort their own maps.
func Key(queryType QueryType, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(queryType))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(params[k]))
	}
	return string(queryType) + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Lookup implements spec 4.3's cache-aware wrapper: on a hit,
// unmarshal into dest; on a miss or any error, the caller recomputes.
func (q *QueryCache) Lookup(ctx context.Context, key string, dest interface{}) bool {
	raw, ok := q.cache.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false
	}
	return true
}

// Store saves a computed result under key with the query type's
// default TTL and the given tags, recording the key under each tag for
// later invalidation. Errors are swallowed: per spec 4.3's failure
// semantics, "the caller cannot tell, from the result, whether the
// cache was used."
func (q *QueryCache) Store(ctx context.Context, queryType QueryType, key string, value interface{}, tags []string) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}

	ttl := defaultQueryTTL[queryType]
	_ = q.cache.Set(ctx, key, raw, SetOptions{TTL: ttl, Tags: tags})

	if len(tags) == 0 {
		return
	}
	q.mu.Lock()
	for _, tag := range tags {
		set, ok := q.tagKeys[tag]
		if !ok {
			set = make(map[string]struct{})
			q.tagKeys[tag] = set
		}
		set[key] = struct{}{}
	}
	q.mu.Unlock()
}

// InvalidateTag removes every entry previously stored under tag,
// across all tiers.
func (q *QueryCache) InvalidateTag(ctx context.Context, tag string) int {
	q.mu.Lock()
	keys := q.tagKeys[tag]
	delete(q.tagKeys, tag)
	q.mu.Unlock()

	count := 0
	for key := range keys {
		if q.cache.Delete(ctx, key) {
			count++
		}
	}
	return count
}

// InvalidateFile implements spec 4.3's "file changed" rule: clears the
// file, symbols, and search tags together, plus any entries tagged
// with this specific file's path.
func (q *QueryCache) InvalidateFile(ctx context.Context, path string) int {
	count := q.InvalidateTag(ctx, FileTag(path))
	for _, tag := range fileChangeTags {
		count += q.InvalidateTag(ctx, tag)
	}
	return count
}

// Health passes through the wrapped TieredCache's per-tier health, for
// callers (the Dispatcher's health_check) that only hold a QueryCache.
func (q *QueryCache) Health(ctx context.Context) map[Tier]error {
	return q.cache.Health(ctx)
}

// Stats passes through the wrapped TieredCache's per-tier counters.
func (q *QueryCache) Stats() map[Tier]Stats {
	return q.cache.Stats()
}

// FileTag builds the per-file tag used alongside the shared
// {file, symbols, search} tags, so a single file's entries can be
// invalidated without clearing every cached query of that type.
func FileTag(path string) string {
	return fmt.Sprintf("file:%s", path)
}
