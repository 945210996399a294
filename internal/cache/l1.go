package cache

import (
	"container/list"
	"sync"
)

// l1Entry is one L1 slot: the key plus the cached Entry, stored as the
// value of a list element so access can move it to the front in O(1),
// mirroring the move_to_end step in spec 4.3's GET protocol.
type l1Entry struct {
	key   string
	entry Entry
}

// l1Tier is the in-memory cache tier: an ordered map bounded by both
// entry count and estimated byte size (spec 4.3's L1 capacity row).
// The teacher's CachedEmbedder (internal/embed/cached.go) wraps
// hashicorp/golang-lru for a single fixed-size cache; L1 needs a
// second capacity axis (max_bytes) and a frequency-aware eviction
// score the stock LRU cache does not expose, so this tier is a plain
// container/list + map instead.
type l1Tier struct {
	mu          sync.Mutex
	maxEntries  int
	maxBytes    int
	curBytes    int
	order       *list.List // front = most recently used
	index       map[string]*list.Element
	stats       Stats
}

func newL1Tier(maxEntries, maxBytes int) *l1Tier {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if maxBytes <= 0 {
		maxBytes = 100 * 1024 * 1024
	}
	return &l1Tier{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		order:      list.New(),
		index:      make(map[string]*list.Element),
	}
}

func (t *l1Tier) get(key string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.index[key]
	if !ok {
		t.stats.Misses++
		return Entry{}, false
	}
	t.order.MoveToFront(el)
	t.stats.Hits++
	return el.Value.(*l1Entry).entry, true
}

// set inserts or replaces a key, evicting via the caller-supplied
// scorer when capacity would be exceeded. scorer may be nil, in which
// case eviction falls back to least-recently-used.
func (t *l1Tier) set(key string, entry Entry, size int, scorer func(key string) float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.index[key]; ok {
		old := el.Value.(*l1Entry)
		t.curBytes -= estimateSize(old.entry.Value)
		el.Value = &l1Entry{key: key, entry: entry}
		t.order.MoveToFront(el)
		t.curBytes += size
	} else {
		el := t.order.PushFront(&l1Entry{key: key, entry: entry})
		t.index[key] = el
		t.curBytes += size
	}

	for (len(t.index) > t.maxEntries || t.curBytes > t.maxBytes) && t.order.Len() > 0 {
		t.evictOne(scorer)
	}

	t.stats.EntryCount = len(t.index)
	t.stats.SizeBytes = t.curBytes
}

// evictOne removes the single lowest-scoring entry. With a nil scorer
// it evicts the least-recently-used (back of the list), matching
// CachedEmbedder's plain LRU fallback.
func (t *l1Tier) evictOne(scorer func(key string) float64) {
	var victim *list.Element
	if scorer == nil {
		victim = t.order.Back()
	} else {
		lowest := 0.0
		for el := t.order.Front(); el != nil; el = el.Next() {
			k := el.Value.(*l1Entry).key
			score := scorer(k)
			if victim == nil || score < lowest {
				victim = el
				lowest = score
			}
		}
	}
	if victim == nil {
		return
	}
	le := victim.Value.(*l1Entry)
	t.order.Remove(victim)
	delete(t.index, le.key)
	t.curBytes -= estimateSize(le.entry.Value)
	t.stats.Evictions++
}

// evictFraction removes roughly frac of current entries (at least
// one), lowest score first — spec 4.3's "evict the lowest-scoring 10%"
// eviction rule.
func (t *l1Tier) evictFraction(frac float64, scorer func(key string) float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.index)
	if n == 0 {
		return 0
	}
	count := int(float64(n) * frac)
	if count < 1 {
		count = 1
	}

	type scored struct {
		el    *list.Element
		score float64
	}
	candidates := make([]scored, 0, n)
	for el := t.order.Front(); el != nil; el = el.Next() {
		k := el.Value.(*l1Entry).key
		s := 0.0
		if scorer != nil {
			s = scorer(k)
		}
		candidates = append(candidates, scored{el: el, score: s})
	}
	// simple selection of the `count` lowest scores
	for i := 0; i < count && i < len(candidates); i++ {
		minIdx := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].score < candidates[minIdx].score {
				minIdx = j
			}
		}
		candidates[i], candidates[minIdx] = candidates[minIdx], candidates[i]
	}

	evicted := 0
	for i := 0; i < count && i < len(candidates); i++ {
		le := candidates[i].el.Value.(*l1Entry)
		t.order.Remove(candidates[i].el)
		delete(t.index, le.key)
		t.curBytes -= estimateSize(le.entry.Value)
		evicted++
	}
	t.stats.Evictions += evicted
	t.stats.EntryCount = len(t.index)
	t.stats.SizeBytes = t.curBytes
	return evicted
}

func (t *l1Tier) delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.index[key]
	if !ok {
		return false
	}
	le := el.Value.(*l1Entry)
	t.order.Remove(el)
	delete(t.index, key)
	t.curBytes -= estimateSize(le.entry.Value)
	t.stats.EntryCount = len(t.index)
	t.stats.SizeBytes = t.curBytes
	return true
}

// keys returns every key currently resident in L1, used by the
// maintenance loop's "demote L1 entries unused for > 1h" pass (4.3).
func (t *l1Tier) keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.index))
	for el := t.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*l1Entry).key)
	}
	return keys
}

func (t *l1Tier) clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.index)
	t.order.Init()
	t.index = make(map[string]*list.Element)
	t.curBytes = 0
	return n
}

func (t *l1Tier) statsSnapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// estimateSize mirrors the original implementation's _estimate_size:
// payload length plus a small fixed overhead for metadata, good
// enough for placement and eviction decisions without needing an
// exact accounting of Go struct overhead.
func estimateSize(payload []byte) int {
	return len(payload) + 64
}
