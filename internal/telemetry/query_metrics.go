package telemetry

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryType classifies a search_code call for telemetry purposes.
type QueryType string

const (
	QueryTypeLexical  QueryType = "lexical"
	QueryTypeSemantic QueryType = "semantic"
)

// LatencyBucket is a coarse search-latency histogram bucket, used for
// the in-memory top-level summary surfaced by get_status; the
// per-operation latency histogram itself lives in Recorder.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent describes one completed search_code call.
type QueryEvent struct {
	Query       string
	QueryType   QueryType
	ResultCount int
	Latency     time.Duration
}

// IsZeroResult reports whether the query returned nothing, the signal
// used to flag queries worth improving ranking or index coverage for.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// TermCount pairs a query term with how often it has appeared.
type TermCount struct {
	Term  string
	Count int64
}

// QueryMetricsSnapshot is an immutable point-in-time view of query
// telemetry, suitable for embedding in a get_status response.
type QueryMetricsSnapshot struct {
	QueryTypeCounts     map[QueryType]int64
	TopTerms            []TermCount
	ZeroResultQueries   []string
	LatencyDistribution map[LatencyBucket]int64
	TotalQueries        int64
	ZeroResultCount     int64
	Since               time.Time
}

// ZeroResultRate returns the fraction of queries that returned
// nothing, 0 when no queries have been recorded yet.
func (s *QueryMetricsSnapshot) ZeroResultRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries)
}

// QueryMetrics collects search_code telemetry in memory. Thread-safe
// for concurrent access from multiple in-flight RPC calls.
type QueryMetrics struct {
	mu sync.RWMutex

	queryTypes      map[QueryType]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *circularBuffer
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	startTime       time.Time
}

const (
	defaultTopTermsCapacity   = 100
	defaultZeroResultCapacity = 100
)

// NewQueryMetrics creates an empty in-memory query metrics collector.
func NewQueryMetrics() *QueryMetrics {
	topTerms, _ := lru.New[string, int64](defaultTopTermsCapacity)
	return &QueryMetrics{
		queryTypes:  make(map[QueryType]int64),
		topTerms:    topTerms,
		zeroResults: newCircularBuffer(defaultZeroResultCapacity),
		latencies:   make(map[LatencyBucket]int64),
		startTime:   time.Now(),
	}
}

// Record captures one search_code query's telemetry.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queryTypes[event.QueryType]++
	m.totalQueries++

	for _, term := range extractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if event.IsZeroResult() {
		m.zeroResults.add(event.Query)
		m.zeroResultCount++
	}

	m.latencies[LatencyToBucket(event.Latency)]++
}

// Snapshot returns a copy of the current metrics.
func (m *QueryMetrics) Snapshot() QueryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typeCounts := make(map[QueryType]int64, len(m.queryTypes))
	for k, v := range m.queryTypes {
		typeCounts[k] = v
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	for i := 0; i < len(topTerms); i++ {
		for j := i + 1; j < len(topTerms); j++ {
			if topTerms[j].Count > topTerms[i].Count {
				topTerms[i], topTerms[j] = topTerms[j], topTerms[i]
			}
		}
	}

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	return QueryMetricsSnapshot{
		QueryTypeCounts:     typeCounts,
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		Since:               m.startTime,
	}
}

// extractTerms lowercases and splits a query into terms of at least
// three characters, filtering out noise words too short to be useful
// for ranking diagnosis.
func extractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var terms []string
	for _, w := range strings.Fields(query) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// circularBuffer is a fixed-capacity FIFO string buffer used to retain
// the most recent zero-result queries without unbounded growth.
type circularBuffer struct {
	items    []string
	head     int
	size     int
	capacity int
}

func newCircularBuffer(capacity int) *circularBuffer {
	if capacity <= 0 {
		capacity = defaultZeroResultCapacity
	}
	return &circularBuffer{items: make([]string, capacity), capacity: capacity}
}

func (b *circularBuffer) add(item string) {
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

func (b *circularBuffer) items() []string {
	if b.size == 0 {
		return []string{}
	}
	result := make([]string, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
		return result
	}
	copy(result, b.items[b.head:])
	copy(result[b.capacity-b.head:], b.items[:b.head])
	return result
}
