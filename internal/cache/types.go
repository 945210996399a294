// Package cache implements the three-tier cache described in spec
// section 4.3: an in-memory LRU (L1), Redis (L2), and a sharded disk
// tier (L3), with access-pattern-driven promotion/eviction, a
// background maintenance loop, and a query-result wrapper keyed by
// (query type, canonicalized parameters).
package cache

import (
	"time"
)

// Tier names one of the three cache tiers.
type Tier string

const (
	TierL1 Tier = "L1"
	TierL2 Tier = "L2"
	TierL3 Tier = "L3"
)

// Entry is the value stored in every tier: an opaque byte payload plus
// the metadata spec section 4.3 requires (created_at, expires_at,
// access_count, optional tags).
type Entry struct {
	Value      []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
	AccessCount int
	Tags       []string
}

// Expired reports whether now is past the entry's expiry.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// AccessPattern tracks how often and how recently a key has been
// accessed, driving promotion and eviction decisions (spec 4.3).
type AccessPattern struct {
	Key             string
	AccessCount     int
	LastAccessed    time.Time
	AccessFrequency float64 // accesses per hour
	SizeBytes       int
	TierHistory     []Tier
}

// update records one access and recomputes the hourly frequency as
// total accesses / hours elapsed since the previous access, with the
// interval floored at 0.01h, so quick repeated accesses push the
// frequency up sharply.
func (a *AccessPattern) update(now time.Time) {
	elapsed := now.Sub(a.LastAccessed)
	a.AccessCount++
	if elapsed > 0 {
		hours := elapsed.Hours()
		if hours < 0.01 {
			hours = 0.01
		}
		a.AccessFrequency = float64(a.AccessCount) / hours
	}
	a.LastAccessed = now
}

func (a *AccessPattern) recordTier(t Tier) {
	a.TierHistory = append(a.TierHistory, t)
	if len(a.TierHistory) > 10 {
		a.TierHistory = a.TierHistory[1:]
	}
}

// shouldPromoteFromL3 implements spec 4.3's promotion rule: L3 -> L2
// once accessed three or more times.
func (a *AccessPattern) shouldPromoteFromL3() bool {
	return a.AccessCount >= 3
}

// shouldPromoteFromL2 implements spec 4.3's promotion rule: L2 -> L1
// once frequency exceeds 10 accesses/hour.
func (a *AccessPattern) shouldPromoteFromL2() bool {
	return a.AccessFrequency > 10
}

// isHot matches spec 4.3's SET placement table: hot keys (frequency
// > 5/h) get written to L1 as well as L2/L3 for small payloads.
func (a *AccessPattern) isHot() bool {
	return a.AccessFrequency > 5
}

// SetOptions controls a Set call's placement (spec 4.3 SET protocol).
type SetOptions struct {
	// TTL overrides the default per-type TTL. Zero uses the cache's
	// configured default.
	TTL time.Duration
	// TierHint, if non-empty, skips the size/frequency placement
	// table and writes only to the named tier.
	TierHint Tier
	// Tags are attached to the entry for tag-based invalidation.
	Tags []string
}

// Stats reports per-tier hit/miss/promotion/eviction counters, for
// get_status (spec 6.2).
type Stats struct {
	Hits        int
	Misses      int
	Promotions  int
	Evictions   int
	EntryCount  int
	SizeBytes   int
}
