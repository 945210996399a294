package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/codeindexmcp/internal/xerrors"
)

// Config configures a TieredCache, mirroring config.CacheConfig (spec
// section 4.3, 6.3). Kept as a plain struct here, independent of the
// config package, so cache can be unit tested without it.
type Config struct {
	RedisURL            string
	MaxEntries          int
	MaxBytes            int
	DefaultTTL          time.Duration
	DiskCacheDir        string
	MaintenanceInterval time.Duration
}

// TieredCache implements spec section 4.3's multi-tier cache: L1
// memory, L2 Redis, L3 disk, with access-pattern-driven promotion,
// size/frequency-driven placement, and a periodic maintenance loop.
// Modeled on original_source/mcp_server/cache/advanced/tiered_cache.py's
// TieredCache, translated into Go's goroutine/channel idiom for the
// background loop instead of an asyncio task.
type TieredCache struct {
	l1 *l1Tier
	l2 *l2Tier
	l3 *l3Tier

	defaultTTL time.Duration

	mu       sync.Mutex
	patterns map[string]*AccessPattern

	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a TieredCache. A Redis connection failure is non-fatal:
// the cache degrades to L1+L3 only, consistent with spec 4.3's
// "cache failures are non-fatal" rule and the BackendUnavailable
// downgrade path (spec section 7).
func New(cfg Config, logger *slog.Logger) (*TieredCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = 5 * time.Minute
	}

	l1 := newL1Tier(cfg.MaxEntries, cfg.MaxBytes)

	l3, err := newL3Tier(cfg.DiskCacheDir)
	if err != nil {
		return nil, err
	}

	var l2 *l2Tier
	if cfg.RedisURL != "" {
		l2, err = newL2Tier(cfg.RedisURL, "cache:")
		if err != nil {
			logger.Warn("L2 redis unavailable, continuing with L1+L3 only",
				slog.String("error", err.Error()))
			l2 = nil
		} else if pingErr := l2.ping(context.Background()); pingErr != nil {
			logger.Warn("L2 redis ping failed, continuing with L1+L3 only",
				slog.String("error", pingErr.Error()))
			l2 = nil
		}
	}

	c := &TieredCache{
		l1:         l1,
		l2:         l2,
		l3:         l3,
		defaultTTL: cfg.DefaultTTL,
		patterns:   make(map[string]*AccessPattern),
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	go c.maintenanceLoop(cfg.MaintenanceInterval)
	return c, nil
}

// Get implements spec 4.3's GET protocol: L1, then L2, then L3, with
// promotion on a lower-tier hit. A tier I/O error is logged and
// treated as a miss for that tier only.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if e, ok := c.l1.get(key); ok {
		c.recordAccess(key, TierL1)
		return e.Value, true
	}

	if e, ok, err := c.l2.get(ctx, key); err != nil {
		c.logger.Warn("L2 get failed, treating as miss", slog.String("key", key), slog.String("error", err.Error()))
	} else if ok {
		c.recordAccess(key, TierL2)
		c.considerPromotion(ctx, key, e, TierL2)
		return e.Value, true
	}

	if e, ok, err := c.l3.get(key); err != nil {
		c.logger.Warn("L3 get failed, treating as miss", slog.String("key", key), slog.String("error", err.Error()))
	} else if ok {
		c.recordAccess(key, TierL3)
		c.considerPromotion(ctx, key, e, TierL3)
		return e.Value, true
	}

	return nil, false
}

func (c *TieredCache) recordAccess(key string, tier Tier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.patterns[key]
	if !ok {
		p = &AccessPattern{Key: key, LastAccessed: time.Now()}
		c.patterns[key] = p
	}
	p.update(time.Now())
	p.recordTier(tier)
}

func (c *TieredCache) pattern(key string) (*AccessPattern, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.patterns[key]
	return p, ok
}

func (c *TieredCache) considerPromotion(ctx context.Context, key string, entry Entry, currentTier Tier) {
	p, ok := c.pattern(key)
	if !ok {
		return
	}

	switch currentTier {
	case TierL3:
		if p.shouldPromoteFromL3() {
			if err := c.l2.set(ctx, key, entry, c.defaultTTL); err != nil {
				c.logger.Warn("promotion L3->L2 failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		}
	case TierL2:
		if p.shouldPromoteFromL2() {
			c.promoteToL1(key, entry)
		}
	}
}

func (c *TieredCache) promoteToL1(key string, entry Entry) {
	size := estimateSize(entry.Value)
	c.l1.set(key, entry, size, c.l1ScoreFn())
}

// Set implements spec 4.3's SET protocol: estimate size, pick tiers by
// the (size, hotness) placement table unless a tier hint overrides it,
// write each target tier independently (partial success acceptable).
func (c *TieredCache) Set(ctx context.Context, key string, value []byte, opts SetOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	entry := Entry{Value: value, CreatedAt: now, ExpiresAt: now.Add(ttl), Tags: opts.Tags}
	size := estimateSize(value)

	c.mu.Lock()
	p, ok := c.patterns[key]
	if !ok {
		p = &AccessPattern{Key: key, LastAccessed: now}
		c.patterns[key] = p
	}
	p.SizeBytes = size
	hot := p.isHot()
	c.mu.Unlock()

	var tiers []Tier
	if opts.TierHint != "" {
		tiers = []Tier{opts.TierHint}
	} else {
		tiers = placementTiers(size, hot)
	}

	for _, tier := range tiers {
		switch tier {
		case TierL1:
			c.l1.set(key, entry, size, c.l1ScoreFn())
		case TierL2:
			if err := c.l2.set(ctx, key, entry, ttl); err != nil {
				c.logger.Warn("L2 set failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		case TierL3:
			if err := c.l3.set(key, entry); err != nil {
				c.logger.Warn("L3 set failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// placementTiers implements spec 4.3's SET placement table.
func placementTiers(sizeBytes int, hot bool) []Tier {
	const kib = 1024
	const mib = 1024 * 1024

	switch {
	case sizeBytes < 50*kib:
		if hot {
			return []Tier{TierL1, TierL2, TierL3}
		}
		return []Tier{TierL2, TierL3}
	case sizeBytes < 5*mib:
		return []Tier{TierL2, TierL3}
	default:
		return []Tier{TierL3}
	}
}

// Delete removes a key from every tier, clearing its access pattern.
func (c *TieredCache) Delete(ctx context.Context, key string) bool {
	found := c.l1.delete(key)

	if ok, err := c.l2.delete(ctx, key); err != nil {
		c.logger.Warn("L2 delete failed", slog.String("key", key), slog.String("error", err.Error()))
	} else {
		found = found || ok
	}

	if ok, err := c.l3.delete(key); err != nil {
		c.logger.Warn("L3 delete failed", slog.String("key", key), slog.String("error", err.Error()))
	} else {
		found = found || ok
	}

	c.mu.Lock()
	delete(c.patterns, key)
	c.mu.Unlock()

	return found
}

// Clear empties every tier and returns the total number of removed
// entries across tiers.
func (c *TieredCache) Clear(ctx context.Context) int {
	count := c.l1.clear()

	if n, err := c.l2.clear(ctx); err != nil {
		c.logger.Warn("L2 clear failed", slog.String("error", err.Error()))
	} else {
		count += n
	}

	if n, err := c.l3.clear(); err != nil {
		c.logger.Warn("L3 clear failed", slog.String("error", err.Error()))
	} else {
		count += n
	}

	c.mu.Lock()
	c.patterns = make(map[string]*AccessPattern)
	c.mu.Unlock()

	return count
}

// l1ScoreFn builds the eviction scorer spec 4.3 defines:
// frequency * (1 / age_seconds) / max(size_kb, 1). Keys with no
// tracked access pattern score zero (evicted first).
func (c *TieredCache) l1ScoreFn() func(key string) float64 {
	now := time.Now()
	return func(key string) float64 {
		p, ok := c.pattern(key)
		if !ok {
			return 0
		}
		ageSeconds := now.Sub(p.LastAccessed).Seconds()
		if ageSeconds < 1 {
			ageSeconds = 1
		}
		sizeKB := float64(p.SizeBytes) / 1024
		if sizeKB < 1 {
			sizeKB = 1
		}
		return p.AccessFrequency * (1 / ageSeconds) / sizeKB
	}
}

// Health reports whether each backing tier is reachable, used by
// get_status/health_check (spec 6.2) to surface BackendUnavailable
// downgrades without failing the whole call.
func (c *TieredCache) Health(ctx context.Context) map[Tier]error {
	h := map[Tier]error{TierL1: nil, TierL3: nil}
	if c.l2 == nil {
		h[TierL2] = xerrors.BackendUnavailable(xerrors.ErrCodeRedisUnavailable, "L2 redis not configured", nil)
	} else if err := c.l2.ping(ctx); err != nil {
		h[TierL2] = xerrors.BackendUnavailable(xerrors.ErrCodeRedisUnavailable, "L2 redis unreachable", err)
	} else {
		h[TierL2] = nil
	}
	return h
}

// Stats returns per-tier counters for get_status.
func (c *TieredCache) Stats() map[Tier]Stats {
	return map[Tier]Stats{
		TierL1: c.l1.statsSnapshot(),
		TierL2: c.l2.statsSnapshot(),
		TierL3: c.l3.statsSnapshot(),
	}
}

// Close stops the maintenance loop and releases the Redis client.
func (c *TieredCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
	return c.l2.close()
}
