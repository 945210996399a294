package cache

import (
	"context"
	"log/slog"
	"time"
)

// maintenanceLoop runs every interval performing spec 4.3's three
// maintenance steps: purge expired/corrupted L3 files, discard stale
// access patterns, and demote long-unused L1 entries. Translated from
// the original implementation's asyncio maintenance_loop into a
// ticker-driven goroutine, the idiom the teacher and the rest of the
// example pack use for background work (e.g. coordinator health-check
// polling).
func (c *TieredCache) maintenanceLoop(interval time.Duration) {
	defer close(c.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.runMaintenance(context.Background())
		}
	}
}

func (c *TieredCache) runMaintenance(ctx context.Context) {
	if purged, err := c.l3.purgeExpired(); err != nil {
		c.logger.Warn("L3 maintenance purge failed", slog.String("error", err.Error()))
	} else if purged > 0 {
		c.logger.Debug("purged expired L3 entries", slog.Int("count", purged))
	}

	c.purgeStalePatterns()
	c.demoteIdleL1Entries(ctx)
}

// purgeStalePatterns discards AccessPattern records untouched for more
// than 24h (spec 4.3 maintenance step b).
func (c *TieredCache) purgeStalePatterns() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, p := range c.patterns {
		if now.Sub(p.LastAccessed) > 24*time.Hour {
			delete(c.patterns, key)
		}
	}
}

// demoteIdleL1Entries removes L1 entries unused for over an hour,
// ensuring an L2 copy exists first (spec 4.3 maintenance step c).
func (c *TieredCache) demoteIdleL1Entries(ctx context.Context) {
	now := time.Now()
	for _, key := range c.l1.keys() {
		p, ok := c.pattern(key)
		if !ok || now.Sub(p.LastAccessed) <= time.Hour {
			continue
		}

		entry, ok := c.l1.get(key)
		if !ok {
			continue
		}

		exists, err := c.l2.exists(ctx, key)
		if err != nil {
			c.logger.Warn("L2 existence check failed during demotion", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		if !exists {
			if err := c.l2.set(ctx, key, entry, c.defaultTTL); err != nil {
				c.logger.Warn("L2 backfill during demotion failed", slog.String("key", key), slog.String("error", err.Error()))
				continue
			}
		}
		c.l1.delete(key)
	}
}
