package dispatcher

import (
	"context"
	"time"
)

// HealthCheck reports the Dispatcher's operating status (spec 4.1
// health_check, 6.2 get_status): loaded languages, plugin counts,
// last operation times, cache health, and index validity. Opportunistic
// staleness detection (spec 3.2) is surfaced here via IndexValid/
// IndexIssues rather than failing the call.
func (d *Dispatcher) HealthCheck(ctx context.Context, repoID int64) (HealthStatus, error) {
	start := time.Now()
	var err error
	defer func() { d.record("health_check", start, err) }()

	status := HealthStatus{
		Mode:               d.mode(),
		SupportedLanguages: d.cfg.SupportedLanguages,
		MultiRepoEnabled:   d.multiRepo != nil,
		IndexValid:         true,
	}

	if !d.cfg.UseSimpleDispatcher && d.registry != nil {
		status.LoadedLanguages = d.registry.LoadedLanguages()
		eager, lazy, skipped := d.registry.Counts()
		status.Plugins = PluginCounts{Eager: eager, Lazy: lazy, Skipped: skipped}
	}

	if d.queryCache != nil {
		// L2/L3 outages degrade gracefully (spec 4.3 "cache failures
		// are non-fatal"); CacheHealthy reports whether the cache is
		// usable at all, not whether every tier is reachable.
		status.CacheHealthy = true
		status.CacheTierErrors = make(map[string]string)
		for tier, terr := range d.queryCache.Health(ctx) {
			if terr != nil {
				status.CacheTierErrors[string(tier)] = terr.Error()
			}
		}
	}

	if d.store != nil {
		result, validateErr := d.store.Validate(ctx, repoID)
		if validateErr != nil {
			status.IndexValid = false
			status.IndexIssues = []string{validateErr.Error()}
		} else {
			status.IndexValid = result.Valid
			status.IndexIssues = result.Issues
		}
	}

	d.mu.Lock()
	// Stamp this call before the snapshot; the deferred record runs after it.
	d.lastOps["health_check"] = start
	status.LastOperations = make(map[string]time.Time, len(d.lastOps))
	for k, v := range d.lastOps {
		status.LastOperations[k] = v
	}
	status.OperationCounts = make(map[string]int64, len(d.opCounts))
	for k, v := range d.opCounts {
		status.OperationCounts[k] = v
	}
	d.mu.Unlock()

	return status, nil
}

func (d *Dispatcher) mode() string {
	if d.cfg.UseSimpleDispatcher {
		return "simple"
	}
	return "full"
}
