package cache

import (
	"time"

	"github.com/Aman-CERP/codeindexmcp/internal/config"
)

// FromConfig adapts the on-disk config.CacheConfig (spec section 6.3)
// into the plain Config this package's constructor expects, keeping
// cache's tests free of a dependency on the config package's YAML
// loading.
func FromConfig(c config.CacheConfig) Config {
	return Config{
		RedisURL:            c.RedisURL,
		MaxEntries:          c.MaxEntries,
		MaxBytes:            c.MaxMB * 1024 * 1024,
		DefaultTTL:          time.Duration(c.DefaultTTLS) * time.Second,
		DiskCacheDir:        c.DiskCacheDir,
		MaintenanceInterval: time.Duration(c.MaintenanceSecs) * time.Second,
	}
}
