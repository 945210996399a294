package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/codeindexmcp/internal/config"
)

func TestFromConfig_ConvertsUnits(t *testing.T) {
	c := FromConfig(config.CacheConfig{
		RedisURL:        "redis://localhost:6379",
		MaxEntries:      500,
		MaxMB:           50,
		DefaultTTLS:     3600,
		DiskCacheDir:    "/tmp/cache",
		MaintenanceSecs: 300,
	})

	assert.Equal(t, "redis://localhost:6379", c.RedisURL)
	assert.Equal(t, 500, c.MaxEntries)
	assert.Equal(t, 50*1024*1024, c.MaxBytes)
	assert.Equal(t, time.Hour, c.DefaultTTL)
	assert.Equal(t, "/tmp/cache", c.DiskCacheDir)
	assert.Equal(t, 5*time.Minute, c.MaintenanceInterval)
}
