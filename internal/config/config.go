// Package config loads the Config struct that drives every subsystem
// (Dispatcher, Index Store, Cache, Coordinator, Worker) described in
// spec section 6.3, following the teacher's load order: built-in
// defaults, then a project YAML file, then environment variables,
// highest precedence last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for the code indexing server,
// covering every option named in spec section 6.3.
type Config struct {
	Version int `yaml:"version" json:"version"`

	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Dispatcher  DispatcherConfig  `yaml:"dispatcher" json:"dispatcher"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Coordinator CoordinatorConfig `yaml:"coordinator" json:"coordinator"`
	MultiRepo   MultiRepoConfig   `yaml:"multi_repo" json:"multi_repo"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// PathsConfig configures which paths the Coordinator/Dispatcher walk.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// DispatcherConfig configures the Dispatcher (spec section 4.1, 6.3).
type DispatcherConfig struct {
	// UseSimpleDispatcher skips plugin-registry lazy loading and always
	// falls back to BM25 (spec 6.3 USE_SIMPLE_DISPATCHER).
	UseSimpleDispatcher bool `yaml:"use_simple_dispatcher" json:"use_simple_dispatcher"`
	// PluginLoadTimeoutMS bounds a lazy plugin factory call
	// (spec 6.3 PLUGIN_LOAD_TIMEOUT, default 5000ms).
	PluginLoadTimeoutMS int `yaml:"plugin_load_timeout_ms" json:"plugin_load_timeout_ms"`
	// SearchTimeoutMS bounds a single search/lookup call.
	SearchTimeoutMS int `yaml:"search_timeout_ms" json:"search_timeout_ms"`
	// MultiPathDiscovery enables scanning multiple configured roots for
	// a single index_directory call (spec 6.3 MULTI_PATH_DISCOVERY).
	MultiPathDiscovery bool `yaml:"multi_path_discovery" json:"multi_path_discovery"`
	// IndexPaths lists the roots index_directory discovers when
	// MultiPathDiscovery is set (spec 6.3 INDEX_PATHS).
	IndexPaths []string `yaml:"index_paths" json:"index_paths"`
	// SemanticEnabled is parsed and merged but not read by the
	// Dispatcher: semantic requests always take the BM25/plugin path and
	// responses carry no downgrade marker (SPEC_FULL.md section 9,
	// decision 3).
	SemanticEnabled bool `yaml:"semantic_enabled" json:"semantic_enabled"`
}

// StoreConfig configures the Index Store (spec section 4.2, 6.4).
type StoreConfig struct {
	// DataDir is the root directory holding one subdirectory per
	// repository's database file (spec 6.4 persisted state layout).
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// BM25Backend selects the BM25Index implementation: "sqlite"
	// (default, inline FTS5) or "bleve" (legacy, side directory).
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`
	StopWords   []string `yaml:"stop_words" json:"stop_words"`
}

// CacheConfig configures the multi-tier cache (spec section 4.3).
type CacheConfig struct {
	RedisURL        string `yaml:"redis_url" json:"redis_url"`
	MaxEntries      int    `yaml:"max_entries" json:"max_entries"`
	MaxMB           int    `yaml:"max_mb" json:"max_mb"`
	DefaultTTLS     int    `yaml:"default_ttl_seconds" json:"default_ttl_seconds"`
	DiskCacheDir    string `yaml:"disk_cache_dir" json:"disk_cache_dir"`
	MaintenanceSecs int    `yaml:"maintenance_interval_seconds" json:"maintenance_interval_seconds"`
}

// CoordinatorConfig configures the distributed indexing coordinator
// and its workers (spec section 4.4, 6.3).
type CoordinatorConfig struct {
	RedisURL                 string `yaml:"redis_url" json:"redis_url"`
	BatchSize                int    `yaml:"batch_size" json:"batch_size"`
	MaxWorkers               int    `yaml:"max_workers" json:"max_workers"`
	HealthCheckIntervalSecs  int    `yaml:"health_check_interval_seconds" json:"health_check_interval_seconds"`
	HeartbeatIntervalSecs    int    `yaml:"heartbeat_interval_seconds" json:"heartbeat_interval_seconds"`
	WorkerTTLSecs            int    `yaml:"worker_ttl_seconds" json:"worker_ttl_seconds"`
	ResultTTLSecs            int    `yaml:"result_ttl_seconds" json:"result_ttl_seconds"`
	MaxRetries               int    `yaml:"max_retries" json:"max_retries"`
}

// MultiRepoConfig configures the Multi-Repo Manager's allow-list
// (spec section 4.1 "authorized reference repositories").
type MultiRepoConfig struct {
	AuthorizedReferenceRepos []string `yaml:"authorized_reference_repos" json:"authorized_reference_repos"`
	OuterTimeoutMS           int      `yaml:"outer_timeout_ms" json:"outer_timeout_ms"`
	InnerTimeoutMS           int      `yaml:"inner_timeout_ms" json:"inner_timeout_ms"`
}

// ServerConfig configures the stdio MCP transport and process logging.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogPath   string `yaml:"log_path" json:"log_path"`
}

var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
}

// NewConfig returns a Config populated with the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Dispatcher: DispatcherConfig{
			UseSimpleDispatcher: false,
			PluginLoadTimeoutMS: 5000,
			SearchTimeoutMS:     10000,
			MultiPathDiscovery:  false,
			IndexPaths:          nil,
			SemanticEnabled:     false,
		},
		Store: StoreConfig{
			DataDir:     defaultDataDir(),
			BM25Backend: "sqlite",
			StopWords:   nil,
		},
		Cache: CacheConfig{
			RedisURL:        "redis://localhost:6379/0",
			MaxEntries:      10000,
			MaxMB:           256,
			DefaultTTLS:     300,
			DiskCacheDir:    defaultCacheDir(),
			MaintenanceSecs: 300,
		},
		Coordinator: CoordinatorConfig{
			RedisURL:                "redis://localhost:6379/0",
			BatchSize:               100,
			MaxWorkers:              runtime.NumCPU(),
			HealthCheckIntervalSecs: 10,
			HeartbeatIntervalSecs:   5,
			WorkerTTLSecs:           30,
			ResultTTLSecs:           3600,
			MaxRetries:              3,
		},
		MultiRepo: MultiRepoConfig{
			AuthorizedReferenceRepos: nil,
			OuterTimeoutMS:           10000,
			InnerTimeoutMS:           5000,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
			LogPath:   "",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".codeindexmcp", "data")
	}
	return filepath.Join(home, ".codeindexmcp", "data")
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".codeindexmcp", "cache")
	}
	return filepath.Join(home, ".codeindexmcp", "cache")
}

// Load loads configuration from dir in order of increasing precedence:
// built-in defaults, then .codeindexmcp.yaml in dir, then the
// environment variables read by applyEnvOverrides.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".codeindexmcp.yaml", ".codeindexmcp.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero values from other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Dispatcher.UseSimpleDispatcher {
		c.Dispatcher.UseSimpleDispatcher = true
	}
	if other.Dispatcher.PluginLoadTimeoutMS != 0 {
		c.Dispatcher.PluginLoadTimeoutMS = other.Dispatcher.PluginLoadTimeoutMS
	}
	if other.Dispatcher.SearchTimeoutMS != 0 {
		c.Dispatcher.SearchTimeoutMS = other.Dispatcher.SearchTimeoutMS
	}
	if other.Dispatcher.MultiPathDiscovery {
		c.Dispatcher.MultiPathDiscovery = true
	}
	if len(other.Dispatcher.IndexPaths) > 0 {
		c.Dispatcher.IndexPaths = other.Dispatcher.IndexPaths
	}
	if other.Dispatcher.SemanticEnabled {
		c.Dispatcher.SemanticEnabled = true
	}

	if other.Store.DataDir != "" {
		c.Store.DataDir = other.Store.DataDir
	}
	if other.Store.BM25Backend != "" {
		c.Store.BM25Backend = other.Store.BM25Backend
	}
	if len(other.Store.StopWords) > 0 {
		c.Store.StopWords = other.Store.StopWords
	}

	if other.Cache.RedisURL != "" {
		c.Cache.RedisURL = other.Cache.RedisURL
	}
	if other.Cache.MaxEntries != 0 {
		c.Cache.MaxEntries = other.Cache.MaxEntries
	}
	if other.Cache.MaxMB != 0 {
		c.Cache.MaxMB = other.Cache.MaxMB
	}
	if other.Cache.DefaultTTLS != 0 {
		c.Cache.DefaultTTLS = other.Cache.DefaultTTLS
	}
	if other.Cache.DiskCacheDir != "" {
		c.Cache.DiskCacheDir = other.Cache.DiskCacheDir
	}
	if other.Cache.MaintenanceSecs != 0 {
		c.Cache.MaintenanceSecs = other.Cache.MaintenanceSecs
	}

	if other.Coordinator.RedisURL != "" {
		c.Coordinator.RedisURL = other.Coordinator.RedisURL
	}
	if other.Coordinator.BatchSize != 0 {
		c.Coordinator.BatchSize = other.Coordinator.BatchSize
	}
	if other.Coordinator.MaxWorkers != 0 {
		c.Coordinator.MaxWorkers = other.Coordinator.MaxWorkers
	}
	if other.Coordinator.HealthCheckIntervalSecs != 0 {
		c.Coordinator.HealthCheckIntervalSecs = other.Coordinator.HealthCheckIntervalSecs
	}
	if other.Coordinator.HeartbeatIntervalSecs != 0 {
		c.Coordinator.HeartbeatIntervalSecs = other.Coordinator.HeartbeatIntervalSecs
	}
	if other.Coordinator.WorkerTTLSecs != 0 {
		c.Coordinator.WorkerTTLSecs = other.Coordinator.WorkerTTLSecs
	}
	if other.Coordinator.ResultTTLSecs != 0 {
		c.Coordinator.ResultTTLSecs = other.Coordinator.ResultTTLSecs
	}
	if other.Coordinator.MaxRetries != 0 {
		c.Coordinator.MaxRetries = other.Coordinator.MaxRetries
	}

	if len(other.MultiRepo.AuthorizedReferenceRepos) > 0 {
		c.MultiRepo.AuthorizedReferenceRepos = other.MultiRepo.AuthorizedReferenceRepos
	}
	if other.MultiRepo.OuterTimeoutMS != 0 {
		c.MultiRepo.OuterTimeoutMS = other.MultiRepo.OuterTimeoutMS
	}
	if other.MultiRepo.InnerTimeoutMS != 0 {
		c.MultiRepo.InnerTimeoutMS = other.MultiRepo.InnerTimeoutMS
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.LogPath != "" {
		c.Server.LogPath = other.Server.LogPath
	}
}

// applyEnvOverrides applies the environment variables named in spec
// section 6.3, highest precedence. They are read under their bare names
// (USE_SIMPLE_DISPATCHER, PLUGIN_LOAD_TIMEOUT, ...); only the log level
// is prefixed, as CODEINDEXMCP_LOG_LEVEL.
func (c *Config) applyEnvOverrides() {
	if v, ok := os.LookupEnv("USE_SIMPLE_DISPATCHER"); ok {
		c.Dispatcher.UseSimpleDispatcher = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("PLUGIN_LOAD_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dispatcher.PluginLoadTimeoutMS = n
		}
	}
	if v, ok := os.LookupEnv("MULTI_PATH_DISCOVERY"); ok {
		c.Dispatcher.MultiPathDiscovery = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("INDEX_PATHS"); v != "" {
		c.Dispatcher.IndexPaths = strings.Split(v, string(os.PathListSeparator))
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
		c.Coordinator.RedisURL = v
	}
	if v := os.Getenv("CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("CACHE_MAX_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.MaxMB = n
		}
	}
	if v := os.Getenv("CACHE_DEFAULT_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.DefaultTTLS = n
		}
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Coordinator.BatchSize = n
		}
	}
	if v := os.Getenv("MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Coordinator.MaxWorkers = n
		}
	}
	if v := os.Getenv("HEALTH_CHECK_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Coordinator.HealthCheckIntervalSecs = n
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Coordinator.HeartbeatIntervalSecs = n
		}
	}
	if v := os.Getenv("RESULT_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Coordinator.ResultTTLSecs = n
		}
	}
	if v := os.Getenv("AUTHORIZED_REFERENCE_REPOS"); v != "" {
		c.MultiRepo.AuthorizedReferenceRepos = strings.Split(v, string(os.PathListSeparator))
	}
	if v := os.Getenv("CODEINDEXMCP_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate checks the final configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Dispatcher.PluginLoadTimeoutMS <= 0 {
		return fmt.Errorf("dispatcher.plugin_load_timeout_ms must be positive, got %d", c.Dispatcher.PluginLoadTimeoutMS)
	}
	if c.Dispatcher.SearchTimeoutMS <= 0 {
		return fmt.Errorf("dispatcher.search_timeout_ms must be positive, got %d", c.Dispatcher.SearchTimeoutMS)
	}

	validBackends := map[string]bool{"sqlite": true, "bleve": true}
	if !validBackends[strings.ToLower(c.Store.BM25Backend)] {
		return fmt.Errorf("store.bm25_backend must be 'sqlite' or 'bleve', got %q", c.Store.BM25Backend)
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.MaxMB <= 0 {
		return fmt.Errorf("cache.max_mb must be positive, got %d", c.Cache.MaxMB)
	}

	if c.Coordinator.BatchSize <= 0 {
		return fmt.Errorf("coordinator.batch_size must be positive, got %d", c.Coordinator.BatchSize)
	}
	if c.Coordinator.MaxWorkers <= 0 {
		return fmt.Errorf("coordinator.max_workers must be positive, got %d", c.Coordinator.MaxWorkers)
	}
	if c.Coordinator.MaxRetries < 0 {
		return fmt.Errorf("coordinator.max_retries must be non-negative, got %d", c.Coordinator.MaxRetries)
	}

	if c.MultiRepo.InnerTimeoutMS > c.MultiRepo.OuterTimeoutMS {
		return fmt.Errorf("multi_repo.inner_timeout_ms (%d) must not exceed outer_timeout_ms (%d)",
			c.MultiRepo.InnerTimeoutMS, c.MultiRepo.OuterTimeoutMS)
	}

	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %q", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
