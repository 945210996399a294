// Package dispatcher implements the Dispatcher (spec section 4.1): the
// component that receives lookup/search/index operations, resolves
// them against the plugin registry and the Index Store, enforces
// per-operation timeouts, and exposes observability.
package dispatcher

import (
	"time"

	"github.com/Aman-CERP/codeindexmcp/internal/store"
)

// Definition is the output of Lookup (spec 4.1 "returns zero or one
// definition record"; 6.2 symbol_lookup output fields).
type Definition struct {
	Symbol    string
	Kind      store.SymbolKind
	Language  string
	Signature string
	Doc       string
	DefinedIn string // path, translated to a filesystem-accessible form
	Line      int
	Span      [2]int // [start_line, end_line]
}

// Hit is one ranked search result (spec 4.1, 6.2 search_code output).
type Hit struct {
	FilePath   string
	Line       int
	Snippet    string
	Score      float64
	Repository string // populated for multi-repo results
}

// SearchOptions configures a Search call (spec 4.1, 6.2).
type SearchOptions struct {
	Semantic bool
	Limit    int // 1..1000, default 20

	// RepoID scopes the search to a single locally indexed repository.
	// Mutually exclusive with Repo.
	RepoID *int64

	// Repo, when set, names an authorized external/reference
	// repository (numeric id, path, or URL) resolved through the
	// Multi-Repo Manager instead of the local store.
	Repo string

	// FanOutRepos, when non-empty, runs the search concurrently across
	// every named repository and merges by score desc (spec 4.1
	// "Fan-out to multiple repos").
	FanOutRepos []string
}

// FileIndexResult is the outcome of indexing one file (spec 4.2 write
// path, "unchanged" vs real write).
type FileIndexResult struct {
	Path      string
	Language  string
	Indexed   bool
	Unchanged bool
	Symbols   int
}

// IndexSummary is the output of index_file/index_directory (spec 4.1,
// 6.2 reindex output fields).
type IndexSummary struct {
	IndexedFiles int
	IgnoredFiles int
	FailedFiles  int
	TotalFiles   int
	ByLanguage   map[string]int
	Errors       []string
}

// PluginCounts reports the Registry's three plugin structures (spec
// 6.2 "plugin counts").
type PluginCounts struct {
	Eager   int
	Lazy    int
	Skipped int
}

// HealthStatus is the output of health_check/get_status (spec 4.1,
// 6.2).
type HealthStatus struct {
	Mode               string // "full" or "simple" (spec 6.3 USE_SIMPLE_DISPATCHER)
	LoadedLanguages    []string
	SupportedLanguages []string
	Plugins            PluginCounts
	MultiRepoEnabled   bool
	CacheHealthy       bool
	CacheTierErrors    map[string]string
	IndexValid         bool
	IndexIssues        []string
	LastOperations     map[string]time.Time
	OperationCounts    map[string]int64
}
