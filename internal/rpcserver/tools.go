package rpcserver

import (
	"context"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/codeindexmcp/internal/coordinator"
	"github.com/Aman-CERP/codeindexmcp/internal/dispatcher"
	"github.com/Aman-CERP/codeindexmcp/internal/telemetry"
)

// SymbolLookupInput is symbol_lookup's input (spec 6.2).
type SymbolLookupInput struct {
	Symbol string `json:"symbol" jsonschema:"the symbol name to look up"`
}

// SymbolLookupOutput is symbol_lookup's output (spec 6.2).
type SymbolLookupOutput struct {
	Found     bool    `json:"found"`
	Symbol    string  `json:"symbol,omitempty"`
	Kind      string  `json:"kind,omitempty"`
	Language  string  `json:"language,omitempty"`
	Signature string  `json:"signature,omitempty"`
	Doc       string  `json:"doc,omitempty"`
	DefinedIn string  `json:"defined_in,omitempty"`
	Line      int     `json:"line,omitempty"`
	Span      [2]int  `json:"span,omitempty"`
}

func (s *Server) handleSymbolLookup(ctx context.Context, _ *mcp.CallToolRequest, in SymbolLookupInput) (*mcp.CallToolResult, SymbolLookupOutput, error) {
	def, ok, err := s.disp.Lookup(ctx, in.Symbol, &s.repoID)
	if err != nil {
		return nil, SymbolLookupOutput{}, err
	}
	if !ok {
		return nil, SymbolLookupOutput{Found: false}, nil
	}
	return nil, SymbolLookupOutput{
		Found:     true,
		Symbol:    def.Symbol,
		Kind:      string(def.Kind),
		Language:  def.Language,
		Signature: def.Signature,
		Doc:       def.Doc,
		DefinedIn: def.DefinedIn,
		Line:      def.Line,
		Span:      def.Span,
	}, nil
}

// SearchCodeInput is search_code's input (spec 6.2).
type SearchCodeInput struct {
	Query      string `json:"query" jsonschema:"the search query"`
	Repository string `json:"repository,omitempty" jsonschema:"an authorized external repository (id, path, or URL) to search instead of the local index"`
	Semantic   bool   `json:"semantic,omitempty" jsonschema:"request semantic ranking when a backend supports it (default false)"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of results, 1..1000, default 20"`
}

// SearchCodeOutput is search_code's output (spec 6.2).
type SearchCodeOutput struct {
	Results []SearchHitOutput `json:"results"`
}

// SearchHitOutput is one ranked search result (spec 6.2).
type SearchHitOutput struct {
	File       string  `json:"file"`
	Line       int     `json:"line"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
	Repository string  `json:"repository,omitempty"`
}

func (s *Server) handleSearchCode(ctx context.Context, _ *mcp.CallToolRequest, in SearchCodeInput) (*mcp.CallToolResult, SearchCodeOutput, error) {
	opts := dispatcher.SearchOptions{
		Semantic: in.Semantic,
		Limit:    in.Limit,
	}
	if in.Repository != "" {
		opts.Repo = in.Repository
	} else {
		opts.RepoID = &s.repoID
	}

	start := time.Now()
	hits, err := s.disp.Search(ctx, in.Query, opts)
	if err != nil {
		return nil, SearchCodeOutput{}, err
	}

	if s.metrics != nil {
		queryType := telemetry.QueryTypeLexical
		if in.Semantic {
			queryType = telemetry.QueryTypeSemantic
		}
		s.metrics.Record(telemetry.QueryEvent{
			Query:       in.Query,
			QueryType:   queryType,
			ResultCount: len(hits),
			Latency:     time.Since(start),
		})
	}

	out := SearchCodeOutput{Results: make([]SearchHitOutput, len(hits))}
	for i, h := range hits {
		out.Results[i] = SearchHitOutput{
			File:       h.FilePath,
			Line:       h.Line,
			Snippet:    h.Snippet,
			Score:      h.Score,
			Repository: h.Repository,
		}
	}
	return nil, out, nil
}

// GetStatusInput is get_status's (empty) input.
type GetStatusInput struct{}

// GetStatusOutput is get_status's output (spec 6.2).
type GetStatusOutput struct {
	Status             string           `json:"status"` // "ok" or "degraded"
	Mode               string           `json:"mode"`
	LoadedLanguages    []string         `json:"languages_loaded"`
	SupportedLanguages []string         `json:"languages_supported"`
	Plugins            PluginCounts     `json:"plugins"`
	MultiRepoEnabled   bool             `json:"multi_repo_enabled"`
	CacheHealthy       bool             `json:"cache_healthy"`
	CacheTierErrors    map[string]string `json:"cache_tier_errors,omitempty"`
	IndexValid         bool             `json:"index_valid"`
	IndexIssues        []string         `json:"index_issues,omitempty"`
	OperationCounts    map[string]int64 `json:"operation_counts,omitempty"`
	DistributedEnabled bool             `json:"distributed_enabled"`
	QueueDepths        map[string]int64 `json:"queue_depths,omitempty"`
	QuerySummary       *QuerySummary    `json:"query_summary,omitempty"`
}

// QuerySummary is a condensed view of telemetry.QueryMetricsSnapshot
// for the get_status surface.
type QuerySummary struct {
	TotalQueries      int64   `json:"total_queries"`
	ZeroResultQueries int64   `json:"zero_result_queries"`
	ZeroResultRate    float64 `json:"zero_result_rate"`
}

// PluginCounts mirrors dispatcher.PluginCounts for the JSON-RPC surface.
type PluginCounts struct {
	Eager   int `json:"eager"`
	Lazy    int `json:"lazy"`
	Skipped int `json:"skipped"`
}

func (s *Server) handleGetStatus(ctx context.Context, _ *mcp.CallToolRequest, _ GetStatusInput) (*mcp.CallToolResult, GetStatusOutput, error) {
	health, err := s.disp.HealthCheck(ctx, s.repoID)
	if err != nil {
		return nil, GetStatusOutput{}, err
	}

	status := "ok"
	if !health.IndexValid || (health.CacheTierErrors != nil && len(health.CacheTierErrors) > 0) {
		status = "degraded"
	}

	out := GetStatusOutput{
		Status:             status,
		Mode:                health.Mode,
		LoadedLanguages:    health.LoadedLanguages,
		SupportedLanguages: health.SupportedLanguages,
		Plugins:            PluginCounts(health.Plugins),
		MultiRepoEnabled:   health.MultiRepoEnabled,
		CacheHealthy:       health.CacheHealthy,
		CacheTierErrors:    health.CacheTierErrors,
		IndexValid:         health.IndexValid,
		IndexIssues:        health.IndexIssues,
		OperationCounts:    health.OperationCounts,
		DistributedEnabled: s.coord != nil,
	}

	if s.coord != nil {
		out.QueueDepths = map[string]int64{}
		for _, p := range []coordinator.Priority{
			coordinator.PriorityUrgent, coordinator.PriorityHigh, coordinator.PriorityNormal, coordinator.PriorityLow,
		} {
			if depth, depthErr := s.coord.QueueDepth(ctx, p); depthErr == nil {
				out.QueueDepths[string(p)] = depth
			}
		}
	}

	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		out.QuerySummary = &QuerySummary{
			TotalQueries:      snap.TotalQueries,
			ZeroResultQueries: snap.ZeroResultCount,
			ZeroResultRate:    snap.ZeroResultRate(),
		}
	}

	return nil, out, nil
}

// ListPluginsInput is list_plugins's (empty) input.
type ListPluginsInput struct{}

// ListPluginsOutput is list_plugins's output (spec 6.2).
type ListPluginsOutput struct {
	SupportedLanguages []string `json:"supported_languages"`
	LoadedPlugins      []string `json:"loaded_plugins"`
}

func (s *Server) handleListPlugins(ctx context.Context, _ *mcp.CallToolRequest, _ ListPluginsInput) (*mcp.CallToolResult, ListPluginsOutput, error) {
	health, err := s.disp.HealthCheck(ctx, s.repoID)
	if err != nil {
		return nil, ListPluginsOutput{}, err
	}
	return nil, ListPluginsOutput{
		SupportedLanguages: health.SupportedLanguages,
		LoadedPlugins:      health.LoadedLanguages,
	}, nil
}

// ReindexInput is reindex's input (spec 6.2).
type ReindexInput struct {
	Path string `json:"path,omitempty" jsonschema:"path to reindex, relative to the server root; defaults to the whole root"`
}

// ReindexOutput is reindex's output (spec 6.2).
type ReindexOutput struct {
	IndexedFiles int            `json:"indexed_files"`
	IgnoredFiles int            `json:"ignored_files"`
	FailedFiles  int            `json:"failed_files"`
	TotalFiles   int            `json:"total_files"`
	ByLanguage   map[string]int `json:"by_language"`
	Errors       []string       `json:"errors,omitempty"`
}

func (s *Server) handleReindex(ctx context.Context, _ *mcp.CallToolRequest, in ReindexInput) (*mcp.CallToolResult, ReindexOutput, error) {
	root := s.root
	if in.Path != "" {
		root = in.Path
		if !filepath.IsAbs(root) {
			root = filepath.Join(s.root, root)
		}
	}

	summary, err := s.disp.IndexDirectory(ctx, s.repoID, root, true)
	if err != nil {
		return nil, ReindexOutput{}, err
	}

	return nil, ReindexOutput{
		IndexedFiles: summary.IndexedFiles,
		IgnoredFiles: summary.IgnoredFiles,
		FailedFiles:  summary.FailedFiles,
		TotalFiles:   summary.TotalFiles,
		ByLanguage:   summary.ByLanguage,
		Errors:       summary.Errors,
	}, nil
}
