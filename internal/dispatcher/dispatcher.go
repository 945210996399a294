package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/Aman-CERP/codeindexmcp/internal/cache"
	"github.com/Aman-CERP/codeindexmcp/internal/multirepo"
	"github.com/Aman-CERP/codeindexmcp/internal/plugin"
	"github.com/Aman-CERP/codeindexmcp/internal/scanner"
	"github.com/Aman-CERP/codeindexmcp/internal/store"
	"github.com/Aman-CERP/codeindexmcp/internal/xerrors"
)

// OperationRecorder is an optional sink for per-operation telemetry
// (internal/telemetry implements this against prometheus counters).
// Keeping it as a narrow interface here, rather than importing
// internal/telemetry directly, avoids a dependency cycle — telemetry's
// job is to observe the Dispatcher, not the other way around.
type OperationRecorder interface {
	RecordOperation(name string, d time.Duration, err error)
}

// Config configures a Dispatcher (spec 4.1, 6.3).
type Config struct {
	UseSimpleDispatcher bool
	SearchTimeout       time.Duration // default 10s
	PluginLoadTimeout   time.Duration // default 5s, owned by the Registry
	DefaultSearchLimit  int           // default 20
	MaxSearchLimit      int           // default 1000
	ServingRoot         string
	CanonicalPrefixes   []string
	SupportedLanguages  []string
}

// Dispatcher is the component described in spec section 4.1.
type Dispatcher struct {
	cfg Config

	registry   *plugin.Registry
	store      store.IndexStore
	queryCache *cache.QueryCache  // nil disables query caching
	multiRepo  *multirepo.Manager // nil disables multi-repo fan-out
	scanner    *scanner.Scanner
	translator *PathTranslator
	recorder   OperationRecorder

	logger *slog.Logger

	mu       sync.Mutex
	lastOps  map[string]time.Time
	opCounts map[string]int64
}

// New builds a Dispatcher. store and registry are required; cache,
// multiRepo, scn, and recorder are optional and degrade gracefully
// when nil.
func New(cfg Config, registry *plugin.Registry, idx store.IndexStore, qc *cache.QueryCache, mr *multirepo.Manager, scn *scanner.Scanner, recorder OperationRecorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 10 * time.Second
	}
	if cfg.DefaultSearchLimit <= 0 {
		cfg.DefaultSearchLimit = 20
	}
	if cfg.MaxSearchLimit <= 0 {
		cfg.MaxSearchLimit = 1000
	}

	return &Dispatcher{
		cfg:        cfg,
		registry:   registry,
		store:      idx,
		queryCache: qc,
		multiRepo:  mr,
		scanner:    scn,
		translator: newPathTranslator(cfg.ServingRoot, cfg.CanonicalPrefixes),
		recorder:   recorder,
		logger:     logger,
		lastOps:    make(map[string]time.Time),
		opCounts:   make(map[string]int64),
	}
}

func (d *Dispatcher) record(op string, start time.Time, err error) {
	d.mu.Lock()
	d.lastOps[op] = time.Now()
	d.opCounts[op]++
	d.mu.Unlock()

	if d.recorder != nil {
		d.recorder.RecordOperation(op, time.Since(start), err)
	}
}

// Lookup resolves a symbol definition (spec 4.1 lookup, 6.2
// symbol_lookup). ok is false whenever nothing is found — NotFound is
// never returned as an error (spec 4.1).
func (d *Dispatcher) Lookup(ctx context.Context, name string, repoID *int64) (def Definition, ok bool, err error) {
	start := time.Now()
	defer func() { d.record("lookup", start, err) }()

	if name == "" {
		err = xerrors.ValidationError("lookup requires a non-empty symbol name", nil)
		return Definition{}, false, err
	}

	if !d.cfg.UseSimpleDispatcher {
		for _, p := range d.registry.All() {
			pdef, found, perr := p.GetDefinition(ctx, name)
			if perr != nil {
				d.logger.Warn("plugin GetDefinition failed, trying next source",
					slog.String("language", p.Language()), slog.String("error", perr.Error()))
				continue
			}
			if found {
				return d.toDefinition(pdef), true, nil
			}
		}
	}

	hits, lookupErr := d.store.LookupSymbol(ctx, name, repoID)
	if lookupErr != nil {
		err = lookupErr
		return Definition{}, false, err
	}
	if len(hits) > 0 {
		return symbolHitToDefinition(hits[0], d.translator), true, nil
	}

	def, ok, err = d.lookupViaBM25(ctx, name, repoID)
	return def, ok, err
}

func (d *Dispatcher) toDefinition(def plugin.SymbolDef) Definition {
	return Definition{
		Symbol:    def.Symbol,
		Kind:      def.Kind,
		Language:  def.Language,
		Signature: def.Signature,
		Doc:       def.Doc,
		DefinedIn: d.translator.Translate(def.DefinedIn),
		Line:      def.Line,
		Span:      [2]int{def.Line, def.EndLine},
	}
}

func symbolHitToDefinition(h store.SymbolHit, t *PathTranslator) Definition {
	return Definition{
		Symbol:    h.Name,
		Kind:      h.Kind,
		Language:  h.Language,
		Signature: h.Signature,
		Doc:       h.Documentation,
		DefinedIn: t.Translate(h.FilePath),
		Line:      h.StartLine,
		Span:      [2]int{h.StartLine, h.EndLine},
	}
}

// wordBoundary matches name as a whole word, used by the BM25-fallback
// lookup path (spec 4.1: "extracts candidate symbol names from BM25
// snippets and filters by name equality").
func wordBoundaryPattern(name string) (*regexp.Regexp, error) {
	return regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
}

func (d *Dispatcher) lookupViaBM25(ctx context.Context, name string, repoID *int64) (Definition, bool, error) {
	hits, err := d.store.SearchBM25(ctx, name, repoID, 10)
	if err != nil {
		return Definition{}, false, err
	}

	pattern, err := wordBoundaryPattern(name)
	if err != nil {
		return Definition{}, false, nil
	}

	for _, h := range hits {
		if pattern.MatchString(h.Snippet) {
			return Definition{
				Symbol:    name,
				Kind:      store.SymbolKindOther,
				DefinedIn: d.translator.Translate(h.FilePath),
				Line:      h.Line,
				Span:      [2]int{h.Line, h.Line},
			}, true, nil
		}
	}
	return Definition{}, false, nil
}

// Search runs a search (spec 4.1 search, 6.2 search_code).
func (d *Dispatcher) Search(ctx context.Context, query string, opts SearchOptions) (hits []Hit, err error) {
	start := time.Now()
	defer func() { d.record("search", start, err) }()

	if query == "" {
		err = xerrors.New(xerrors.ErrCodeQueryEmpty, "search requires a non-empty query", nil)
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = d.cfg.DefaultSearchLimit
	}
	if limit > d.cfg.MaxSearchLimit {
		limit = d.cfg.MaxSearchLimit
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.SearchTimeout)
	defer cancel()

	cacheKey := ""
	if d.queryCache != nil {
		cacheKey = cache.Key(cache.QuerySearch, map[string]string{
			"query":    query,
			"limit":    fmt.Sprintf("%d", limit),
			"semantic": fmt.Sprintf("%t", opts.Semantic),
			"repo":     opts.Repo,
		})
		var cached []Hit
		if d.queryCache.Lookup(ctx, cacheKey, &cached) {
			return cached, nil
		}
	}

	hits, err = d.search(ctx, query, opts, limit)
	if err != nil {
		return nil, err
	}

	if d.queryCache != nil {
		d.queryCache.Store(ctx, cache.QuerySearch, cacheKey, hits, []string{"search"})
	}
	return hits, nil
}

func (d *Dispatcher) search(ctx context.Context, query string, opts SearchOptions, limit int) ([]Hit, error) {
	if len(opts.FanOutRepos) > 0 {
		if d.multiRepo == nil {
			return nil, xerrors.BackendUnavailable(xerrors.ErrCodeStoreUnavailable,
				"multi-repo fan-out requested but no Multi-Repo Manager is configured", nil)
		}
		storeHits, err := d.multiRepo.FanOut(ctx, opts.FanOutRepos, query, limit)
		if err != nil {
			return nil, err
		}
		return fromStoreHits(storeHits), nil
	}

	if opts.Repo != "" {
		if d.multiRepo == nil {
			return nil, xerrors.BackendUnavailable(xerrors.ErrCodeStoreUnavailable,
				"repo-scoped search requested but no Multi-Repo Manager is configured", nil)
		}
		storeHits, err := d.multiRepo.Search(ctx, opts.Repo, query, limit)
		if err != nil {
			return nil, err
		}
		return fromStoreHits(storeHits), nil
	}

	if !d.cfg.UseSimpleDispatcher {
		hits, timedOut := d.searchViaPlugins(ctx, query, limit)
		if timedOut {
			return nil, xerrors.Timeout(xerrors.ErrCodeQueryTimeout,
				fmt.Sprintf("Search operation exceeded %s timeout", d.cfg.SearchTimeout),
				ctx.Err()).WithDetail("query", query)
		}
		if len(hits) > 0 {
			for i := range hits {
				hits[i].FilePath = d.translator.Translate(hits[i].FilePath)
			}
			return hits, nil
		}
	}

	storeHits, err := d.store.SearchBM25(ctx, query, opts.RepoID, limit)
	if err != nil {
		return nil, err
	}
	hits := fromStoreHits(storeHits)
	for i := range hits {
		hits[i].FilePath = d.translator.Translate(hits[i].FilePath)
	}
	return hits, nil
}

// searchViaPlugins fans a query out to every loaded SearchablePlugin,
// bounding each call against ctx the same way registry.load bounds a
// plugin factory: a goroutine does the call, and a select abandons it
// the moment ctx is done rather than trusting the plugin to honor
// ctx itself. An abandoned call leaks its goroutine, which is fine —
// one per timed-out search, cleaned up whenever the plugin eventually
// returns. timedOut is true when any plugin ran past ctx's deadline,
// signaling the caller to surface a timeout rather than fall back to
// BM25 with a partial result set.
func (d *Dispatcher) searchViaPlugins(ctx context.Context, query string, limit int) ([]Hit, bool) {
	type result struct {
		results []plugin.SearchResult
		err     error
	}

	var merged []Hit
	for _, p := range d.registry.All() {
		sp, ok := p.(plugin.SearchablePlugin)
		if !ok {
			continue
		}

		ch := make(chan result, 1)
		go func() {
			results, err := sp.Search(ctx, query, plugin.SearchOpts{Limit: limit})
			ch <- result{results: results, err: err}
		}()

		select {
		case res := <-ch:
			if res.err != nil {
				d.logger.Warn("plugin search failed, ignoring this source",
					slog.String("language", p.Language()), slog.String("error", res.err.Error()))
				continue
			}
			for _, r := range res.results {
				merged = append(merged, Hit{FilePath: r.FilePath, Line: r.Line, Snippet: r.Snippet, Score: r.Score})
			}
		case <-ctx.Done():
			d.logger.Warn("plugin search abandoned at search timeout",
				slog.String("language", p.Language()))
			return merged, true
		}
	}
	return merged, false
}

func fromStoreHits(storeHits []store.SearchHit) []Hit {
	hits := make([]Hit, len(storeHits))
	for i, h := range storeHits {
		hits[i] = Hit{FilePath: h.FilePath, Line: h.Line, Snippet: h.Snippet, Score: h.Score, Repository: h.Repository}
	}
	return hits
}
