package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/codeindexmcp/internal/xerrors"
)

// Factory instantiates a Plugin for a language on first demand (spec
// section 4.1, "Plugin orchestration").
type Factory func(language string) (Plugin, error)

// Registry holds the Dispatcher's three plugin structures: eagerly loaded
// plugins supplied at construction, plugins loaded lazily through a
// factory within a bounded timeout, and languages whose lazy load failed.
// Lazy loads and failures are memoized for the process lifetime.
type Registry struct {
	mu           sync.RWMutex
	eager        map[string]Plugin
	loaded       map[string]Plugin
	skipped      map[string]struct{}
	factory      Factory
	loadTimeout  time.Duration
	logger       *slog.Logger
}

// NewRegistry builds a Registry from a set of eagerly loaded plugins and an
// optional factory for lazy loading. loadTimeout defaults to 5s (spec
// section 6.3, PLUGIN_LOAD_TIMEOUT) if zero or negative.
func NewRegistry(eager []Plugin, factory Factory, loadTimeout time.Duration, logger *slog.Logger) *Registry {
	if loadTimeout <= 0 {
		loadTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		eager:       make(map[string]Plugin, len(eager)),
		loaded:      make(map[string]Plugin),
		skipped:     make(map[string]struct{}),
		factory:     factory,
		loadTimeout: loadTimeout,
		logger:      logger,
	}
	for _, p := range eager {
		r.eager[p.Language()] = p
	}
	return r
}

// Get resolves a plugin for the given language, using the eager set first,
// then the memoized lazy set, then invoking the factory within the load
// timeout. A nil Plugin with ok=false means "fall through to BM25" — never
// an error the Dispatcher need propagate (spec section 4.1).
func (r *Registry) Get(ctx context.Context, language string) (p Plugin, ok bool) {
	if language == "" {
		return nil, false
	}

	r.mu.RLock()
	if p, found := r.eager[language]; found {
		r.mu.RUnlock()
		return p, true
	}
	if p, found := r.loaded[language]; found {
		r.mu.RUnlock()
		return p, true
	}
	_, wasSkipped := r.skipped[language]
	r.mu.RUnlock()

	if wasSkipped || r.factory == nil {
		return nil, false
	}

	p, err := r.load(ctx, language)
	if err != nil {
		r.logger.Warn("plugin load failed, falling back to BM25",
			slog.String("language", language), slog.String("error", err.Error()))
		r.mu.Lock()
		r.skipped[language] = struct{}{}
		r.mu.Unlock()
		return nil, false
	}
	return p, true
}

// load invokes the factory within r.loadTimeout. A factory that never
// returns leaks one goroutine per abandoned load — bounded because each
// language is attempted at most once per process
// lifetime (memoized success or failure).
func (r *Registry) load(ctx context.Context, language string) (Plugin, error) {
	type result struct {
		p   Plugin
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.loadTimeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		p, err := r.factory(language)
		ch <- result{p: p, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		r.mu.Lock()
		r.loaded[language] = res.p
		r.mu.Unlock()
		return res.p, nil
	case <-ctx.Done():
		return nil, xerrors.Timeout(xerrors.ErrCodePluginLoadTimeout,
			fmt.Sprintf("plugin load for %q exceeded %s", language, r.loadTimeout), ctx.Err())
	}
}

// ForPath resolves a plugin by inspecting the eager and memoized sets for
// one whose Supports(path) is true, without triggering a lazy load. Used
// by IndexFile/IndexDirectory where the language is not yet known.
func (r *Registry) ForPath(path string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.eager {
		if p.Supports(path) {
			return p, true
		}
	}
	for _, p := range r.loaded {
		if p.Supports(path) {
			return p, true
		}
	}
	return nil, false
}

// All returns every live plugin instance (eager or lazily loaded),
// without triggering a lazy load. Used by Dispatcher.Lookup, which has
// no path or language hint to resolve a single plugin from.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]Plugin, 0, len(r.eager)+len(r.loaded))
	for _, p := range r.eager {
		plugins = append(plugins, p)
	}
	for _, p := range r.loaded {
		plugins = append(plugins, p)
	}
	return plugins
}

// LoadedLanguages returns every language with a live plugin instance
// (eager or lazily loaded), for get_status/list_plugins (spec 6.2).
func (r *Registry) LoadedLanguages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.eager)+len(r.loaded))
	for lang := range r.eager {
		seen[lang] = struct{}{}
	}
	for lang := range r.loaded {
		seen[lang] = struct{}{}
	}
	langs := make([]string, 0, len(seen))
	for lang := range seen {
		langs = append(langs, lang)
	}
	return langs
}

// Counts reports the size of each plugin structure for health_check/
// get_status (spec 6.2 "plugin counts"): eagerly loaded at
// construction, lazily loaded on demand so far, and languages whose
// factory load failed and is now memoized as skipped.
func (r *Registry) Counts() (eager, lazy, skipped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.eager), len(r.loaded), len(r.skipped)
}

// LanguageFromPath is the extension-based language hint used by the
// Dispatcher to pick a plugin before falling back to BM25 (spec 4.1).
func LanguageFromPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".py", ".pyw", ".pyi":
		return "python"
	default:
		return ""
	}
}
