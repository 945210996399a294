// Package multirepo implements the Multi-Repo Manager (spec section
// 4.1 "multi-repository fan-out"): an authorized allow-list of
// reference repositories, identifier resolution, per-repo Index Store
// handles, and concurrent fan-out search merged by score.
package multirepo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/codeindexmcp/internal/store"
	"github.com/Aman-CERP/codeindexmcp/internal/xerrors"
)

// OpenFunc opens (or returns a cached) IndexStore handle for a
// resolved repository identifier. The Manager does not know how a
// store is constructed — cmd/indexserver supplies this, typically
// store.OpenSQLiteIndexStore under the repository's data directory.
type OpenFunc func(identifier string) (store.IndexStore, error)

// Config configures a Manager (spec 6.3 MultiRepoConfig).
type Config struct {
	AuthorizedReferenceRepos []string
	OuterTimeout             time.Duration
	InnerTimeout             time.Duration
}

// Manager is the Multi-Repo Manager: validates a repo identifier
// against the allow-list, resolves it to an Index Store handle, and
// fans a search out across one or more authorized repositories.
type Manager struct {
	authorized map[string]struct{}
	open       OpenFunc
	local      store.IndexStore

	outerTimeout time.Duration
	innerTimeout time.Duration

	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]store.IndexStore
}

// New builds a Manager. local is the Dispatcher's own Index Store,
// used for the inner-timeout fallback path (spec 4.1 step d).
func New(cfg Config, local store.IndexStore, open OpenFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OuterTimeout <= 0 {
		cfg.OuterTimeout = 10 * time.Second
	}
	if cfg.InnerTimeout <= 0 {
		cfg.InnerTimeout = 5 * time.Second
	}

	authorized := make(map[string]struct{}, len(cfg.AuthorizedReferenceRepos))
	for _, id := range cfg.AuthorizedReferenceRepos {
		authorized[CanonicalKey(id)] = struct{}{}
	}

	return &Manager{
		authorized:   authorized,
		open:         open,
		local:        local,
		outerTimeout: cfg.OuterTimeout,
		innerTimeout: cfg.InnerTimeout,
		logger:       logger,
		stores:       make(map[string]store.IndexStore),
	}
}

// IsAuthorized reports whether identifier is in the configured
// allow-list (spec 4.1 step a). Identifiers are canonicalized first so
// a URL can be authorized once regardless of trailing-slash/.git
// formatting differences between calls.
func (m *Manager) IsAuthorized(identifier string) bool {
	_, ok := m.authorized[CanonicalKey(identifier)]
	return ok
}

// resolve returns the IndexStore handle for an authorized identifier,
// opening and memoizing it on first use (spec 4.1 step b).
func (m *Manager) resolve(identifier string) (store.IndexStore, error) {
	key := CanonicalKey(identifier)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[key]; ok {
		return s, nil
	}
	if m.open == nil {
		return nil, xerrors.BackendUnavailable(xerrors.ErrCodeStoreUnavailable,
			fmt.Sprintf("no store opener configured for repository %q", identifier), nil)
	}
	s, err := m.open(identifier)
	if err != nil {
		return nil, xerrors.BackendUnavailable(xerrors.ErrCodeStoreUnavailable,
			fmt.Sprintf("failed to open store for repository %q", identifier), err)
	}
	m.stores[key] = s
	return s, nil
}

// Search runs query against one authorized repository, honoring spec
// 4.1's outer/inner timeout fallback: an outer-timeout or resolution
// error falls back to the local store under a shorter inner timeout
// rather than failing the whole call.
func (m *Manager) Search(ctx context.Context, identifier, query string, limit int) ([]store.SearchHit, error) {
	if !m.IsAuthorized(identifier) {
		return nil, xerrors.Unauthorized(fmt.Sprintf("repository %q is not in the authorized reference list", identifier))
	}

	outerCtx, cancel := context.WithTimeout(ctx, m.outerTimeout)
	defer cancel()

	hits, err := m.searchRepo(outerCtx, identifier, query, limit)
	if err == nil {
		return hits, nil
	}

	m.logger.Warn("multi-repo search failed, falling back to local store",
		slog.String("repo", identifier), slog.String("error", err.Error()))

	innerCtx, innerCancel := context.WithTimeout(ctx, m.innerTimeout)
	defer innerCancel()

	if m.local == nil {
		return nil, xerrors.Timeout(xerrors.ErrCodeRepoTimeout,
			fmt.Sprintf("repository %q unavailable and no local fallback configured", identifier), err)
	}
	localHits, localErr := m.local.SearchBM25(innerCtx, query, nil, limit)
	if localErr != nil {
		return nil, xerrors.Timeout(xerrors.ErrCodeRepoTimeout,
			fmt.Sprintf("repository %q unavailable, local fallback also failed", identifier), localErr)
	}
	tagResults(localHits, "local")
	return localHits, nil
}

func (m *Manager) searchRepo(ctx context.Context, identifier, query string, limit int) ([]store.SearchHit, error) {
	s, err := m.resolve(identifier)
	if err != nil {
		return nil, err
	}
	hits, err := s.SearchBM25(ctx, query, nil, limit)
	if err != nil {
		return nil, err
	}
	tagResults(hits, identifier)
	return hits, nil
}

func tagResults(hits []store.SearchHit, repo string) {
	for i := range hits {
		hits[i].Repository = repo
	}
}

// FanOut runs query concurrently across every listed identifier and
// merges the results by score descending (spec 4.1, "Fan-out to
// multiple repos executes searches concurrently and merges by score
// desc"). One repository's failure (after its own outer/inner
// fallback) does not fail the others.
func (m *Manager) FanOut(ctx context.Context, identifiers []string, query string, limit int) ([]store.SearchHit, error) {
	results := make([][]store.SearchHit, len(identifiers))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range identifiers {
		i, id := i, id
		g.Go(func() error {
			hits, err := m.Search(gctx, id, query, limit)
			if err != nil {
				m.logger.Warn("fan-out search failed for repository, omitting from results",
					slog.String("repo", id), slog.String("error", err.Error()))
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []store.SearchHit
	for _, r := range results {
		merged = append(merged, r...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Close releases every opened repository store handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for id, s := range m.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store for %q: %w", id, err)
		}
	}
	m.stores = make(map[string]store.IndexStore)
	return firstErr
}
