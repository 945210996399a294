package multirepo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindexmcp/internal/store"
	"github.com/Aman-CERP/codeindexmcp/internal/xerrors"
)

var errStub = errors.New("open failed")

// stubStore is a minimal store.IndexStore test double: only SearchBM25
// and Close carry real behavior, everything else is unreachable from
// this package's tests and panics if hit.
type stubStore struct {
	name string

	searchDelay time.Duration
	hits        []store.SearchHit
	err         error

	closed atomic.Bool
}

func (s *stubStore) SearchBM25(ctx context.Context, query string, repoID *int64, limit int) ([]store.SearchHit, error) {
	if s.searchDelay > 0 {
		select {
		case <-time.After(s.searchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]store.SearchHit, len(s.hits))
	copy(out, s.hits)
	return out, nil
}

func (s *stubStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *stubStore) CreateRepository(ctx context.Context, path, name string, meta store.RepositoryMetadata) (*store.Repository, error) {
	panic("not used by multirepo tests")
}
func (s *stubStore) GetRepository(ctx context.Context, id int64) (*store.Repository, error) {
	panic("not used by multirepo tests")
}
func (s *stubStore) ListRepositories(ctx context.Context, filter store.RepositoryFilter) ([]*store.Repository, error) {
	panic("not used by multirepo tests")
}
func (s *stubStore) DeleteRepository(ctx context.Context, id int64, cascade bool) error {
	panic("not used by multirepo tests")
}
func (s *stubStore) CleanupExpiredRepositories(ctx context.Context, now time.Time) (int, error) {
	panic("not used by multirepo tests")
}
func (s *stubStore) UpsertFile(ctx context.Context, repoID int64, relPath, absPath, language string, content []byte, symbols []store.Symbol, force bool) (store.UpsertResult, error) {
	panic("not used by multirepo tests")
}
func (s *stubStore) DeleteFile(ctx context.Context, fileID int64) error {
	panic("not used by multirepo tests")
}
func (s *stubStore) LookupSymbol(ctx context.Context, name string, repoID *int64) ([]store.SymbolHit, error) {
	panic("not used by multirepo tests")
}
func (s *stubStore) GetFile(ctx context.Context, repoID int64, relPath string) (*store.File, error) {
	panic("not used by multirepo tests")
}
func (s *stubStore) FileCount(ctx context.Context, repoID int64) (int, error) {
	panic("not used by multirepo tests")
}
func (s *stubStore) Validate(ctx context.Context, repoID int64) (*store.ValidationResult, error) {
	panic("not used by multirepo tests")
}

var _ store.IndexStore = (*stubStore)(nil)

func testConfig() Config {
	return Config{
		AuthorizedReferenceRepos: []string{
			"7",
			"/srv/repos/widget",
			"https://github.com/acme/gadget.git",
		},
		OuterTimeout: 50 * time.Millisecond,
		InnerTimeout: 50 * time.Millisecond,
	}
}

func TestNew_AppliesDefaultTimeouts(t *testing.T) {
	m := New(Config{}, nil, nil, nil)
	assert.Equal(t, 10*time.Second, m.outerTimeout)
	assert.Equal(t, 5*time.Second, m.innerTimeout)
}

func TestIsAuthorized_NumericAndPathPassThrough(t *testing.T) {
	m := New(testConfig(), nil, nil, nil)

	assert.True(t, m.IsAuthorized("7"))
	assert.True(t, m.IsAuthorized("/srv/repos/widget"))
	assert.False(t, m.IsAuthorized("8"))
	assert.False(t, m.IsAuthorized("/srv/repos/other"))
}

func TestIsAuthorized_CanonicalizesURLForms(t *testing.T) {
	m := New(testConfig(), nil, nil, nil)

	// Configured as "https://github.com/acme/gadget.git"; every
	// equivalent URL form must also be recognized as authorized.
	assert.True(t, m.IsAuthorized("https://github.com/acme/gadget.git"))
	assert.True(t, m.IsAuthorized("https://github.com/acme/gadget"))
	assert.True(t, m.IsAuthorized("https://github.com/acme/gadget/"))

	assert.False(t, m.IsAuthorized("https://github.com/acme/widget"))
}

func TestResolve_OpensAndMemoizesOnce(t *testing.T) {
	var opens int32
	open := func(identifier string) (store.IndexStore, error) {
		atomic.AddInt32(&opens, 1)
		return &stubStore{name: identifier}, nil
	}
	m := New(testConfig(), nil, open, nil)

	s1, err := m.resolve("https://github.com/acme/gadget.git")
	require.NoError(t, err)
	s2, err := m.resolve("https://github.com/acme/gadget") // equivalent URL form
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&opens))
}

func TestResolve_NoOpenerConfigured(t *testing.T) {
	m := New(testConfig(), nil, nil, nil)
	_, err := m.resolve("7")
	require.Error(t, err)
	var ie *xerrors.IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, xerrors.ErrCodeStoreUnavailable, ie.Code)
}

func TestResolve_OpenFuncErrorWrapped(t *testing.T) {
	open := func(identifier string) (store.IndexStore, error) {
		return nil, errStub
	}
	m := New(testConfig(), nil, open, nil)
	_, err := m.resolve("7")
	require.Error(t, err)
	var ie *xerrors.IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, xerrors.ErrCodeStoreUnavailable, ie.Code)
	assert.ErrorIs(t, err, errStub)
}

func TestSearch_UnauthorizedIdentifierRejected(t *testing.T) {
	m := New(testConfig(), nil, nil, nil)
	_, err := m.Search(context.Background(), "999", "needle", 10)
	require.Error(t, err)
	var ie *xerrors.IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, xerrors.ErrCodeRepoUnauthorized, ie.Code)
}

func TestSearch_HappyPathTagsRepository(t *testing.T) {
	open := func(identifier string) (store.IndexStore, error) {
		return &stubStore{hits: []store.SearchHit{{FilePath: "a.go", Score: 1}}}, nil
	}
	m := New(testConfig(), nil, open, nil)

	hits, err := m.Search(context.Background(), "7", "needle", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "7", hits[0].Repository)
}

func TestSearch_OuterTimeoutFallsBackToLocal(t *testing.T) {
	open := func(identifier string) (store.IndexStore, error) {
		return &stubStore{searchDelay: time.Second, hits: []store.SearchHit{{FilePath: "slow.go"}}}, nil
	}
	local := &stubStore{hits: []store.SearchHit{{FilePath: "local.go", Score: 1}}}

	cfg := testConfig()
	cfg.OuterTimeout = 10 * time.Millisecond
	cfg.InnerTimeout = time.Second
	m := New(cfg, local, open, nil)

	hits, err := m.Search(context.Background(), "7", "needle", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "local.go", hits[0].FilePath)
	assert.Equal(t, "local", hits[0].Repository)
}

func TestSearch_RepoErrorFallsBackToLocal(t *testing.T) {
	open := func(identifier string) (store.IndexStore, error) {
		return &stubStore{err: errStub}, nil
	}
	local := &stubStore{hits: []store.SearchHit{{FilePath: "local.go"}}}
	m := New(testConfig(), local, open, nil)

	hits, err := m.Search(context.Background(), "7", "needle", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "local", hits[0].Repository)
}

func TestSearch_NoLocalFallbackReturnsTimeoutError(t *testing.T) {
	open := func(identifier string) (store.IndexStore, error) {
		return &stubStore{err: errStub}, nil
	}
	m := New(testConfig(), nil, open, nil)

	_, err := m.Search(context.Background(), "7", "needle", 10)
	require.Error(t, err)
	var ie *xerrors.IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, xerrors.ErrCodeRepoTimeout, ie.Code)
}

func TestSearch_LocalFallbackAlsoFails(t *testing.T) {
	open := func(identifier string) (store.IndexStore, error) {
		return &stubStore{err: errStub}, nil
	}
	local := &stubStore{err: errStub}
	m := New(testConfig(), local, open, nil)

	_, err := m.Search(context.Background(), "7", "needle", 10)
	require.Error(t, err)
	var ie *xerrors.IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, xerrors.ErrCodeRepoTimeout, ie.Code)
}

func TestFanOut_MergesByScoreDescendingAndToleratesFailures(t *testing.T) {
	var mu sync.Mutex
	open := func(identifier string) (store.IndexStore, error) {
		mu.Lock()
		defer mu.Unlock()
		switch identifier {
		case "7":
			return &stubStore{hits: []store.SearchHit{{FilePath: "low.go", Score: 0.2}}}, nil
		case "/srv/repos/widget":
			return &stubStore{hits: []store.SearchHit{{FilePath: "high.go", Score: 0.9}}}, nil
		default:
			return nil, errStub
		}
	}
	m := New(testConfig(), nil, open, nil)

	hits, err := m.FanOut(context.Background(),
		[]string{"7", "/srv/repos/widget", "https://github.com/acme/gadget.git"},
		"needle", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "high.go", hits[0].FilePath)
	assert.Equal(t, "low.go", hits[1].FilePath)
}

func TestFanOut_RespectsLimit(t *testing.T) {
	open := func(identifier string) (store.IndexStore, error) {
		return &stubStore{hits: []store.SearchHit{
			{FilePath: "a.go", Score: 0.9},
			{FilePath: "b.go", Score: 0.8},
		}}, nil
	}
	m := New(testConfig(), nil, open, nil)

	hits, err := m.FanOut(context.Background(), []string{"7", "/srv/repos/widget"}, "needle", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestClose_ClosesAllOpenedStores(t *testing.T) {
	opened := make([]*stubStore, 0, 2)
	var mu sync.Mutex
	open := func(identifier string) (store.IndexStore, error) {
		s := &stubStore{name: identifier}
		mu.Lock()
		opened = append(opened, s)
		mu.Unlock()
		return s, nil
	}
	m := New(testConfig(), nil, open, nil)

	_, err := m.resolve("7")
	require.NoError(t, err)
	_, err = m.resolve("/srv/repos/widget")
	require.NoError(t, err)

	require.NoError(t, m.Close())

	for _, s := range opened {
		assert.True(t, s.closed.Load())
	}
	assert.Empty(t, m.stores)
}
