package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	lang string
	ext  string
}

func (s *stubPlugin) Language() string { return s.lang }
func (s *stubPlugin) Supports(path string) bool {
	return len(path) >= len(s.ext) && path[len(path)-len(s.ext):] == s.ext
}
func (s *stubPlugin) IndexFile(ctx context.Context, path string, content []byte) (IndexShard, error) {
	return IndexShard{FilePath: path, Language: s.lang}, nil
}
func (s *stubPlugin) GetDefinition(ctx context.Context, name string) (SymbolDef, bool, error) {
	return SymbolDef{}, false, nil
}
func (s *stubPlugin) FindReferences(ctx context.Context, name string) ([]Reference, error) {
	return nil, nil
}

func TestRegistry_Get_ReturnsEagerPluginWithoutInvokingFactory(t *testing.T) {
	eager := &stubPlugin{lang: "go", ext: ".go"}
	factoryCalled := false
	factory := func(lang string) (Plugin, error) {
		factoryCalled = true
		return nil, errors.New("should not be called")
	}

	r := NewRegistry([]Plugin{eager}, factory, 0, nil)

	p, ok := r.Get(context.Background(), "go")
	require.True(t, ok)
	assert.Equal(t, eager, p)
	assert.False(t, factoryCalled)
}

func TestRegistry_Get_LazilyLoadsAndMemoizes(t *testing.T) {
	calls := 0
	factory := func(lang string) (Plugin, error) {
		calls++
		return &stubPlugin{lang: lang, ext: ".py"}, nil
	}

	r := NewRegistry(nil, factory, time.Second, nil)

	p1, ok := r.Get(context.Background(), "python")
	require.True(t, ok)
	p2, ok := r.Get(context.Background(), "python")
	require.True(t, ok)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, calls, "factory should only be invoked once per language")
}

func TestRegistry_Get_FactoryErrorFallsThroughWithoutError(t *testing.T) {
	factory := func(lang string) (Plugin, error) {
		return nil, errors.New("unsupported")
	}

	r := NewRegistry(nil, factory, time.Second, nil)

	p, ok := r.Get(context.Background(), "cobol")
	assert.False(t, ok)
	assert.Nil(t, p)
}

func TestRegistry_Get_FactoryErrorIsMemoizedAsSkipped(t *testing.T) {
	calls := 0
	factory := func(lang string) (Plugin, error) {
		calls++
		return nil, errors.New("unsupported")
	}

	r := NewRegistry(nil, factory, time.Second, nil)

	_, ok := r.Get(context.Background(), "cobol")
	assert.False(t, ok)
	_, ok = r.Get(context.Background(), "cobol")
	assert.False(t, ok)

	assert.Equal(t, 1, calls, "a failed load should not be retried on every call")
}

func TestRegistry_Get_FactoryTimeoutFallsThrough(t *testing.T) {
	block := make(chan struct{})
	factory := func(lang string) (Plugin, error) {
		<-block
		return &stubPlugin{lang: lang}, nil
	}

	r := NewRegistry(nil, factory, 20*time.Millisecond, nil)

	p, ok := r.Get(context.Background(), "slow")
	assert.False(t, ok)
	assert.Nil(t, p)

	close(block)
}

func TestRegistry_Get_NoFactoryAndNoEagerFallsThrough(t *testing.T) {
	r := NewRegistry(nil, nil, 0, nil)

	p, ok := r.Get(context.Background(), "go")
	assert.False(t, ok)
	assert.Nil(t, p)
}

func TestRegistry_ForPath_MatchesEagerPlugin(t *testing.T) {
	eager := &stubPlugin{lang: "go", ext: ".go"}
	r := NewRegistry([]Plugin{eager}, nil, 0, nil)

	p, ok := r.ForPath("main.go")
	require.True(t, ok)
	assert.Equal(t, eager, p)

	_, ok = r.ForPath("main.py")
	assert.False(t, ok)
}

func TestRegistry_LoadedLanguages_IncludesEagerAndLazy(t *testing.T) {
	eager := &stubPlugin{lang: "go", ext: ".go"}
	factory := func(lang string) (Plugin, error) {
		return &stubPlugin{lang: lang, ext: ".py"}, nil
	}
	r := NewRegistry([]Plugin{eager}, factory, time.Second, nil)

	_, _ = r.Get(context.Background(), "python")

	langs := r.LoadedLanguages()
	assert.ElementsMatch(t, []string{"go", "python"}, langs)
}

func TestRegistry_All_IncludesEagerAndLazy(t *testing.T) {
	eager := &stubPlugin{lang: "go", ext: ".go"}
	factory := func(lang string) (Plugin, error) {
		return &stubPlugin{lang: lang, ext: ".py"}, nil
	}
	r := NewRegistry([]Plugin{eager}, factory, time.Second, nil)

	_, _ = r.Get(context.Background(), "python")

	all := r.All()
	assert.Len(t, all, 2)
}

func TestRegistry_Counts_TracksEagerLazyAndSkipped(t *testing.T) {
	eager := &stubPlugin{lang: "go", ext: ".go"}
	factory := func(lang string) (Plugin, error) {
		if lang == "cobol" {
			return nil, errors.New("unsupported")
		}
		return &stubPlugin{lang: lang, ext: ".py"}, nil
	}
	r := NewRegistry([]Plugin{eager}, factory, time.Second, nil)

	_, _ = r.Get(context.Background(), "python")
	_, _ = r.Get(context.Background(), "cobol")

	eagerN, lazyN, skippedN := r.Counts()
	assert.Equal(t, 1, eagerN)
	assert.Equal(t, 1, lazyN)
	assert.Equal(t, 1, skippedN)
}

func TestLanguageFromPath_DetectsKnownExtensions(t *testing.T) {
	cases := map[string]string{
		"main.go":       "go",
		"app.ts":        "typescript",
		"app.tsx":       "typescript",
		"index.js":      "javascript",
		"script.py":     "python",
		"README.md":     "",
		"no-extension":  "",
	}
	for path, want := range cases {
		assert.Equal(t, want, LanguageFromPath(path), "path=%s", path)
	}
}
