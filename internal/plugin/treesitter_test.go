package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindexmcp/internal/store"
)

const goSource = `package sample

// Add returns the sum of two integers.
func Add(a, b int) int {
	return a + b
}

type Config struct {
	Name string
}

const MaxRetries = 3
`

func TestTreeSitterPlugin_Go_IndexFile_ExtractsSymbols(t *testing.T) {
	p, err := NewTreeSitterPlugin("go")
	require.NoError(t, err)

	shard, err := p.IndexFile(context.Background(), "sample.go", []byte(goSource))
	require.NoError(t, err)

	assert.Equal(t, "go", shard.Language)

	names := make(map[string]store.SymbolKind)
	for _, s := range shard.Symbols {
		names[s.Name] = s.Kind
	}
	assert.Equal(t, store.SymbolKindFunction, names["Add"])
	assert.Equal(t, store.SymbolKindType, names["Config"])
	assert.Equal(t, store.SymbolKindConstant, names["MaxRetries"])
}

func TestTreeSitterPlugin_GetDefinition_FindsIndexedSymbol(t *testing.T) {
	p, err := NewTreeSitterPlugin("go")
	require.NoError(t, err)

	_, err = p.IndexFile(context.Background(), "sample.go", []byte(goSource))
	require.NoError(t, err)

	def, ok, err := p.GetDefinition(context.Background(), "Add")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sample.go", def.DefinedIn)
	assert.Equal(t, store.SymbolKindFunction, def.Kind)
}

func TestTreeSitterPlugin_GetDefinition_UnknownSymbolReturnsNotOk(t *testing.T) {
	p, err := NewTreeSitterPlugin("go")
	require.NoError(t, err)

	_, ok, err := p.GetDefinition(context.Background(), "DoesNotExist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTreeSitterPlugin_IndexFile_ReplacesPriorSymbolsForSamePath(t *testing.T) {
	p, err := NewTreeSitterPlugin("go")
	require.NoError(t, err)

	_, err = p.IndexFile(context.Background(), "sample.go", []byte(goSource))
	require.NoError(t, err)

	_, err = p.IndexFile(context.Background(), "sample.go", []byte("package sample\n"))
	require.NoError(t, err)

	_, ok, err := p.GetDefinition(context.Background(), "Add")
	require.NoError(t, err)
	assert.False(t, ok, "re-indexing the same path with different content should drop stale symbols")
}

func TestTreeSitterPlugin_Supports_MatchesRegisteredExtensions(t *testing.T) {
	p, err := NewTreeSitterPlugin("python")
	require.NoError(t, err)

	assert.True(t, p.Supports("foo/bar.py"))
	assert.False(t, p.Supports("foo/bar.go"))
}

func TestNewTreeSitterPlugin_UnknownLanguageErrors(t *testing.T) {
	_, err := NewTreeSitterPlugin("cobol")
	assert.Error(t, err)
}
