package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindexmcp/internal/store"
)

const rubySource = `class Greeter
  def initialize(name)
    @name = name
  end

  def greet
    "hello #{@name}"
  end
end
`

func TestLineScanPlugin_Ruby_ExtractsClassAndMethods(t *testing.T) {
	p, ok := NewLineScanPlugin("ruby")
	require.True(t, ok)

	shard, err := p.IndexFile(context.Background(), "greeter.rb", []byte(rubySource))
	require.NoError(t, err)

	kinds := make(map[string]store.SymbolKind)
	for _, s := range shard.Symbols {
		kinds[s.Name] = s.Kind
	}
	assert.Equal(t, store.SymbolKindClass, kinds["Greeter"])
	assert.Equal(t, store.SymbolKindFunction, kinds["initialize"])
	assert.Equal(t, store.SymbolKindFunction, kinds["greet"])
}

func TestLineScanPlugin_FindReferences_ReturnsAllOccurrences(t *testing.T) {
	p, ok := NewLineScanPlugin("rust")
	require.True(t, ok)

	_, err := p.IndexFile(context.Background(), "a.rs", []byte("fn run() {}\n"))
	require.NoError(t, err)

	refs, err := p.FindReferences(context.Background(), "run")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "a.rs", refs[0].FilePath)
}

func TestNewLineScanPlugin_UnknownLanguageReturnsFalse(t *testing.T) {
	_, ok := NewLineScanPlugin("cobol")
	assert.False(t, ok)
}

func TestDefaultFactory_RoutesToTreeSitterAndLineScan(t *testing.T) {
	goPlugin, err := DefaultFactory("go")
	require.NoError(t, err)
	assert.Equal(t, "go", goPlugin.Language())

	rubyPlugin, err := DefaultFactory("ruby")
	require.NoError(t, err)
	assert.Equal(t, "ruby", rubyPlugin.Language())

	_, err = DefaultFactory("cobol")
	assert.Error(t, err)
}
