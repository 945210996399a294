// Package plugin implements the Plugin interface the Dispatcher consumes
// (spec section 6.1): per-language symbol extraction plus optional native
// search, with a registry that loads plugins eagerly or lazily on demand.
package plugin

import (
	"context"

	"github.com/Aman-CERP/codeindexmcp/internal/store"
)

// SymbolDef is the definition record returned by GetDefinition, matching
// the lookup operation's output fields (spec section 4.1, 6.2).
type SymbolDef struct {
	Symbol    string
	Kind      store.SymbolKind
	Language  string
	Signature string
	Doc       string
	DefinedIn string
	Line      int
	EndLine   int
}

// Reference is one use site of a symbol, returned by FindReferences.
type Reference struct {
	FilePath string
	Line     int
	Snippet  string
}

// SearchOpts configures an optional plugin-native search call.
type SearchOpts struct {
	Limit int
}

// SearchResult is one hit from a plugin-native search.
type SearchResult struct {
	FilePath string
	Line     int
	Snippet  string
	Score    float64
}

// IndexShard is what IndexFile returns: everything the Index Store needs
// to persist a file (spec section 6.1).
type IndexShard struct {
	FilePath string
	Language string
	Symbols  []store.Symbol
}

// Plugin is a per-language extractor consumed by the Dispatcher (spec
// section 6.1). The Dispatcher assumes nothing about thread-safety and
// serializes calls per-plugin instance — a Plugin implementation may keep
// unsynchronized per-instance state.
type Plugin interface {
	// Language returns the language this plugin handles (e.g. "go").
	Language() string

	// Supports reports whether this plugin can index the given path,
	// typically by extension.
	Supports(path string) bool

	// IndexFile extracts symbols from file content.
	IndexFile(ctx context.Context, path string, content []byte) (IndexShard, error)

	// GetDefinition returns the definition of a named symbol, if this
	// plugin has indexed it. ok is false when not found — never an error.
	GetDefinition(ctx context.Context, name string) (def SymbolDef, ok bool, err error)

	// FindReferences returns every known use site of a named symbol.
	FindReferences(ctx context.Context, name string) ([]Reference, error)
}

// SearchablePlugin is implemented by plugins that can answer search
// queries natively rather than relying on the Dispatcher's BM25 fallback
// (spec section 6.1, the `search` method is optional).
type SearchablePlugin interface {
	Plugin
	Search(ctx context.Context, query string, opts SearchOpts) ([]SearchResult, error)
}
