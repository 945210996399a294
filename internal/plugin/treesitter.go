package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/Aman-CERP/codeindexmcp/internal/store"
)

// languageSpec pins the tree-sitter grammar and node-type table for one
// language, the same shape the teacher's chunk.LanguageConfig used.
type languageSpec struct {
	language       string
	extensions     []string
	grammar        *sitter.Language
	functionTypes  []string
	methodTypes    []string
	classTypes     []string
	interfaceTypes []string
	typeDefTypes   []string
	constantTypes  []string
	variableTypes  []string
}

var languageSpecs = map[string]*languageSpec{
	"go": {
		language:      "go",
		extensions:    []string{".go"},
		grammar:       golang.GetLanguage(),
		functionTypes: []string{"function_declaration"},
		methodTypes:   []string{"method_declaration"},
		typeDefTypes:  []string{"type_declaration"},
		constantTypes: []string{"const_declaration"},
		variableTypes: []string{"var_declaration"},
	},
	"typescript": {
		language:       "typescript",
		extensions:     []string{".ts", ".tsx"},
		grammar:        typescript.GetLanguage(),
		functionTypes:  []string{"function_declaration"},
		methodTypes:    []string{"method_definition"},
		classTypes:     []string{"class_declaration"},
		interfaceTypes: []string{"interface_declaration"},
		typeDefTypes:   []string{"type_alias_declaration"},
		constantTypes:  []string{"lexical_declaration"},
		variableTypes:  []string{"variable_declaration"},
	},
	"javascript": {
		language:      "javascript",
		extensions:    []string{".js", ".jsx", ".mjs"},
		grammar:       javascript.GetLanguage(),
		functionTypes: []string{"function_declaration", "function"},
		methodTypes:   []string{"method_definition"},
		classTypes:    []string{"class_declaration"},
		constantTypes: []string{"lexical_declaration"},
		variableTypes: []string{"variable_declaration"},
	},
	"python": {
		language:      "python",
		extensions:    []string{".py", ".pyw", ".pyi"},
		grammar:       python.GetLanguage(),
		functionTypes: []string{"function_definition"},
		classTypes:    []string{"class_definition"},
		variableTypes: []string{"assignment"},
	},
}

// TreeSitterPlugin implements Plugin for one language using a tree-sitter
// grammar, grounded on the teacher's internal/chunk package (parser.go,
// languages.go, extractor.go) generalized from "chunk" output to the
// Plugin interface's IndexShard/SymbolDef/Reference shapes.
type TreeSitterPlugin struct {
	spec *languageSpec

	mu      sync.Mutex
	parser  *sitter.Parser
	symbols map[string][]indexedSymbol // name -> occurrences, across all indexed files
}

type indexedSymbol struct {
	filePath string
	symbol   store.Symbol
}

// NewTreeSitterPlugin builds a plugin for the given language. Supported
// languages are "go", "typescript", "javascript", "python".
func NewTreeSitterPlugin(language string) (*TreeSitterPlugin, error) {
	spec, ok := languageSpecs[language]
	if !ok {
		return nil, fmt.Errorf("no tree-sitter grammar registered for language %q", language)
	}
	return &TreeSitterPlugin{
		spec:    spec,
		parser:  sitter.NewParser(),
		symbols: make(map[string][]indexedSymbol),
	}, nil
}

func (p *TreeSitterPlugin) Language() string { return p.spec.language }

func (p *TreeSitterPlugin) Supports(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range p.spec.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IndexFile parses content with tree-sitter and extracts symbols. The
// Dispatcher serializes calls per-plugin instance, so the parser and the
// symbol table are safe to mutate without additional locking beyond the
// mutex guarding concurrent callers within the same process.
func (p *TreeSitterPlugin) IndexFile(ctx context.Context, path string, content []byte) (IndexShard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.parser.SetLanguage(p.spec.grammar)
	tree, err := p.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return IndexShard{}, fmt.Errorf("tree-sitter parse failed for %s: %w", path, err)
	}
	if tree == nil {
		return IndexShard{}, fmt.Errorf("tree-sitter returned a nil tree for %s", path)
	}

	var symbols []store.Symbol
	root := tree.RootNode()
	walk(root, func(n *sitter.Node) bool {
		sym := p.extractSymbol(n, content)
		if sym != nil {
			symbols = append(symbols, *sym)
		}
		return true
	})

	// Replace this file's prior entries in the cross-file symbol table.
	for name, occs := range p.symbols {
		kept := occs[:0]
		for _, occ := range occs {
			if occ.filePath != path {
				kept = append(kept, occ)
			}
		}
		if len(kept) == 0 {
			delete(p.symbols, name)
		} else {
			p.symbols[name] = kept
		}
	}
	for _, sym := range symbols {
		p.symbols[sym.Name] = append(p.symbols[sym.Name], indexedSymbol{filePath: path, symbol: sym})
	}

	return IndexShard{FilePath: path, Language: p.spec.language, Symbols: symbols}, nil
}

func (p *TreeSitterPlugin) GetDefinition(ctx context.Context, name string) (SymbolDef, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	occs, ok := p.symbols[name]
	if !ok || len(occs) == 0 {
		return SymbolDef{}, false, nil
	}
	occ := occs[0]
	return SymbolDef{
		Symbol:    occ.symbol.Name,
		Kind:      occ.symbol.Kind,
		Language:  p.spec.language,
		Signature: occ.symbol.Signature,
		Doc:       occ.symbol.Documentation,
		DefinedIn: occ.filePath,
		Line:      occ.symbol.StartLine,
		EndLine:   occ.symbol.EndLine,
	}, true, nil
}

func (p *TreeSitterPlugin) FindReferences(ctx context.Context, name string) ([]Reference, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	occs := p.symbols[name]
	refs := make([]Reference, 0, len(occs))
	for _, occ := range occs {
		refs = append(refs, Reference{
			FilePath: occ.filePath,
			Line:     occ.symbol.StartLine,
			Snippet:  occ.symbol.Signature,
		})
	}
	return refs, nil
}

// walk traverses a tree-sitter tree depth-first, calling fn for each node.
func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

func (p *TreeSitterPlugin) extractSymbol(n *sitter.Node, source []byte) *store.Symbol {
	kind, found := p.classifyNode(n)
	if !found {
		return nil
	}

	name := p.extractName(n, source)
	if name == "" {
		return nil
	}

	return &store.Symbol{
		Name:      name,
		Kind:      kind,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		Signature: extractSignature(n, source, kind, p.spec.language),
	}
}

func (p *TreeSitterPlugin) classifyNode(n *sitter.Node) (store.SymbolKind, bool) {
	t := n.Type()
	for _, types := range []struct {
		kind  store.SymbolKind
		types []string
	}{
		{store.SymbolKindFunction, p.spec.functionTypes},
		{store.SymbolKindMethod, p.spec.methodTypes},
		{store.SymbolKindClass, p.spec.classTypes},
		{store.SymbolKindInterface, p.spec.interfaceTypes},
		{store.SymbolKindType, p.spec.typeDefTypes},
		{store.SymbolKindConstant, p.spec.constantTypes},
		{store.SymbolKindVariable, p.spec.variableTypes},
	} {
		for _, nt := range types.types {
			if nt == t {
				return types.kind, true
			}
		}
	}
	return "", false
}

func (p *TreeSitterPlugin) extractName(n *sitter.Node, source []byte) string {
	switch p.spec.language {
	case "go":
		return extractGoName(n, source)
	case "typescript":
		return extractJSLikeName(n, source)
	case "javascript":
		return extractJSLikeName(n, source)
	case "python":
		return firstChildOfType(n, source, "identifier")
	default:
		return firstChildOfType(n, source, "identifier")
	}
}

func extractGoName(n *sitter.Node, source []byte) string {
	switch n.Type() {
	case "function_declaration":
		return firstChildOfType(n, source, "identifier")
	case "method_declaration":
		return firstChildOfType(n, source, "field_identifier")
	case "type_declaration":
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child.Type() == "type_spec" {
				if name := firstChildOfType(child, source, "type_identifier"); name != "" {
					return name
				}
			}
		}
	case "const_declaration":
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child.Type() == "const_spec" {
				if name := firstChildOfType(child, source, "identifier"); name != "" {
					return name
				}
			}
		}
	case "var_declaration":
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child.Type() == "var_spec" {
				if name := firstChildOfType(child, source, "identifier"); name != "" {
					return name
				}
			}
		}
	}
	return ""
}

func extractJSLikeName(n *sitter.Node, source []byte) string {
	if n.Type() == "lexical_declaration" || n.Type() == "variable_declaration" {
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child.Type() == "variable_declarator" {
				if name := firstChildOfType(child, source, "identifier"); name != "" {
					return name
				}
			}
		}
		return ""
	}
	if name := firstChildOfType(n, source, "identifier"); name != "" {
		return name
	}
	return firstChildOfType(n, source, "type_identifier")
}

func firstChildOfType(n *sitter.Node, source []byte, nodeType string) string {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() == nodeType {
			return string(source[child.StartByte():child.EndByte()])
		}
	}
	return ""
}

// extractSignature returns the first line of a declaration up to its
// opening brace, for use as the symbol's human-readable signature.
func extractSignature(n *sitter.Node, source []byte, kind store.SymbolKind, language string) string {
	content := string(source[n.StartByte():n.EndByte()])
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	firstLine := strings.TrimSpace(lines[0])

	if language == "python" {
		return firstLine
	}
	if idx := strings.Index(firstLine, "{"); idx != -1 {
		return strings.TrimSpace(firstLine[:idx])
	}
	return firstLine
}
