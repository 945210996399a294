package plugin

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/Aman-CERP/codeindexmcp/internal/store"
)

// lineRule recognizes one symbol-defining construct via a line-anchored
// regular expression; its first capture group holds the symbol name.
type lineRule struct {
	pattern *regexp.Regexp
	kind    store.SymbolKind
}

// lineScanSpec configures a LineScanPlugin for one language family. It
// trades tree-sitter's precision for breadth: any language without a
// registered grammar (ruby, rust, java, c/c++, etc.) still gets symbol
// lookup from simple, line-anchored declaration patterns.
type lineScanSpec struct {
	language   string
	extensions []string
	rules      []lineRule
}

var lineScanSpecs = []*lineScanSpec{
	{
		language:   "ruby",
		extensions: []string{".rb", ".rake"},
		rules: []lineRule{
			{regexp.MustCompile(`^\s*def\s+(?:self\.)?([A-Za-z_][A-Za-z0-9_?!=]*)`), store.SymbolKindFunction},
			{regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_:]*)`), store.SymbolKindClass},
			{regexp.MustCompile(`^\s*module\s+([A-Za-z_][A-Za-z0-9_:]*)`), store.SymbolKindModule},
		},
	},
	{
		language:   "rust",
		extensions: []string{".rs"},
		rules: []lineRule{
			{regexp.MustCompile(`^\s*(?:pub\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindFunction},
			{regexp.MustCompile(`^\s*(?:pub\s+)?struct\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindType},
			{regexp.MustCompile(`^\s*(?:pub\s+)?enum\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindEnum},
			{regexp.MustCompile(`^\s*(?:pub\s+)?trait\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindInterface},
			{regexp.MustCompile(`^\s*(?:pub\s+)?const\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindConstant},
		},
	},
	{
		language:   "java",
		extensions: []string{".java"},
		rules: []lineRule{
			{regexp.MustCompile(`^\s*(?:public|private|protected|static|final|\s)*class\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindClass},
			{regexp.MustCompile(`^\s*(?:public|private|protected|static|final|\s)*interface\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindInterface},
			{regexp.MustCompile(`^\s*(?:public|private|protected|static|final|abstract|synchronized|\s)+[\w<>\[\],\s]+\s+([A-Za-z_][A-Za-z0-9_]*)\s*\([^;{]*\)\s*\{?\s*$`), store.SymbolKindMethod},
		},
	},
	{
		language:   "c",
		extensions: []string{".c", ".h"},
		rules: []lineRule{
			{regexp.MustCompile(`^\s*(?:static\s+|inline\s+)*[\w\*\s]+\b([A-Za-z_][A-Za-z0-9_]*)\s*\([^;]*\)\s*\{\s*$`), store.SymbolKindFunction},
			{regexp.MustCompile(`^\s*typedef\s+struct\s+[A-Za-z_][A-Za-z0-9_]*\s*\{?\s*$`), store.SymbolKindType},
			{regexp.MustCompile(`^\s*struct\s+([A-Za-z_][A-Za-z0-9_]*)\s*\{?\s*$`), store.SymbolKindType},
		},
	},
	{
		language:   "cpp",
		extensions: []string{".cpp", ".hpp", ".cc", ".cxx"},
		rules: []lineRule{
			{regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindClass},
			{regexp.MustCompile(`^\s*struct\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindType},
			{regexp.MustCompile(`^\s*(?:inline\s+|static\s+|virtual\s+)*[\w:<>\*&\s]+\b([A-Za-z_][A-Za-z0-9_]*)\s*\([^;]*\)\s*(?:const\s*)?\{\s*$`), store.SymbolKindFunction},
		},
	},
	{
		language:   "csharp",
		extensions: []string{".cs"},
		rules: []lineRule{
			{regexp.MustCompile(`^\s*(?:public|private|protected|internal|static|sealed|\s)*class\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindClass},
			{regexp.MustCompile(`^\s*(?:public|private|protected|internal|static|\s)*interface\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindInterface},
		},
	},
	{
		language:   "php",
		extensions: []string{".php"},
		rules: []lineRule{
			{regexp.MustCompile(`^\s*(?:public|private|protected|static|\s)*function\s+&?([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindFunction},
			{regexp.MustCompile(`^\s*(?:abstract\s+|final\s+)?class\s+([A-Za-z_][A-Za-z0-9_]*)`), store.SymbolKindClass},
		},
	},
}

// LineScanPlugin is a fallback Plugin for languages without a registered
// tree-sitter grammar: regex-based, line-anchored declaration matching.
// It trades precision (no nested scopes, no multi-line signatures) for
// coverage of the long tail of languages in spec.md's extension table.
type LineScanPlugin struct {
	spec *lineScanSpec

	mu      sync.Mutex
	symbols map[string][]indexedSymbol
}

// NewLineScanPlugin builds a fallback plugin for one of the registered
// language families. Returns false if no ruleset exists for language.
func NewLineScanPlugin(language string) (*LineScanPlugin, bool) {
	for _, spec := range lineScanSpecs {
		if spec.language == language {
			return &LineScanPlugin{spec: spec, symbols: make(map[string][]indexedSymbol)}, true
		}
	}
	return nil, false
}

func (p *LineScanPlugin) Language() string { return p.spec.language }

func (p *LineScanPlugin) Supports(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range p.spec.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (p *LineScanPlugin) IndexFile(ctx context.Context, path string, content []byte) (IndexShard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var symbols []store.Symbol
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		for _, rule := range p.spec.rules {
			m := rule.pattern.FindStringSubmatch(line)
			if m == nil || len(m) < 2 || m[1] == "" {
				continue
			}
			symbols = append(symbols, store.Symbol{
				Name:      m[1],
				Kind:      rule.kind,
				StartLine: i + 1,
				EndLine:   i + 1,
				Signature: strings.TrimSpace(line),
			})
			break
		}
	}

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

func (p *LineScanPlugin) GetDefinition(ctx context.Context, name string) (SymbolDef, bool, error) {
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
		DefinedIn: occ.filePath,
		Line:      occ.symbol.StartLine,
		EndLine:   occ.symbol.EndLine,
	}, true, nil
}

func (p *LineScanPlugin) FindReferences(ctx context.Context, name string) ([]Reference, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	occs := p.symbols[name]
	refs := make([]Reference, 0, len(occs))
	for _, occ := range occs {
		refs = append(refs, Reference{FilePath: occ.filePath, Line: occ.symbol.StartLine, Snippet: occ.symbol.Signature})
	}
	return refs, nil
}

// SupportedLineScanLanguages lists the language families the fallback
// plugin can instantiate, for list_plugins (spec 6.2).
func SupportedLineScanLanguages() []string {
	langs := make([]string, 0, len(lineScanSpecs))
	for _, s := range lineScanSpecs {
		langs = append(langs, s.language)
	}
	return langs
}
