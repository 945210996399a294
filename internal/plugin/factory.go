package plugin

import "fmt"

// treeSitterLanguages lists the languages with a registered grammar.
var treeSitterLanguages = map[string]struct{}{
	"go": {}, "typescript": {}, "javascript": {}, "python": {},
}

// DefaultFactory builds the Factory the Dispatcher uses for lazy plugin
// loading (spec section 4.1): tree-sitter for languages with a grammar,
// the regex-based LineScanPlugin for the rest. Returns an error for any
// language neither backend recognizes, which the Registry treats as
// "skip this language, fall through to BM25".
func DefaultFactory(language string) (Plugin, error) {
	if _, ok := treeSitterLanguages[language]; ok {
		return NewTreeSitterPlugin(language)
	}
	if p, ok := NewLineScanPlugin(language); ok {
		return p, nil
	}
	return nil, fmt.Errorf("no plugin backend registered for language %q", language)
}

// SupportedLanguages lists every language DefaultFactory can instantiate,
// for list_plugins's supported_languages field (spec 6.2).
func SupportedLanguages() []string {
	langs := make([]string, 0, len(treeSitterLanguages)+len(lineScanSpecs))
	for lang := range treeSitterLanguages {
		langs = append(langs, lang)
	}
	langs = append(langs, SupportedLineScanLanguages()...)
	return langs
}
