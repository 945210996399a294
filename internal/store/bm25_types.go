package store

import "context"

// Document is a single unit of text handed to a BM25Index for indexing.
// For the sqlite-backed IndexStore this is one row per File, keyed by
// the file's repo-relative path (spec section 3.1, "BM25 document").
type Document struct {
	ID      string // file path
	Content string
}

// BM25Result is a single ranked hit returned by a BM25Index.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats summarizes a BM25Index's contents.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Config tunes the BM25 scoring function and tokenizer.
type BM25Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultBM25Config returns the defaults used by the Index Store.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords filters common programming keywords that add
// little discriminating power to a code search index.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// BM25Index is the pluggable full-text index interface. The default
// backend (SQLiteBM25Index) keeps documents in an FTS5 table in its own
// SQLite file; BleveBM25Index is the alternate, legacy backend named in
// spec section 6.3's bm25_backend option, persisting a side directory.
// SQLiteIndexStore does not go through this interface: its search path
// uses the inline bm25_content table in its own database (spec 4.2).
type BM25Index interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Save(path string) error
	Load(path string) error
	Close() error
}
