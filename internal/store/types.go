// Package store implements the Index Store: the on-disk schema for
// repositories, files, symbols and the BM25 full-text virtual table,
// plus the integrity invariants (staleness detection, cascade delete)
// described in spec section 4.2.
package store

import (
	"context"
	"fmt"
	"time"
)

// RepositoryType classifies how a repository came to be indexed.
type RepositoryType string

const (
	RepositoryTypeLocal     RepositoryType = "local"
	RepositoryTypeReference RepositoryType = "reference"
	RepositoryTypeTemporary RepositoryType = "temporary"
	RepositoryTypeExternal  RepositoryType = "external"
)

// RepositoryMetadata is the closed set of known repository metadata
// fields, with a typed extension map for anything else (spec section 9,
// "opaque metadata maps" design note).
type RepositoryMetadata struct {
	Type         RepositoryType    `json:"type"`
	LanguageHint string            `json:"language_hint,omitempty"`
	Purpose      string            `json:"purpose,omitempty"`
	Temporary    bool              `json:"temporary"`
	CleanupAfter time.Time         `json:"cleanup_after,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Repository is a named, path-addressable source tree (spec section 3.1).
type Repository struct {
	ID        int64
	Path      string
	Name      string
	Metadata  RepositoryMetadata
	CreatedAt time.Time
}

// File is a source file belonging to exactly one Repository.
type File struct {
	ID        int64
	RepoID    int64
	AbsPath   string
	RelPath   string
	Language  string
	Size      int64
	Hash      string // SHA-256 of content at index time
	IndexedAt time.Time
}

// SymbolKind enumerates the symbol kinds named in spec section 3.1.
type SymbolKind string

const (
	SymbolKindFunction  SymbolKind = "function"
	SymbolKindClass     SymbolKind = "class"
	SymbolKindMethod    SymbolKind = "method"
	SymbolKindVariable  SymbolKind = "variable"
	SymbolKindConstant  SymbolKind = "constant"
	SymbolKindInterface SymbolKind = "interface"
	SymbolKindEnum      SymbolKind = "enum"
	SymbolKindType      SymbolKind = "type"
	SymbolKindMacro     SymbolKind = "macro"
	SymbolKindModule    SymbolKind = "module"
	SymbolKindOther     SymbolKind = "other"
)

// Symbol is a named entity extracted from a File.
type Symbol struct {
	ID            int64
	FileID        int64
	Name          string
	Kind          SymbolKind
	StartLine     int
	EndLine       int
	Signature     string
	Documentation string
}

// SymbolHit is a Symbol joined with enough File/Repository context to
// answer a lookup without a second round trip.
type SymbolHit struct {
	Symbol
	FilePath string // canonical (repo-relative) path
	Language string
	RepoID   int64
	RepoPath string
}

// SearchHit is one ranked result from a BM25 or plugin search.
type SearchHit struct {
	FilePath   string
	Line       int
	Snippet    string
	Score      float64
	Repository string // populated for multi-repo fan-out results
}

// ValidationResult is the outcome of the staleness probe (spec 4.2,
// "Validation"). Returning a struct instead of raising keeps callers
// branching on a boolean rather than catching an exception (spec 9).
type ValidationResult struct {
	Valid       bool
	Issues      []string
	SampledRows int
	MissingRows int
	FileCount   int
	BM25Count   int
}

// UpsertResult reports what UpsertFile actually did, so callers can
// distinguish a no-op re-index from a real write (spec 8 round-trip
// property: "hash_unchanged => no writes").
type UpsertResult struct {
	FileID    int64
	Unchanged bool
}

// RepositoryFilter narrows ListRepositories by metadata fields.
type RepositoryFilter struct {
	Type      RepositoryType
	Language  string
	Temporary *bool
}

// IndexStore is the durable substrate described in spec section 4.2.
// One IndexStore instance owns exactly one on-disk database file and
// corresponds to exactly one Repository collection (spec section 6.4
// — "one database file per repository"); multi-repository fan-out is
// the job of the layer above (internal/multirepo), which holds one
// IndexStore handle per authorized repository.
type IndexStore interface {
	// Repository lifecycle.
	CreateRepository(ctx context.Context, path, name string, meta RepositoryMetadata) (*Repository, error)
	GetRepository(ctx context.Context, id int64) (*Repository, error)
	ListRepositories(ctx context.Context, filter RepositoryFilter) ([]*Repository, error)
	DeleteRepository(ctx context.Context, id int64, cascade bool) error
	CleanupExpiredRepositories(ctx context.Context, now time.Time) (int, error)

	// Write path (spec 4.2 "Write path").
	UpsertFile(ctx context.Context, repoID int64, relPath, absPath, language string, content []byte, symbols []Symbol, force bool) (UpsertResult, error)
	DeleteFile(ctx context.Context, fileID int64) error

	// Read paths (spec 4.2 "Read paths").
	LookupSymbol(ctx context.Context, name string, repoID *int64) ([]SymbolHit, error)
	SearchBM25(ctx context.Context, query string, repoID *int64, limit int) ([]SearchHit, error)
	GetFile(ctx context.Context, repoID int64, relPath string) (*File, error)
	FileCount(ctx context.Context, repoID int64) (int, error)

	// Validation (spec 4.2 "Validation", 3.2 staleness invariant).
	Validate(ctx context.Context, repoID int64) (*ValidationResult, error)

	Close() error
}

// SchemaMismatchError is returned by OpenSQLiteIndexStore when the on-disk schema
// version is newer than this binary understands (spec 4.2, 7).
type SchemaMismatchError struct {
	OnDisk int
	Known  int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("index schema version %d is newer than supported version %d", e.OnDisk, e.Known)
}

// CurrentSchemaVersion is the schema version written by this binary.
const CurrentSchemaVersion = 1
