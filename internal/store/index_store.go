package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO (grounded on store/sqlite_bm25.go)
)

// SQLiteIndexStore implements IndexStore over a single modernc.org/sqlite
// database file containing repositories, files, symbols and a BM25
// full-text virtual table, per spec section 4.2's abstract schema.
//
// A single *sql.DB with MaxOpenConns(1) gives us the "short, synchronous
// transactions on a dedicated worker pool" model spec section 5 asks
// for without a separate connection-pool abstraction: SQLite's own
// writer lock plus WAL mode (readers do not block the writer) is
// sufficient at this scale, matching the teacher's own reasoning in
// store/sqlite_bm25.go.
type SQLiteIndexStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	config BM25Config
	logger *slog.Logger
	closed bool
}

var _ IndexStore = (*SQLiteIndexStore)(nil)

// OpenSQLiteIndexStore opens (creating if necessary) the index database
// at path. An empty path opens an in-memory store, useful for tests.
func OpenSQLiteIndexStore(path string, cfg BM25Config, logger *slog.Logger) (*SQLiteIndexStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteIndexStore{db: db, path: path, config: cfg, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS repositories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	path       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_id     INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	abs_path    TEXT NOT NULL,
	rel_path    TEXT NOT NULL,
	language    TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	hash        TEXT NOT NULL DEFAULT '',
	indexed_at  TIMESTAMP NOT NULL,
	UNIQUE(repo_id, rel_path)
);
CREATE INDEX IF NOT EXISTS idx_files_repo ON files(repo_id);
CREATE INDEX IF NOT EXISTS idx_files_language ON files(language);

CREATE TABLE IF NOT EXISTS symbols (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id    INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	line_start INTEGER NOT NULL,
	line_end   INTEGER NOT NULL,
	signature  TEXT NOT NULL DEFAULT '',
	doc        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);

CREATE VIRTUAL TABLE IF NOT EXISTS bm25_content USING fts5(
	filepath UNINDEXED,
	content,
	tokenize='unicode61'
);
`

func (s *SQLiteIndexStore) initSchema() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(`INSERT INTO meta(key, value) VALUES ('schema_version', ?)`,
			fmt.Sprintf("%d", CurrentSchemaVersion))
		return err
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	var onDisk int
	if _, err := fmt.Sscanf(raw, "%d", &onDisk); err != nil {
		return fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	if onDisk > CurrentSchemaVersion {
		return &SchemaMismatchError{OnDisk: onDisk, Known: CurrentSchemaVersion}
	}
	return nil
}

// --- Repository lifecycle -------------------------------------------------

func (s *SQLiteIndexStore) CreateRepository(ctx context.Context, path, name string, meta RepositoryMetadata) (*Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal repository metadata: %w", err)
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories(path, name, metadata, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET name = excluded.name, metadata = excluded.metadata`,
		path, name, string(metaJSON), now)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// ON CONFLICT path above means LastInsertId can be stale; re-read by path.
		return s.getRepositoryByPath(ctx, path)
	}
	return &Repository{ID: id, Path: path, Name: name, Metadata: meta, CreatedAt: now}, nil
}

func (s *SQLiteIndexStore) getRepositoryByPath(ctx context.Context, path string) (*Repository, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, name, metadata, created_at FROM repositories WHERE path = ?`, path)
	return scanRepository(row)
}

func (s *SQLiteIndexStore) GetRepository(ctx context.Context, id int64) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, name, metadata, created_at FROM repositories WHERE id = ?`, id)
	return scanRepository(row)
}

func scanRepository(row *sql.Row) (*Repository, error) {
	var r Repository
	var metaJSON string
	if err := row.Scan(&r.ID, &r.Path, &r.Name, &metaJSON, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan repository: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal repository metadata: %w", err)
	}
	return &r, nil
}

func (s *SQLiteIndexStore) ListRepositories(ctx context.Context, filter RepositoryFilter) ([]*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, name, metadata, created_at FROM repositories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var out []*Repository
	for rows.Next() {
		var r Repository
		var metaJSON string
		if err := rows.Scan(&r.ID, &r.Path, &r.Name, &metaJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan repository row: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal repository metadata: %w", err)
		}
		if filter.Type != "" && r.Metadata.Type != filter.Type {
			continue
		}
		if filter.Language != "" && r.Metadata.LanguageHint != filter.Language {
			continue
		}
		if filter.Temporary != nil && r.Metadata.Temporary != *filter.Temporary {
			continue
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndexStore) DeleteRepository(ctx context.Context, id int64, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cascade {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE repo_id = ?`, id).Scan(&n); err != nil {
			return fmt.Errorf("count files: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("repository %d has %d files; cascade delete required", id, n)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete repository: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT rel_path FROM files WHERE repo_id = ?`, id)
	if err != nil {
		return fmt.Errorf("list files for delete: %w", err)
	}
	var relPaths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return fmt.Errorf("scan rel_path: %w", err)
		}
		relPaths = append(relPaths, p)
	}
	rows.Close()

	for _, p := range relPaths {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bm25_content WHERE filepath = ?`, p); err != nil {
			return fmt.Errorf("delete bm25 row for %s: %w", p, err)
		}
	}
	// symbols cascade via ON DELETE CASCADE from files; files cascade from repositories.
	if _, err := tx.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteIndexStore) CleanupExpiredRepositories(ctx context.Context, now time.Time) (int, error) {
	repos, err := s.ListRepositories(ctx, RepositoryFilter{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range repos {
		if !r.Metadata.Temporary || r.Metadata.CleanupAfter.IsZero() {
			continue
		}
		if now.After(r.Metadata.CleanupAfter) {
			if err := s.DeleteRepository(ctx, r.ID, true); err != nil {
				return n, fmt.Errorf("cleanup repository %d: %w", r.ID, err)
			}
			n++
		}
	}
	return n, nil
}

// --- Write path (spec 4.2 "Write path") -----------------------------------

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// UpsertFile implements the five-step write path from spec section 4.2:
// hash, compare, delete-prior-symbols-and-bm25, insert, commit. The
// hash comparison reads before the transaction; every write runs inside
// one transaction so a crash mid-write never leaves a half-updated file
// observable (spec invariant, section 4.2).
func (s *SQLiteIndexStore) UpsertFile(ctx context.Context, repoID int64, relPath, absPath, language string, content []byte, symbols []Symbol, force bool) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newHash := hashContent(content)

	if !force {
		var existingHash string
		err := s.db.QueryRowContext(ctx,
			`SELECT hash FROM files WHERE repo_id = ? AND rel_path = ?`, repoID, relPath,
		).Scan(&existingHash)
		if err == nil && existingHash == newHash {
			var id int64
			_ = s.db.QueryRowContext(ctx,
				`SELECT id FROM files WHERE repo_id = ? AND rel_path = ?`, repoID, relPath).Scan(&id)
			return UpsertResult{FileID: id, Unchanged: true}, nil
		} else if err != nil && err != sql.ErrNoRows {
			return UpsertResult{}, fmt.Errorf("read existing hash: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var fileID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM files WHERE repo_id = ? AND rel_path = ?`, repoID, relPath).Scan(&fileID)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO files(repo_id, abs_path, rel_path, language, size, hash, indexed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			repoID, absPath, relPath, language, len(content), newHash, time.Now().UTC())
		if err != nil {
			return UpsertResult{}, fmt.Errorf("insert file: %w", err)
		}
		fileID, err = res.LastInsertId()
		if err != nil {
			return UpsertResult{}, fmt.Errorf("get inserted file id: %w", err)
		}
	case err != nil:
		return UpsertResult{}, fmt.Errorf("lookup file: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file_id = ?`, fileID); err != nil {
			return UpsertResult{}, fmt.Errorf("delete prior symbols: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE files SET abs_path = ?, language = ?, size = ?, hash = ?, indexed_at = ? WHERE id = ?`,
			absPath, language, len(content), newHash, time.Now().UTC(), fileID); err != nil {
			return UpsertResult{}, fmt.Errorf("update file: %w", err)
		}
	}

	for _, sym := range symbols {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO symbols(file_id, name, kind, line_start, line_end, signature, doc)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			fileID, sym.Name, string(sym.Kind), sym.StartLine, sym.EndLine, sym.Signature, sym.Documentation); err != nil {
			return UpsertResult{}, fmt.Errorf("insert symbol %s: %w", sym.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bm25_content WHERE filepath = ?`, relPath); err != nil {
		return UpsertResult{}, fmt.Errorf("delete prior bm25 row: %w", err)
	}
	tokens := FilterStopWords(TokenizeCode(string(content)), BuildStopWordMap(s.config.StopWords))
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bm25_content(filepath, content) VALUES (?, ?)`, relPath, strings.Join(tokens, " ")); err != nil {
		return UpsertResult{}, fmt.Errorf("insert bm25 row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
	}
	return UpsertResult{FileID: fileID, Unchanged: false}, nil
}

func (s *SQLiteIndexStore) DeleteFile(ctx context.Context, fileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete file: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var relPath string
	if err := tx.QueryRowContext(ctx, `SELECT rel_path FROM files WHERE id = ?`, fileID).Scan(&relPath); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("lookup file for delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bm25_content WHERE filepath = ?`, relPath); err != nil {
		return fmt.Errorf("delete bm25 row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return tx.Commit()
}

// --- Read paths (spec 4.2 "Read paths") -----------------------------------

// LookupSymbol joins symbols to files and repositories, restricts to
// repoID when it is non-nil, and tie-breaks by file path then start
// line, per spec section 4.2.
func (s *SQLiteIndexStore) LookupSymbol(ctx context.Context, name string, repoID *int64) ([]SymbolHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT s.id, s.file_id, s.name, s.kind, s.line_start, s.line_end, s.signature, s.doc,
		       f.rel_path, f.language, f.repo_id, r.path
		FROM symbols s
		JOIN files f ON f.id = s.file_id
		JOIN repositories r ON r.id = f.repo_id
		WHERE s.name = ?`
	args := []any{name}
	if repoID != nil {
		query += " AND f.repo_id = ?"
		args = append(args, *repoID)
	}
	query += " ORDER BY f.rel_path ASC, s.line_start ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup symbol: %w", err)
	}
	defer rows.Close()

	var out []SymbolHit
	for rows.Next() {
		var h SymbolHit
		var kind string
		if err := rows.Scan(&h.ID, &h.FileID, &h.Name, &kind, &h.StartLine, &h.EndLine,
			&h.Signature, &h.Documentation, &h.FilePath, &h.Language, &h.RepoID, &h.RepoPath); err != nil {
			return nil, fmt.Errorf("scan symbol hit: %w", err)
		}
		h.Kind = SymbolKind(kind)
		out = append(out, h)
	}
	return out, rows.Err()
}

// SearchBM25 runs the ranked full-text query from spec section 4.2
// against the inline bm25_content virtual table.
func (s *SQLiteIndexStore) SearchBM25(ctx context.Context, query string, repoID *int64, limit int) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := FilterStopWords(TokenizeCode(query), BuildStopWordMap(s.config.StopWords))
	if len(tokens) == 0 {
		return nil, nil
	}
	matchQuery := strings.Join(tokens, " ")

	sqlQuery := `
		SELECT b.filepath, snippet(bm25_content, 1, '', '', '...', 10) AS snip, bm25(bm25_content) AS score
		FROM bm25_content b
		WHERE b.content MATCH ?`
	args := []any{matchQuery}
	if repoID != nil {
		sqlQuery += ` AND b.filepath IN (SELECT rel_path FROM files WHERE repo_id = ?)`
		args = append(args, *repoID)
	}
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var filePath, snippet string
		var score float64
		if err := rows.Scan(&filePath, &snippet, &score); err != nil {
			return nil, fmt.Errorf("scan bm25 hit: %w", err)
		}
		out = append(out, SearchHit{
			FilePath: filePath,
			Snippet:  snippet,
			Score:    -score, // fts5 bm25() is lower-is-better; invert so higher is better
		})
	}
	return out, rows.Err()
}

func (s *SQLiteIndexStore) GetFile(ctx context.Context, repoID int64, relPath string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f File
	err := s.db.QueryRowContext(ctx,
		`SELECT id, repo_id, abs_path, rel_path, language, size, hash, indexed_at
		 FROM files WHERE repo_id = ? AND rel_path = ?`, repoID, relPath,
	).Scan(&f.ID, &f.RepoID, &f.AbsPath, &f.RelPath, &f.Language, &f.Size, &f.Hash, &f.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &f, nil
}

func (s *SQLiteIndexStore) FileCount(ctx context.Context, repoID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE repo_id = ?`, repoID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}

// --- Validation (spec 4.2 "Validation", 3.2 staleness invariant) ---------

// Validate samples up to 10 file rows and checks their stored absolute
// paths exist on the filesystem. An index is stale when more than half the sample
// is missing, or when there are files but zero BM25 documents (spec
// section 3.2).
func (s *SQLiteIndexStore) Validate(ctx context.Context, repoID int64) (*ValidationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repo, err := func() (*Repository, error) {
		row := s.db.QueryRowContext(ctx, `SELECT id, path, name, metadata, created_at FROM repositories WHERE id = ?`, repoID)
		return scanRepository(row)
	}()
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, fmt.Errorf("repository %d not found", repoID)
	}

	res := &ValidationResult{Valid: true}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE repo_id = ?`, repoID).Scan(&res.FileCount); err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bm25_content WHERE filepath IN (SELECT rel_path FROM files WHERE repo_id = ?)`,
		repoID).Scan(&res.BM25Count); err != nil {
		return nil, fmt.Errorf("count bm25 rows: %w", err)
	}

	if res.FileCount > 0 && res.BM25Count == 0 {
		res.Valid = false
		res.Issues = append(res.Issues, "bm25_documents = 0 with files > 0")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT abs_path FROM files WHERE repo_id = ? ORDER BY RANDOM() LIMIT 10`, repoID)
	if err != nil {
		return nil, fmt.Errorf("sample files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var absPath string
		if err := rows.Scan(&absPath); err != nil {
			return nil, fmt.Errorf("scan sampled path: %w", err)
		}
		res.SampledRows++
		if _, statErr := os.Stat(absPath); statErr != nil {
			res.MissingRows++
			res.Issues = append(res.Issues, fmt.Sprintf("missing on disk: %s", absPath))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if res.SampledRows > 0 && float64(res.MissingRows)/float64(res.SampledRows) > 0.5 {
		res.Valid = false
		res.Issues = append(res.Issues,
			fmt.Sprintf("%d/%d sampled paths missing (> 50%%)", res.MissingRows, res.SampledRows))
	}

	return res, nil
}

func (s *SQLiteIndexStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
