package dispatcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/codeindexmcp/internal/plugin"
	"github.com/Aman-CERP/codeindexmcp/internal/scanner"
	"github.com/Aman-CERP/codeindexmcp/internal/store"
	"github.com/Aman-CERP/codeindexmcp/internal/xerrors"
)

// IndexFile ingests a single file (spec 4.1 index_file, 4.2 write
// path): a loaded or lazily-loaded plugin extracts symbols; absent a
// plugin, the file is still ingested for BM25 search with no symbols.
// Re-indexing is skipped (UpsertResult.Unchanged) unless content hash
// differs or force is set.
func (d *Dispatcher) IndexFile(ctx context.Context, repoID int64, relPath, absPath string, force bool) (FileIndexResult, error) {
	start := time.Now()
	var err error
	defer func() { d.record("index_file", start, err) }()

	content, readErr := os.ReadFile(absPath)
	if readErr != nil {
		err = xerrors.NotFound(xerrors.ErrCodeFileNotFound, "path not found: "+absPath)
		return FileIndexResult{Path: relPath}, err
	}

	language := plugin.LanguageFromPath(absPath)
	if language == "" {
		language = scanner.DetectLanguage(absPath)
	}

	var symbols []store.Symbol
	if !d.cfg.UseSimpleDispatcher && language != "" {
		if p, ok := d.registry.Get(ctx, language); ok {
			shard, indexErr := p.IndexFile(ctx, absPath, content)
			if indexErr != nil {
				d.logger.Warn("plugin IndexFile failed, ingesting without symbols",
					slog.String("path", relPath), slog.String("language", language), slog.String("error", indexErr.Error()))
			} else {
				symbols = shard.Symbols
			}
		}
	}

	result, upsertErr := d.store.UpsertFile(ctx, repoID, relPath, absPath, language, content, symbols, force)
	if upsertErr != nil {
		err = upsertErr
		return FileIndexResult{Path: relPath}, err
	}

	if !result.Unchanged && d.queryCache != nil {
		d.queryCache.InvalidateFile(ctx, relPath)
	}

	return FileIndexResult{
		Path:      relPath,
		Language:  language,
		Indexed:   !result.Unchanged,
		Unchanged: result.Unchanged,
		Symbols:   len(symbols),
	}, nil
}

// IndexDirectory walks root and indexes every discovered file (spec
// 4.1 index_directory). recursive=false limits discovery to files
// directly under root.
func (d *Dispatcher) IndexDirectory(ctx context.Context, repoID int64, root string, recursive bool) (IndexSummary, error) {
	start := time.Now()
	var err error
	defer func() { d.record("index_directory", start, err) }()

	if _, statErr := os.Stat(root); statErr != nil {
		err = xerrors.NotFound(xerrors.ErrCodeFileNotFound, "path not found: "+root)
		return IndexSummary{}, err
	}

	if d.scanner == nil {
		err = xerrors.InternalError("dispatcher has no scanner configured for index_directory", nil)
		return IndexSummary{}, err
	}

	results, scanErr := d.scanner.Scan(ctx, &scanner.ScanOptions{RootDir: root, RespectGitignore: true})
	if scanErr != nil {
		err = scanErr
		return IndexSummary{}, err
	}

	summary := IndexSummary{ByLanguage: make(map[string]int)}
	for res := range results {
		summary.TotalFiles++

		if res.Error != nil {
			summary.FailedFiles++
			summary.Errors = append(summary.Errors, res.Error.Error())
			continue
		}
		rel := res.File.Path
		if !recursive && filepath.Dir(rel) != "." {
			summary.IgnoredFiles++
			continue
		}

		fileResult, indexErr := d.IndexFile(ctx, repoID, rel, res.File.AbsPath, false)
		if indexErr != nil {
			summary.FailedFiles++
			summary.Errors = append(summary.Errors, indexErr.Error())
			continue
		}
		summary.IndexedFiles++
		lang := fileResult.Language
		if lang == "" {
			lang = "unknown"
		}
		summary.ByLanguage[lang]++
	}

	return summary, nil
}
