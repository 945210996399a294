package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codeindexmcp/internal/cache"
	"github.com/Aman-CERP/codeindexmcp/internal/config"
	"github.com/Aman-CERP/codeindexmcp/internal/coordinator"
	"github.com/Aman-CERP/codeindexmcp/internal/dispatcher"
	"github.com/Aman-CERP/codeindexmcp/internal/logging"
	"github.com/Aman-CERP/codeindexmcp/internal/multirepo"
	"github.com/Aman-CERP/codeindexmcp/internal/plugin"
	"github.com/Aman-CERP/codeindexmcp/internal/rpcserver"
	"github.com/Aman-CERP/codeindexmcp/internal/scanner"
	"github.com/Aman-CERP/codeindexmcp/internal/store"
	"github.com/Aman-CERP/codeindexmcp/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var root string
	var configDir string
	var repoName string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Index a directory and serve it over stdio MCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, configDir, repoName)
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "directory to index and serve")
	cmd.Flags().StringVar(&configDir, "config-dir", ".", "directory to look for a project config file in")
	cmd.Flags().StringVar(&repoName, "repo-name", "", "repository name for the data directory; defaults to the root's base name")

	return cmd
}

// runServe wires every component spec section 6.3 names into a single
// process: Index Store, tiered cache, plugin registry, Multi-Repo
// Manager, an optional Coordinator (when coordinator.redis_url is
// set), a Dispatcher over all of it, and the MCP stdio server.
//
// BUG-034-style constraint carried from the teacher: stdio is the MCP
// transport, so nothing may write to stdout before (or during)
// mcp.Run — all logging here goes to a file via logging.SetupMCPMode.
func runServe(ctx context.Context, root, configDir, repoName string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	if repoName == "" {
		repoName = filepath.Base(absRoot)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cleanup, err := logging.SetupMCPModeWithLevel(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()
	logger := slog.Default()

	bm25Cfg := store.DefaultBM25Config()
	if len(cfg.Store.StopWords) > 0 {
		bm25Cfg.StopWords = cfg.Store.StopWords
	}
	idx, err := store.OpenSQLiteIndexStore(
		filepath.Join(cfg.Store.DataDir, repoName, "index.db"),
		bm25Cfg,
		logger,
	)
	if err != nil {
		return fmt.Errorf("open index store: %w", err)
	}
	defer func() { _ = idx.Close() }()

	repo, err := idx.CreateRepository(ctx, absRoot, repoName, store.RepositoryMetadata{Type: store.RepositoryTypeLocal})
	if err != nil {
		return fmt.Errorf("register repository: %w", err)
	}

	tiered, err := cache.New(cache.Config{
		RedisURL:            cfg.Cache.RedisURL,
		MaxEntries:          cfg.Cache.MaxEntries,
		MaxBytes:            cfg.Cache.MaxMB * 1024 * 1024,
		DefaultTTL:          time.Duration(cfg.Cache.DefaultTTLS) * time.Second,
		DiskCacheDir:        cfg.Cache.DiskCacheDir,
		MaintenanceInterval: time.Duration(cfg.Cache.MaintenanceSecs) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = tiered.Close() }()
	queryCache := cache.NewQueryCache(tiered)

	loadTimeout := time.Duration(cfg.Dispatcher.PluginLoadTimeoutMS) * time.Millisecond
	registry := plugin.NewRegistry(nil, plugin.DefaultFactory, loadTimeout, logger)

	openRepo := func(identifier string) (store.IndexStore, error) {
		path := filepath.Join(cfg.Store.DataDir, filepath.Base(identifier), "index.db")
		return store.OpenSQLiteIndexStore(path, store.DefaultBM25Config(), logger)
	}
	multi := multirepo.New(multirepo.Config{
		AuthorizedReferenceRepos: cfg.MultiRepo.AuthorizedReferenceRepos,
		OuterTimeout:             time.Duration(cfg.MultiRepo.OuterTimeoutMS) * time.Millisecond,
		InnerTimeout:             time.Duration(cfg.MultiRepo.InnerTimeoutMS) * time.Millisecond,
	}, idx, openRepo, logger)

	scn, err := scanner.New()
	if err != nil {
		return fmt.Errorf("build scanner: %w", err)
	}

	recorder := telemetry.NewRecorder()

	var coord *coordinator.Coordinator
	if cfg.Coordinator.RedisURL != "" {
		coord, err = coordinator.New(coordinator.Config{
			RedisURL:            cfg.Coordinator.RedisURL,
			BatchSize:           cfg.Coordinator.BatchSize,
			MaxWorkers:          cfg.Coordinator.MaxWorkers,
			HealthCheckInterval: time.Duration(cfg.Coordinator.HealthCheckIntervalSecs) * time.Second,
			WorkerTTL:           time.Duration(cfg.Coordinator.WorkerTTLSecs) * time.Second,
			ResultTTL:           time.Duration(cfg.Coordinator.ResultTTLSecs) * time.Second,
			MaxRetries:          cfg.Coordinator.MaxRetries,
		}, scn, logger)
		if err != nil {
			logger.Warn("distributed indexing disabled: coordinator unavailable", slog.String("error", err.Error()))
			coord = nil
		} else {
			coord.Start()
			defer coord.Stop()
		}
	}

	disp := dispatcher.New(dispatcher.Config{
		UseSimpleDispatcher: cfg.Dispatcher.UseSimpleDispatcher,
		SearchTimeout:       time.Duration(cfg.Dispatcher.SearchTimeoutMS) * time.Millisecond,
		PluginLoadTimeout:   loadTimeout,
		ServingRoot:         absRoot,
		SupportedLanguages:  plugin.SupportedLanguages(),
	}, registry, idx, queryCache, multi, scn, recorder, logger)

	rpc, err := rpcserver.New(rpcserver.Config{RepoID: repo.ID, Root: absRoot}, disp, coord, logger)
	if err != nil {
		return fmt.Errorf("build rpc server: %w", err)
	}
	rpc.WithMetrics(telemetry.NewQueryMetrics())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Indexing happens up front so search_code/symbol_lookup have
	// something to serve immediately; stdout stays untouched either
	// way, so a failure here is logged rather than fatal.
	if summary, indexErr := disp.IndexDirectory(ctx, repo.ID, absRoot, true); indexErr != nil {
		logger.Warn("initial index failed", slog.String("error", indexErr.Error()))
	} else {
		logger.Info("initial index complete",
			slog.Int("indexed_files", summary.IndexedFiles),
			slog.Int("failed_files", summary.FailedFiles))
	}

	return rpc.Serve(ctx)
}
