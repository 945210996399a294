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

	"github.com/Aman-CERP/codeindexmcp/internal/config"
	"github.com/Aman-CERP/codeindexmcp/internal/dispatcher"
	"github.com/Aman-CERP/codeindexmcp/internal/logging"
	"github.com/Aman-CERP/codeindexmcp/internal/plugin"
	"github.com/Aman-CERP/codeindexmcp/internal/store"
	"github.com/Aman-CERP/codeindexmcp/internal/telemetry"
	"github.com/Aman-CERP/codeindexmcp/internal/worker"
)

func newRunCmd() *cobra.Command {
	var root string
	var configDir string
	var repoName string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dequeue jobs from the coordinator and index files until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), root, configDir, repoName)
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "repository root this worker indexes files for")
	cmd.Flags().StringVar(&configDir, "config-dir", ".", "directory to look for a project config file in")
	cmd.Flags().StringVar(&repoName, "repo-name", "", "repository name for the data directory; defaults to the root's base name, must match the indexserver that created the jobs")

	return cmd
}

// runWorker wires one indexworker process: it opens the same Index
// Store file the serving indexserver process uses (same data_dir +
// repo-name resolves to the same SQLite file and, because
// CreateRepository upserts by path, the same repository ID the
// Coordinator stamped onto every Job), builds a plain Dispatcher
// around it, and runs a Worker against the Coordinator's Redis queue
// until the process is signalled to stop.
func runWorker(ctx context.Context, root, configDir, repoName string) error {
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
	if cfg.Coordinator.RedisURL == "" {
		return fmt.Errorf("indexworker requires coordinator.redis_url to be configured")
	}

	logCfg := logging.DefaultConfig()
	logCfg.FilePath = logging.WorkerLogPath()
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()

	idx, err := store.OpenSQLiteIndexStore(
		filepath.Join(cfg.Store.DataDir, repoName, "index.db"),
		store.DefaultBM25Config(),
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

	loadTimeout := time.Duration(cfg.Dispatcher.PluginLoadTimeoutMS) * time.Millisecond
	registry := plugin.NewRegistry(nil, plugin.DefaultFactory, loadTimeout, logger)

	recorder := telemetry.NewRecorder()

	disp := dispatcher.New(dispatcher.Config{
		UseSimpleDispatcher: cfg.Dispatcher.UseSimpleDispatcher,
		ServingRoot:         absRoot,
		SupportedLanguages:  plugin.SupportedLanguages(),
	}, registry, idx, nil, nil, nil, recorder, logger)

	w, err := worker.New(worker.Config{
		RedisURL:          cfg.Coordinator.RedisURL,
		HeartbeatInterval: time.Duration(cfg.Coordinator.HeartbeatIntervalSecs) * time.Second,
		WorkerTTL:         time.Duration(cfg.Coordinator.WorkerTTLSecs) * time.Second,
	}, disp, logger)
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}

	logger.Info("indexworker starting", slog.String("worker_id", w.ID()), slog.Int64("repo_id", repo.ID))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return w.Run(ctx)
}
