// Package worker implements the distributed indexing worker side of
// spec section 4.4: polling the Coordinator's priority queues, running
// each job's files through a plugin-backed indexer, publishing
// results, and heartbeating.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/Aman-CERP/codeindexmcp/internal/coordinator"
	"github.com/Aman-CERP/codeindexmcp/internal/dispatcher"
)

// FileIndexer is the narrow slice of the Dispatcher a Worker needs:
// ingest one file into the Index Store through whatever plugin
// applies. Matches dispatcher.Dispatcher.IndexFile's signature so
// cmd/indexworker can hand a real Dispatcher straight through.
type FileIndexer interface {
	IndexFile(ctx context.Context, repoID int64, relPath, absPath string, force bool) (dispatcher.FileIndexResult, error)
}

// Config configures a Worker (spec 4.4, 6.3).
type Config struct {
	RedisURL string

	HeartbeatInterval time.Duration // default 5s
	WorkerTTL         time.Duration // heartbeat key TTL, default 30s
	PollInterval      time.Duration // sleep between empty dequeues, default 500ms
	MaxBackoff        time.Duration // cap on Redis-unavailability backoff, default 30s
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.WorkerTTL <= 0 {
		c.WorkerTTL = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Worker is one distributed indexing worker process (spec 4.4 "Worker
// loop"). It owns its own Redis connection, separate from the
// Coordinator's — in production it runs in cmd/indexworker, a
// different process entirely.
type Worker struct {
	id      string
	cfg     Config
	queue   *coordinator.Queue
	indexer FileIndexer
	logger  *slog.Logger

	mu           sync.Mutex
	state        coordinator.WorkerState
	currentJobID string

	stopCh chan struct{}
}

// New connects to Redis and returns an idle Worker with a freshly
// generated ID.
func New(cfg Config, indexer FileIndexer, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if indexer == nil {
		return nil, errNilIndexer
	}
	cfg.applyDefaults()

	q, err := coordinator.NewQueue(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if err := q.Ping(context.Background()); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return &Worker{
		id:      id,
		cfg:     cfg,
		queue:   q,
		indexer: indexer,
		logger:  logger.With(slog.String("worker_id", id)),
		state:   coordinator.WorkerIdle,
		stopCh:  make(chan struct{}),
	}, nil
}

// ID returns this worker's generated identifier.
func (w *Worker) ID() string { return w.id }

func (w *Worker) setState(state coordinator.WorkerState, jobID string) {
	w.mu.Lock()
	w.state = state
	w.currentJobID = jobID
	w.mu.Unlock()
}

func (w *Worker) snapshot() (coordinator.WorkerState, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.currentJobID
}

// Run blocks, polling the priority queues and processing jobs, until
// ctx is cancelled or Stop is called. It always returns nil on a
// clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	go w.heartbeatLoop(ctx)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = w.cfg.MaxBackoff
	// No MaxElapsedTime: this loop polls forever, it never gives up.
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil
		case <-w.stopCh:
			w.shutdown()
			return nil
		default:
		}

		processed, err := w.processOnce(ctx)
		if err != nil {
			w.setState(coordinator.WorkerError, "")
			delay := bo.NextBackOff()
			w.logger.Warn("worker queue unavailable, backing off",
				slog.String("error", err.Error()), slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				w.shutdown()
				return nil
			case <-w.stopCh:
				w.shutdown()
				return nil
			}
			continue
		}
		bo.Reset()

		if !processed {
			select {
			case <-time.After(w.cfg.PollInterval):
			case <-ctx.Done():
				w.shutdown()
				return nil
			case <-w.stopCh:
				w.shutdown()
				return nil
			}
		}
	}
}

// Stop requests a clean shutdown of Run.
func (w *Worker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

func (w *Worker) shutdown() {
	w.setState(coordinator.WorkerOffline, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.publishHeartbeat(ctx); err != nil {
		w.logger.Warn("failed to publish offline heartbeat", slog.String("error", err.Error()))
	}
	_ = w.queue.Close()
}

// processOnce dequeues and fully processes at most one job. It
// returns processed=false when the queues were empty, which the
// caller treats as a signal to sleep before polling again.
func (w *Worker) processOnce(ctx context.Context) (processed bool, err error) {
	job, err := w.queue.DequeueJob(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		w.setState(coordinator.WorkerIdle, "")
		return false, nil
	}

	w.setState(coordinator.WorkerBusy, job.ID)
	if hbErr := w.publishHeartbeat(ctx); hbErr != nil {
		w.logger.Warn("failed to publish heartbeat on job start", slog.String("error", hbErr.Error()))
	}

	result := coordinator.JobResult{
		JobID:       job.ID,
		WorkerID:    w.id,
		Priority:    job.Priority,
		Status:      coordinator.JobCompleted,
		CompletedAt: time.Now(),
	}

	for _, f := range job.Files {
		if _, indexErr := w.indexer.IndexFile(ctx, job.RepoID, f.RelPath, f.AbsPath, false); indexErr != nil {
			result.FailedFiles++
			result.Errors = append(result.Errors, f.RelPath+": "+indexErr.Error())
			continue
		}
		result.IndexedFiles++
	}
	if result.FailedFiles > 0 {
		result.Status = coordinator.JobFailed
	}

	if pushErr := w.queue.PushResult(ctx, &result); pushErr != nil {
		return true, pushErr
	}

	w.setState(coordinator.WorkerIdle, "")
	return true, nil
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.publishHeartbeat(ctx); err != nil {
				w.logger.Warn("heartbeat publish failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) publishHeartbeat(ctx context.Context) error {
	state, jobID := w.snapshot()
	hb := coordinator.Heartbeat{
		WorkerID:     w.id,
		State:        state,
		CurrentJobID: jobID,
		UpdatedAt:    time.Now(),
	}
	return w.queue.SetHeartbeat(ctx, &hb, w.cfg.WorkerTTL)
}

var errNilIndexer = errors.New("worker: nil FileIndexer")
