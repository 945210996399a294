package coordinator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/codeindexmcp/internal/scanner"
	"github.com/Aman-CERP/codeindexmcp/internal/xerrors"
)

// Config configures a Coordinator (spec 4.4, 6.3).
type Config struct {
	RedisURL            string
	BatchSize           int           // default 100
	MaxWorkers          int           // bounds total jobs at 2*MaxWorkers
	HealthCheckInterval time.Duration // default 10s
	WorkerTTL           time.Duration // default 30s, heartbeat staleness
	ResultTTL           time.Duration // default 1h
	MaxRetries          int           // default 3
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 10 * time.Second
	}
	if c.WorkerTTL <= 0 {
		c.WorkerTTL = 30 * time.Second
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Coordinator implements spec 4.4: it walks a repository into batched
// jobs, pushes them onto Redis priority queues, and runs a monitor
// loop that drains worker results, detects lost workers, retries
// failed jobs, and purges old completed ones.
type Coordinator struct {
	cfg     Config
	q       *Queue
	scanner *scanner.Scanner
	logger  *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Coordinator. A Redis connection failure here is fatal:
// per spec 4.4, "Coordinator without Redis: refuses to accept new
// indexing requests" — direct (non-distributed) indexing via the
// Dispatcher remains the fallback.
func New(cfg Config, scn *scanner.Scanner, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	if cfg.RedisURL == "" {
		return nil, xerrors.BackendUnavailable(xerrors.ErrCodeRedisUnavailable,
			"coordinator requires REDIS_URL; distributed indexing is unavailable without it", nil)
	}
	q, err := NewQueue(cfg.RedisURL)
	if err != nil {
		return nil, xerrors.BackendUnavailable(xerrors.ErrCodeRedisUnavailable, "failed to connect to redis", err)
	}
	if pingErr := q.Ping(context.Background()); pingErr != nil {
		return nil, xerrors.BackendUnavailable(xerrors.ErrCodeRedisUnavailable, "redis ping failed", pingErr)
	}

	return &Coordinator{
		cfg:     cfg,
		q:       q,
		scanner: scn,
		logger:  logger,
		jobs:    make(map[string]*Job),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// CreateJobs walks root, buckets and batches its files, and enqueues
// them as jobs at the given priority (spec 4.4 "Job creation").
func (c *Coordinator) CreateJobs(ctx context.Context, repoID int64, root string, priority Priority) (BatchSummary, error) {
	if c.scanner == nil {
		return BatchSummary{}, xerrors.InternalError("coordinator has no scanner configured for job creation", nil)
	}

	results, err := c.scanner.Scan(ctx, &scanner.ScanOptions{RootDir: root, RespectGitignore: true})
	if err != nil {
		return BatchSummary{}, err
	}

	type sizedFile struct {
		rel, abs string
		size     int64
	}
	var files []sizedFile
	summary := BatchSummary{ByBucket: make(map[FileBucket]int)}

	for res := range results {
		if res.Error != nil || res.File == nil {
			continue
		}
		files = append(files, sizedFile{rel: res.File.Path, abs: res.File.AbsPath, size: res.File.Size})
		summary.ByBucket[bucketFor(res.File.Size)]++
		summary.TotalFiles++
	}

	// Sort descending by size so large files start first (spec 4.4 step 3).
	sort.Slice(files, func(i, j int) bool { return files[i].size > files[j].size })

	batchSize := c.cfg.BatchSize
	maxJobs := 2 * c.cfg.MaxWorkers
	if maxJobs > 0 {
		neededJobs := (len(files) + batchSize - 1) / batchSize
		if neededJobs > maxJobs {
			batchSize = (len(files) + maxJobs - 1) / maxJobs
		}
	}
	if batchSize <= 0 {
		batchSize = len(files)
	}

	now := time.Now()
	var toEnqueue []*Job
	for i := 0; i < len(files); i += batchSize {
		end := i + batchSize
		if end > len(files) {
			end = len(files)
		}
		jobFiles := make([]JobFile, end-i)
		for k, f := range files[i:end] {
			jobFiles[k] = JobFile{RelPath: f.rel, AbsPath: f.abs, Size: f.size}
		}
		job := &Job{
			ID:         uuid.NewString(),
			RepoID:     repoID,
			Priority:   priority,
			Files:      jobFiles,
			Status:     JobPending,
			MaxRetries: c.cfg.MaxRetries,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		toEnqueue = append(toEnqueue, job)
	}

	c.mu.Lock()
	for _, job := range toEnqueue {
		c.jobs[job.ID] = job
	}
	c.mu.Unlock()

	for _, job := range toEnqueue {
		if err := c.q.EnqueueJob(ctx, job); err != nil {
			return summary, xerrors.BackendUnavailable(xerrors.ErrCodeRedisUnavailable, "failed to enqueue job", err)
		}
	}
	summary.JobsCreated = len(toEnqueue)

	c.logger.Info("created indexing jobs",
		slog.Int64("repo_id", repoID), slog.Int("jobs", summary.JobsCreated),
		slog.Int("files", summary.TotalFiles), slog.String("priority", string(priority)))

	return summary, nil
}

// Start launches the monitor loop on a background goroutine (spec 4.4
// "Coordinator monitor loop"), ticking every HealthCheckInterval.
// Modeled on cuemby-warren's scheduler.run ticker+stopCh shape.
func (c *Coordinator) Start() {
	go c.monitorLoop()
}

// Stop halts the monitor loop and closes the Redis connection.
// Idempotent.
func (c *Coordinator) Stop() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
	return c.q.Close()
}

func (c *Coordinator) monitorLoop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HealthCheckInterval)
			if err := c.Tick(ctx); err != nil {
				c.logger.Warn("coordinator monitor tick failed", slog.String("error", err.Error()))
			}
			cancel()
		case <-c.stopCh:
			return
		}
	}
}

// Tick runs one monitor-loop pass: drain results, detect lost
// workers, retry failed jobs, purge stale completed jobs (spec 4.4).
// Exported so tests and a caller without a background goroutine (e.g.
// a CLI `reindex --wait` command) can drive it synchronously.
func (c *Coordinator) Tick(ctx context.Context) error {
	if err := c.drainResults(ctx); err != nil {
		c.logger.Warn("failed to drain job results", slog.String("error", err.Error()))
	}

	if err := c.reapLostWorkers(ctx); err != nil {
		c.logger.Warn("failed to check worker heartbeats", slog.String("error", err.Error()))
	}

	c.purgeOldCompleted()
	return nil
}

func (c *Coordinator) drainResults(ctx context.Context) error {
	results, err := c.q.DrainResults(ctx)
	if err != nil {
		return err
	}

	var toRequeue []*Job

	c.mu.Lock()
	for _, result := range results {
		job, ok := c.jobs[result.JobID]
		if !ok {
			// Job unknown to this coordinator instance (e.g. cancelled
			// and forgotten already); discard per spec 4.4 cancellation
			// semantics.
			continue
		}
		if job.Status == JobCompleted || job.Status == JobFailed {
			// Already terminal (completed, cancelled, or out of retries):
			// a late result is discarded.
			continue
		}
		job.WorkerID = ""
		job.UpdatedAt = time.Now()

		if result.Status == JobCompleted {
			job.Status = JobCompleted
			continue
		}

		job.Reason = "processing_error"
		if len(result.Errors) > 0 {
			job.Reason = result.Errors[0]
		}
		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = JobRetrying
			toRequeue = append(toRequeue, job)
		} else {
			job.Status = JobFailed
		}
	}
	c.mu.Unlock()

	return c.requeue(ctx, toRequeue)
}

func (c *Coordinator) reapLostWorkers(ctx context.Context) error {
	heartbeats, err := c.q.ListHeartbeats(ctx)
	if err != nil {
		return err
	}
	alive := make(map[string]struct{}, len(heartbeats))
	for _, hb := range heartbeats {
		alive[hb.WorkerID] = struct{}{}
	}

	var toRequeue []*Job

	c.mu.Lock()
	for _, job := range c.jobs {
		if job.Status != JobAssigned && job.Status != JobProcessing {
			continue
		}
		if job.WorkerID == "" {
			continue
		}
		if _, ok := alive[job.WorkerID]; ok {
			continue
		}
		job.WorkerID = ""
		job.UpdatedAt = time.Now()
		job.Reason = "worker_lost"
		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = JobRetrying
			toRequeue = append(toRequeue, job)
		} else {
			job.Status = JobFailed
		}
	}
	c.mu.Unlock()

	return c.requeue(ctx, toRequeue)
}

func (c *Coordinator) requeue(ctx context.Context, jobs []*Job) error {
	for _, job := range jobs {
		c.mu.Lock()
		job.Status = JobPending
		c.mu.Unlock()

		if err := c.q.EnqueueJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) purgeOldCompleted() {
	cutoff := time.Now().Add(-c.cfg.ResultTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, job := range c.jobs {
		if job.Status == JobCompleted && job.UpdatedAt.Before(cutoff) {
			delete(c.jobs, id)
		}
	}
}

// CancelAllJobs implements spec 4.4 cancel_all_jobs: atomically clears
// every priority queue and marks every active job FAILED with reason
// "cancelled". A worker mid-file will still push a Job Result for a
// cancelled job; Tick discards it because the job no longer exists in
// an active state worth updating (it is already terminal).
func (c *Coordinator) CancelAllJobs(ctx context.Context) error {
	if err := c.q.DeleteAllJobQueues(ctx); err != nil {
		return xerrors.BackendUnavailable(xerrors.ErrCodeRedisUnavailable, "failed to clear job queues", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, job := range c.jobs {
		switch job.Status {
		case JobPending, JobAssigned, JobProcessing, JobRetrying:
			job.Status = JobFailed
			job.Reason = "cancelled"
			job.UpdatedAt = time.Now()
		}
	}
	return nil
}

// Job returns a snapshot of one job's current state.
func (c *Coordinator) Job(id string) (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns a snapshot of every job this coordinator instance
// knows about, for get_status-style reporting.
func (c *Coordinator) Jobs() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	jobs := make([]Job, 0, len(c.jobs))
	for _, job := range c.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// QueueDepth reports how many jobs are currently queued at a priority
// level, for health_check/get_status surfacing.
func (c *Coordinator) QueueDepth(ctx context.Context, p Priority) (int64, error) {
	return c.q.QueueDepth(ctx, p)
}
