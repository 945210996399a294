package coordinator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindexmcp/internal/scanner"
)

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg.RedisURL = "redis://" + mr.Addr()

	scn, err := scanner.New()
	require.NoError(t, err)

	c, err := New(cfg, scn, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.q.Close() })
	return c, mr
}

func writeFile(t *testing.T, dir, rel string, size int) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	// Text content: the scanner skips files containing NUL bytes as binary.
	content := make([]byte, size)
	for i := range content {
		content[i] = 'a'
	}
	require.NoError(t, os.WriteFile(full, content, 0o644))
}

func TestNew_EmptyRedisURLReturnsError(t *testing.T) {
	scn, err := scanner.New()
	require.NoError(t, err)
	_, err = New(Config{}, scn, nil)
	require.Error(t, err)
}

func TestNew_ConnectsToRedisSuccessfully(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{})
	assert.NotNil(t, c)
}

func TestCreateJobs_BatchesAndBucketsFiles(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{BatchSize: 2, MaxWorkers: 10})
	dir := t.TempDir()
	writeFile(t, dir, "small.go", 100)
	writeFile(t, dir, "medium.go", 20*1024)
	writeFile(t, dir, "large.go", 200*1024)

	summary, err := c.CreateJobs(context.Background(), 1, dir, PriorityNormal)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalFiles)
	assert.Equal(t, 1, summary.ByBucket[BucketSmall])
	assert.Equal(t, 1, summary.ByBucket[BucketMedium])
	assert.Equal(t, 1, summary.ByBucket[BucketLarge])
	assert.Equal(t, 2, summary.JobsCreated) // batch size 2: ceil(3/2)

	depth, err := c.QueueDepth(context.Background(), PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestCreateJobs_CapsTotalJobsAtTwiceMaxWorkers(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{BatchSize: 1, MaxWorkers: 2})
	dir := t.TempDir()
	for i := 0; i < 10; i++ {
		writeFile(t, dir, filepath.Join("pkg", "file"+string(rune('a'+i))+".go"), 10)
	}

	summary, err := c.CreateJobs(context.Background(), 1, dir, PriorityLow)
	require.NoError(t, err)

	assert.LessOrEqual(t, summary.JobsCreated, 4) // 2*MaxWorkers
}

func TestCreateJobs_SortsFilesDescendingBySize(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{BatchSize: 100, MaxWorkers: 10})
	dir := t.TempDir()
	writeFile(t, dir, "tiny.go", 10)
	writeFile(t, dir, "huge.go", 50000)

	_, err := c.CreateJobs(context.Background(), 1, dir, PriorityNormal)
	require.NoError(t, err)

	job, err := c.q.DequeueJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Len(t, job.Files, 2)
	assert.Equal(t, "huge.go", job.Files[0].RelPath)
	assert.Equal(t, "tiny.go", job.Files[1].RelPath)
}

func TestDrainResults_MarksJobCompleted(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{})
	job := &Job{ID: "job-1", Priority: PriorityNormal, Status: JobAssigned, WorkerID: "w1", MaxRetries: 3}
	c.jobs[job.ID] = job

	err := c.q.PushResult(context.Background(), &JobResult{
		JobID: "job-1", WorkerID: "w1", Priority: PriorityNormal, Status: JobCompleted,
	})
	require.NoError(t, err)

	require.NoError(t, c.drainResults(context.Background()))

	got, ok := c.Job("job-1")
	require.True(t, ok)
	assert.Equal(t, JobCompleted, got.Status)
	assert.Empty(t, got.WorkerID)
}

func TestDrainResults_RetriesFailedJobWithinMaxRetries(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{})
	job := &Job{ID: "job-2", Priority: PriorityHigh, Status: JobProcessing, WorkerID: "w1", MaxRetries: 3, RetryCount: 0}
	c.jobs[job.ID] = job

	err := c.q.PushResult(context.Background(), &JobResult{
		JobID: "job-2", WorkerID: "w1", Priority: PriorityHigh, Status: JobFailed, Errors: []string{"boom"},
	})
	require.NoError(t, err)

	require.NoError(t, c.drainResults(context.Background()))

	got, ok := c.Job("job-2")
	require.True(t, ok)
	assert.Equal(t, JobPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.WorkerID)

	requeued, err := c.q.DequeueJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, requeued)
	assert.Equal(t, "job-2", requeued.ID)
}

func TestDrainResults_TerminalFailureAfterRetriesExhausted(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{})
	job := &Job{ID: "job-3", Priority: PriorityLow, Status: JobProcessing, MaxRetries: 1, RetryCount: 1}
	c.jobs[job.ID] = job

	err := c.q.PushResult(context.Background(), &JobResult{
		JobID: "job-3", Priority: PriorityLow, Status: JobFailed, Errors: []string{"bad file"},
	})
	require.NoError(t, err)

	require.NoError(t, c.drainResults(context.Background()))

	got, ok := c.Job("job-3")
	require.True(t, ok)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, "bad file", got.Reason)
}

func TestDrainResults_DiscardsResultForUnknownJob(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{})
	err := c.q.PushResult(context.Background(), &JobResult{JobID: "ghost", Priority: PriorityNormal, Status: JobCompleted})
	require.NoError(t, err)

	require.NoError(t, c.drainResults(context.Background()))
	_, ok := c.Job("ghost")
	assert.False(t, ok)
}

func TestReapLostWorkers_MarksAssignedJobFailedWhenHeartbeatMissing(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{MaxRetries: 3})
	job := &Job{ID: "job-4", Priority: PriorityNormal, Status: JobAssigned, WorkerID: "dead-worker", MaxRetries: 2, RetryCount: 0}
	c.jobs[job.ID] = job

	require.NoError(t, c.reapLostWorkers(context.Background()))

	got, ok := c.Job("job-4")
	require.True(t, ok)
	assert.Equal(t, JobPending, got.Status)
	assert.Equal(t, "worker_lost", got.Reason)
	assert.Equal(t, 1, got.RetryCount)
}

func TestReapLostWorkers_LeavesJobAloneWhenWorkerHeartbeatPresent(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{})
	job := &Job{ID: "job-5", Priority: PriorityNormal, Status: JobProcessing, WorkerID: "w-live"}
	c.jobs[job.ID] = job

	require.NoError(t, c.q.SetHeartbeat(context.Background(), &Heartbeat{
		WorkerID: "w-live", State: WorkerBusy, UpdatedAt: time.Now(),
	}, time.Minute))

	require.NoError(t, c.reapLostWorkers(context.Background()))

	got, ok := c.Job("job-5")
	require.True(t, ok)
	assert.Equal(t, JobProcessing, got.Status)
}

func TestPurgeOldCompleted_RemovesStaleCompletedJobs(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{ResultTTL: time.Millisecond})
	job := &Job{ID: "job-6", Status: JobCompleted, UpdatedAt: time.Now().Add(-time.Hour)}
	c.jobs[job.ID] = job

	c.purgeOldCompleted()

	_, ok := c.Job("job-6")
	assert.False(t, ok)
}

func TestPurgeOldCompleted_KeepsRecentCompletedJobs(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{ResultTTL: time.Hour})
	job := &Job{ID: "job-7", Status: JobCompleted, UpdatedAt: time.Now()}
	c.jobs[job.ID] = job

	c.purgeOldCompleted()

	_, ok := c.Job("job-7")
	assert.True(t, ok)
}

func TestCancelAllJobs_ClearsQueuesAndMarksActiveJobsFailed(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{})
	dir := t.TempDir()
	writeFile(t, dir, "a.go", 10)

	_, err := c.CreateJobs(context.Background(), 1, dir, PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, c.CancelAllJobs(context.Background()))

	for _, job := range c.Jobs() {
		assert.Equal(t, JobFailed, job.Status)
		assert.Equal(t, "cancelled", job.Reason)
	}

	depth, err := c.QueueDepth(context.Background(), PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestCancelAllJobs_LeavesAlreadyTerminalJobsUntouched(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{})
	job := &Job{ID: "done", Status: JobCompleted}
	c.jobs[job.ID] = job

	require.NoError(t, c.CancelAllJobs(context.Background()))

	got, ok := c.Job("done")
	require.True(t, ok)
	assert.Equal(t, JobCompleted, got.Status)
	assert.Empty(t, got.Reason)
}

func TestTick_RunsDrainReapAndPurgeWithoutError(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{})
	require.NoError(t, c.Tick(context.Background()))
}

func TestStartStop_MonitorLoopRunsAndStopsCleanly(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{HealthCheckInterval: 5 * time.Millisecond})
	c.Start()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Stop())
}

func TestBucketFor_ClassifiesBySizeThresholds(t *testing.T) {
	assert.Equal(t, BucketSmall, bucketFor(1024))
	assert.Equal(t, BucketMedium, bucketFor(50*1024))
	assert.Equal(t, BucketLarge, bucketFor(200*1024))
}
