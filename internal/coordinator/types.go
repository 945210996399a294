// Package coordinator implements the Distributed Indexing Coordinator
// (spec section 4.4): job creation/batching, priority queues backed by
// Redis, the monitor loop that drains results and retries failed jobs,
// and cancellation.
package coordinator

import "time"

// Priority names one of the four Redis job-queue priority levels.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// priorityOrder lists priorities from highest to lowest, the order a
// worker polls them in.
var priorityOrder = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// JobStatus is a Job's position in the state machine spec 4.4 draws:
//
//	PENDING -> ASSIGNED -> PROCESSING -> COMPLETED
//	PROCESSING -> FAILED -> RETRYING -> PENDING (retries left)
//	                              \-> FAILED (exhausted, terminal)
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobAssigned   JobStatus = "ASSIGNED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobRetrying   JobStatus = "RETRYING"
)

// FileBucket classifies a file by size for observability only (spec
// 4.4 "used for observability, not for scheduling").
type FileBucket string

const (
	BucketSmall  FileBucket = "small"
	BucketMedium FileBucket = "medium"
	BucketLarge  FileBucket = "large"
)

// largeFileThreshold and mediumFileThreshold bound the three buckets
// (spec 4.4: "large > 100 KiB").
const (
	largeFileThreshold  = 100 * 1024
	mediumFileThreshold = 10 * 1024
)

func bucketFor(size int64) FileBucket {
	switch {
	case size > largeFileThreshold:
		return BucketLarge
	case size > mediumFileThreshold:
		return BucketMedium
	default:
		return BucketSmall
	}
}

// JobFile is one file assigned to a Job.
type JobFile struct {
	RelPath string `json:"rel_path"`
	AbsPath string `json:"abs_path"`
	Size    int64  `json:"size"`
}

// Job is a unit of indexing work enqueued onto one priority list.
type Job struct {
	ID         string     `json:"id"`
	RepoID     int64      `json:"repo_id"`
	Priority   Priority   `json:"priority"`
	Files      []JobFile  `json:"files"`
	Status     JobStatus  `json:"status"`
	WorkerID   string     `json:"worker_id,omitempty"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
}

// JobResult is what a worker pushes to the result queue after
// processing a Job, successfully or not.
type JobResult struct {
	JobID        string    `json:"job_id"`
	WorkerID     string    `json:"worker_id"`
	Priority     Priority  `json:"priority"`
	Status       JobStatus `json:"status"` // COMPLETED or FAILED
	IndexedFiles int       `json:"indexed_files"`
	FailedFiles  int       `json:"failed_files"`
	Errors       []string  `json:"errors,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// WorkerState is a worker's self-reported or observed lifecycle state
// (spec 4.4 "State machine (Worker)").
type WorkerState string

const (
	WorkerIdle    WorkerState = "IDLE"
	WorkerBusy    WorkerState = "BUSY"
	WorkerError   WorkerState = "ERROR"
	WorkerOffline WorkerState = "OFFLINE"
)

// Heartbeat is the payload a worker publishes to its well-known Redis
// key every heartbeat_interval (spec 4.4).
type Heartbeat struct {
	WorkerID     string      `json:"worker_id"`
	State        WorkerState `json:"state"`
	CurrentJobID string      `json:"current_job_id,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// BatchSummary reports the outcome of one CreateJobs call, bucketed by
// file size for observability (spec 4.4 step 2).
type BatchSummary struct {
	JobsCreated int
	TotalFiles  int
	ByBucket    map[FileBucket]int
}
