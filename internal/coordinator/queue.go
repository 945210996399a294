package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue wraps a Redis client for the priority job/result lists and
// worker heartbeat keys spec 6.4 lays out (`jobs:{priority}`,
// `results:{priority}`, `worker:{id}`). Key layout and the
// connect-once pattern follow evalgo-org-eve's queue/redis/queue.go,
// applied to job payloads instead of workflow-action jobs.
//
// Exported (unlike a typical internal helper) because internal/worker
// is a separate process from the Coordinator and dequeues jobs,
// pushes results, and publishes heartbeats through this same wrapper.
type Queue struct {
	client *redis.Client
}

// NewQueue connects to Redis at redisURL.
func NewQueue(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{client: redis.NewClient(opts)}, nil
}

func newQueueFromClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Ping verifies the Redis connection is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

func jobsKey(p Priority) string    { return "jobs:" + string(p) }
func resultsKey(p Priority) string { return "results:" + string(p) }
func workerKey(id string) string   { return "worker:" + id }

// EnqueueJob pushes a job onto its priority's job list.
func (q *Queue) EnqueueJob(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.RPush(ctx, jobsKey(job.Priority), raw).Err()
}

// DequeueJob polls every priority list, highest to lowest, with a
// single non-blocking pop each (spec 4.4 "polls priority queues from
// highest to lowest using a non-blocking pop"). Returns nil, nil when
// every list is empty, which lets a worker fall back to a short sleep
// between polls instead of treating an empty queue as an error.
func (q *Queue) DequeueJob(ctx context.Context) (*Job, error) {
	for _, p := range priorityOrder {
		raw, err := q.client.LPop(ctx, jobsKey(p)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		return &job, nil
	}
	return nil, nil
}

// PushResult appends a JobResult to its priority's result list.
func (q *Queue) PushResult(ctx context.Context, result *JobResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return q.client.RPush(ctx, resultsKey(result.Priority), raw).Err()
}

// DrainResults pops every pending result across all priority queues.
func (q *Queue) DrainResults(ctx context.Context) ([]JobResult, error) {
	var results []JobResult
	for _, p := range priorityOrder {
		key := resultsKey(p)
		for {
			raw, err := q.client.LPop(ctx, key).Bytes()
			if err == redis.Nil {
				break
			}
			if err != nil {
				return results, err
			}
			var r JobResult
			if err := json.Unmarshal(raw, &r); err != nil {
				return results, fmt.Errorf("unmarshal result: %w", err)
			}
			results = append(results, r)
		}
	}
	return results, nil
}

// SetHeartbeat publishes a worker's heartbeat with a TTL so stale
// workers disappear from ListHeartbeats on their own (spec 4.4).
func (q *Queue) SetHeartbeat(ctx context.Context, hb *Heartbeat, ttl time.Duration) error {
	raw, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	return q.client.Set(ctx, workerKey(hb.WorkerID), raw, ttl).Err()
}

// ListHeartbeats scans every live worker key, using SCAN rather than
// KEYS so a large worker fleet doesn't block the Redis event loop
// (mirrors internal/cache's l2Tier.clear).
func (q *Queue) ListHeartbeats(ctx context.Context) ([]Heartbeat, error) {
	var heartbeats []Heartbeat
	var cursor uint64
	for {
		keys, next, err := q.client.Scan(ctx, cursor, "worker:*", 200).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			raw, err := q.client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return heartbeats, err
			}
			var hb Heartbeat
			if err := json.Unmarshal(raw, &hb); err != nil {
				continue
			}
			heartbeats = append(heartbeats, hb)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return heartbeats, nil
}

// QueueDepth reports how many jobs are queued at a priority level.
func (q *Queue) QueueDepth(ctx context.Context, p Priority) (int64, error) {
	return q.client.LLen(ctx, jobsKey(p)).Result()
}

// DeleteAllJobQueues atomically clears every priority's job list (spec
// 4.4 cancel_all_jobs: "atomically deletes all priority queues").
func (q *Queue) DeleteAllJobQueues(ctx context.Context) error {
	keys := make([]string, len(priorityOrder))
	for i, p := range priorityOrder {
		keys[i] = jobsKey(p)
	}
	return q.client.Del(ctx, keys...).Err()
}
