package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue carries jobs from the API to the worker.
type Queue interface {
	// Enqueue stores job, assigning an ID when it has none, and returns the ID.
	Enqueue(ctx context.Context, job *Job) (string, error)
	// Dequeue blocks until a job is available, the poll interval elapses
	// (ErrQueueEmpty) or ctx is done.
	Dequeue(ctx context.Context) (*Job, error)
}

func prepare(job *Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
}

// MemoryQueue is a bounded in-process queue.
type MemoryQueue struct {
	jobs chan *Job
	poll time.Duration
}

// NewMemoryQueue creates a queue holding up to size jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = 1
	}
	return &MemoryQueue{jobs: make(chan *Job, size), poll: time.Second}
}

// Enqueue implements Queue. It fails rather than blocks when the queue is full.
func (q *MemoryQueue) Enqueue(_ context.Context, job *Job) (string, error) {
	prepare(job)
	cp := *job
	select {
	case q.jobs <- &cp:
		return job.ID, nil
	default:
		return "", errors.New("mail queue full")
	}
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	timer := time.NewTimer(q.poll)
	defer timer.Stop()
	select {
	case job := <-q.jobs:
		return job, nil
	case <-timer.C:
		return nil, ErrQueueEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of waiting jobs.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

// RedisQueue stores jobs as JSON in a Redis list so the API and workers can
// run in separate processes.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	poll   time.Duration
}

// NewRedisQueue creates a queue on the list named name.
func NewRedisQueue(client redis.UniversalClient, name string) *RedisQueue {
	return &RedisQueue{client: client, key: "docrelay:queue:" + name, poll: time.Second}
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) (string, error) {
	prepare(job)
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode mail job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue mail job: %w", err)
	}
	return job.ID, nil
}

// Dequeue implements Queue.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("dequeue mail job: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue mail job: unexpected reply %v", res)
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode mail job: %w", err)
	}
	return &job, nil
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*RedisQueue)(nil)
)
