// Package jobqueue is a single-worker FIFO queue for long-running
// registration/indexing work, adapted from internal/async.BackgroundIndexer
// (one background goroutine, lock-file marking of in-flight work, a
// progress snapshot a caller can poll) generalized into a queue of named
// jobs instead of one indexer running at a time. The queue is
// non-persistent: a crash drops all queued and in-flight state.
package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Func is the work a job runs. It reports incremental progress via update
// and returns a result value (JSON-marshalable) or an error.
type Func func(ctx context.Context, update func(progress map[string]any)) (any, error)

// Job is one unit of queued work and its current state. Fields are read
// under the queue's mutex via snapshot accessors; callers never see a Job
// mid-mutation.
type Job struct {
	ID          string
	Kind        string
	Metadata    map[string]any
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Status      Status
	Progress    map[string]any
	Result      any
	Error       string

	fn     Func
	cancel context.CancelFunc
}

// Snapshot is an immutable copy of a Job safe to hand to a caller (e.g.
// serialize as the GET /job/{id} response body).
type Snapshot struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Status      Status         `json:"status"`
	Progress    map[string]any `json:"progress,omitempty"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func (j *Job) snapshot() Snapshot {
	return Snapshot{
		ID: j.ID, Kind: j.Kind, Metadata: j.Metadata, CreatedAt: j.CreatedAt,
		StartedAt: j.StartedAt, CompletedAt: j.CompletedAt, Status: j.Status,
		Progress: j.Progress, Result: j.Result, Error: j.Error,
	}
}

// Queue is a single-worker FIFO job queue. The worker goroutine is started
// once by Run and processes jobs strictly in submission order; a slow job
// blocks every job behind it, matching spec's "not a scheduler" boundary.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	pending chan *Job

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// New builds a Queue with room for backlog queued jobs before Register
// blocks the caller.
func New(backlog int) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:    make(map[string]*Job),
		pending: make(chan *Job, backlog),
		ctx:     ctx,
		cancel:  cancel,
		doneCh:  make(chan struct{}),
	}
}

// Run starts the worker goroutine; it drains pending until Stop is called.
func (q *Queue) Run() {
	go q.worker()
}

func (q *Queue) worker() {
	defer close(q.doneCh)
	for {
		select {
		case <-q.ctx.Done():
			return
		case job, ok := <-q.pending:
			if !ok {
				return
			}
			q.runJob(job)
		}
	}
}

func (q *Queue) runJob(job *Job) {
	q.mu.Lock()
	if job.Status == StatusCancelled {
		q.mu.Unlock()
		return
	}
	jobCtx, cancel := context.WithCancel(q.ctx)
	job.cancel = cancel
	job.Status = StatusRunning
	now := time.Now()
	job.StartedAt = &now
	q.mu.Unlock()

	result, err := job.fn(jobCtx, func(progress map[string]any) {
		q.mu.Lock()
		job.Progress = progress
		q.mu.Unlock()
	})

	q.mu.Lock()
	completed := time.Now()
	job.CompletedAt = &completed
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusCompleted
		job.Result = result
	}
	q.mu.Unlock()
}

// Register enqueues a new job of kind running fn, returning its id. It
// never blocks on job execution, only on the backlog channel filling up.
func (q *Queue) Register(kind string, metadata map[string]any, fn Func) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Metadata:  metadata,
		CreatedAt: time.Now(),
		Status:    StatusQueued,
		fn:        fn,
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.mu.Unlock()

	q.pending <- job
	return job
}

// Get returns a snapshot of the job with id, or false if unknown.
func (q *Queue) Get(id string) (Snapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return job.snapshot(), true
}

// Cancel cancels the job with id if it is still queued. Returns false if
// the job is unknown or already running/terminal, matching spec's "only
// queued jobs are cancellable" rule — running jobs are not preempted.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusQueued {
		return false
	}
	job.Status = StatusCancelled
	now := time.Now()
	job.CompletedAt = &now
	return true
}

// List returns every job's snapshot in submission order.
func (q *Queue) List() []Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Snapshot, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.jobs[id].snapshot())
	}
	return out
}

// Stop signals the worker to stop after its current job and waits for it
// to exit. Queued jobs behind the current one are left in StatusQueued.
func (q *Queue) Stop() {
	q.cancel()
	<-q.doneCh
}
