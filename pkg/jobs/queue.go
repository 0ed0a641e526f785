// Package jobs runs background work on an in-process worker pool.
package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NoRetry disables redelivery of failed jobs when used as QueueConfig.MaxRetries.
const NoRetry = -1

var (
	// ErrQueueClosed is returned when enqueuing before Start or after Stop began.
	ErrQueueClosed = errors.New("jobs: queue is not accepting work")
	// ErrQueueFull is returned when the buffer is saturated.
	ErrQueueFull = errors.New("jobs: queue is full")
)

// Job represents a queued background task.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	// MaxRetries of 0 selects the default (3); NoRetry drops failed jobs after the first attempt.
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	OnFailure  func(Job, error)
}

type queueState int32

const (
	stateIdle queueState = iota
	stateRunning
	stateDraining
)

// Queue dispatches jobs to a fixed set of goroutines. Enqueue never blocks.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig

	jobs    chan Job
	pending int64
	state   int32

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue builds a queue; call Start before enqueuing.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 16
	}
	switch {
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{name: name, handler: handler, cfg: cfg, jobs: make(chan Job, cfg.BufferSize)}
}

// Start launches the workers. Calls after the first are ignored.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if queueState(atomic.LoadInt32(&q.state)) != stateIdle {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	atomic.StoreInt32(&q.state, int32(stateRunning))
	q.cfg.Logger.Info("queue started",
		zap.String("queue", q.name),
		zap.Int("workers", q.cfg.Workers),
		zap.Int("max_retries", q.cfg.MaxRetries))
}

// Stop refuses new jobs, lets workers finish what is buffered until ctx
// expires, then cancels them and waits for exit.
func (q *Queue) Stop(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&q.state, int32(stateRunning), int32(stateDraining)) {
		return
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
drain:
	for atomic.LoadInt64(&q.pending) > 0 {
		select {
		case <-ctx.Done():
			q.cfg.Logger.Warn("queue stopped with pending jobs",
				zap.String("queue", q.name),
				zap.Int64("pending", atomic.LoadInt64(&q.pending)))
			break drain
		case <-ticker.C:
		}
	}

	q.cancel()
	q.wg.Wait()
	q.cfg.Logger.Info("queue stopped", zap.String("queue", q.name))
}

// Pending reports jobs enqueued or awaiting retry that have not completed.
func (q *Queue) Pending() int {
	return int(atomic.LoadInt64(&q.pending))
}

// Enqueue assigns an ID when missing and buffers the job.
func (q *Queue) Enqueue(job Job) error {
	if queueState(atomic.LoadInt32(&q.state)) != stateRunning {
		return ErrQueueClosed
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	atomic.AddInt64(&q.pending, 1)
	if !q.push(job) {
		atomic.AddInt64(&q.pending, -1)
		return ErrQueueFull
	}
	return nil
}

func (q *Queue) push(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.process(job)
		}
	}
}

func (q *Queue) process(job Job) {
	err := q.handler(q.ctx, job)
	if err == nil {
		atomic.AddInt64(&q.pending, -1)
		return
	}

	job.Attempt++
	fields := []zap.Field{
		zap.String("queue", q.name),
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.Error(err),
	}
	if job.Attempt > q.cfg.MaxRetries {
		atomic.AddInt64(&q.pending, -1)
		q.cfg.Logger.Error("job failed", fields...)
		if q.cfg.OnFailure != nil {
			q.cfg.OnFailure(job, err)
		}
		return
	}

	q.cfg.Logger.Warn("job failed, retrying", fields...)
	q.wg.Add(1)
	go q.retry(job)
}

func (q *Queue) retry(job Job) {
	defer q.wg.Done()
	timer := time.NewTimer(q.cfg.RetryDelay)
	defer timer.Stop()

	select {
	case <-q.ctx.Done():
		atomic.AddInt64(&q.pending, -1)
	case <-timer.C:
		if !q.push(job) {
			atomic.AddInt64(&q.pending, -1)
			q.cfg.Logger.Error("failed to requeue job", zap.String("queue", q.name), zap.String("job_id", job.ID))
		}
	}
}
