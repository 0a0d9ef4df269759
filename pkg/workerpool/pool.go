// Package workerpool provides a bounded worker pool with per-task retries.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrStopped   = errors.New("pool is shutting down")
	ErrQueueFull = errors.New("task queue is full")
	// ErrPermanent marks handler errors that must not be retried.
	ErrPermanent = errors.New("permanent failure")
)

// Handler processes one task.
type Handler[T any] func(ctx context.Context, task T) error

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the task queue
	QueueSize int
	// MaxRetries is the maximum number of retries for failed tasks
	MaxRetries int
	// RetryDelay grows linearly with each attempt
	RetryDelay time.Duration
	// GracefulShutdownTimeout is the timeout for graceful shutdown
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for webhook dispatch.
func DefaultConfig() Config {
	return Config{
		Workers:                 4,
		QueueSize:               256,
		MaxRetries:              3,
		RetryDelay:              200 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

type job[T any] struct {
	ctx  context.Context
	task T
	done chan error
}

// Pool runs a Handler on a fixed number of workers.
type Pool[T any] struct {
	config  Config
	handler Handler[T]
	logger  *zap.Logger

	jobs     chan job[T]
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	tasksRetried   int64
	activeWorkers  int64
}

// New creates a new worker pool. Call Start before submitting.
func New[T any](cfg Config, fn Handler[T], logger *zap.Logger) (*Pool[T], error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = DefaultConfig().GracefulShutdownTimeout
	}

	return &Pool[T]{
		config:  cfg,
		handler: fn,
		logger:  logger,
		jobs:    make(chan job[T], cfg.QueueSize),
		stopped: make(chan struct{}),
	}, nil
}

// Start launches all workers
func (p *Pool[T]) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit queues a task without waiting for it. It fails fast with
// ErrQueueFull instead of blocking.
func (p *Pool[T]) Submit(ctx context.Context, task T) error {
	return p.enqueue(job[T]{ctx: ctx, task: task}, false)
}

// SubmitWait queues a task, waiting for queue space, and returns the
// handler's final error after retries.
func (p *Pool[T]) SubmitWait(ctx context.Context, task T) error {
	j := job[T]{ctx: ctx, task: task, done: make(chan error, 1)}
	if err := p.enqueue(j, true); err != nil {
		return err
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) enqueue(j job[T], block bool) error {
	select {
	case <-p.stopped:
		return ErrStopped
	default:
	}

	if !block {
		select {
		case p.jobs <- j:
			atomic.AddInt64(&p.tasksSubmitted, 1)
			return nil
		default:
			return ErrQueueFull
		}
	}

	select {
	case p.jobs <- j:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		return nil
	case <-p.stopped:
		return ErrStopped
	case <-j.ctx.Done():
		return j.ctx.Err()
	}
}

// Stop stops accepting tasks and waits for queued ones to finish, up to
// GracefulShutdownTimeout.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping worker pool")
		close(p.stopped)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("worker pool stopped gracefully")
		case <-time.After(p.config.GracefulShutdownTimeout):
			p.logger.Warn("worker pool shutdown timed out")
		}
	})
}

func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()

	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for {
		select {
		case j := <-p.jobs:
			p.run(id, j)
		case <-p.stopped:
			// drain what was queued before the stop
			for {
				select {
				case j := <-p.jobs:
					p.run(id, j)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool[T]) run(workerID int, j job[T]) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	err := p.attempt(ctx, j.task)
	if err == nil {
		atomic.AddInt64(&p.tasksCompleted, 1)
	} else {
		atomic.AddInt64(&p.tasksFailed, 1)
		p.logger.Error("task failed", zap.Int("worker_id", workerID), zap.Error(err))
	}
	if j.done != nil {
		j.done <- err
	}
}

func (p *Pool[T]) attempt(ctx context.Context, task T) error {
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = p.handler(ctx, task)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return lastErr
		}
		if attempt == p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.tasksRetried, 1)
		p.logger.Debug("retrying task", zap.Int("attempt", attempt+1), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}
	return fmt.Errorf("task failed after %d retries: %w", p.config.MaxRetries, lastErr)
}

// Stats returns current pool statistics
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
	ActiveWorkers  int64
	QueueDepth     int
	QueueCapacity  int
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		QueueDepth:     len(p.jobs),
		QueueCapacity:  p.config.QueueSize,
		Workers:        p.config.Workers,
	}
}

// IsHealthy returns true if the pool is operating normally
func (p *Pool[T]) IsHealthy() bool {
	stats := p.Stats()
	// Healthy if queue isn't backing up significantly
	return float64(stats.QueueDepth)/float64(stats.QueueCapacity) < 0.9
}
