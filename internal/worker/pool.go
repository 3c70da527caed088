// Package worker runs session processing tasks on a bounded pool. The
// queue is a fixed-depth channel; when it is full, submission fails and the
// session stays pending for a later retry rather than blocking the webhook
// response.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned when the task queue cannot accept more work.
var ErrQueueFull = errors.New("task queue full")

// Task is a unit of background work. Name appears in logs only.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool executes tasks with per-task timeouts.
type Pool struct {
	tasks   chan Task
	workers int
	timeout time.Duration
	log     zerolog.Logger

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
	cancel  context.CancelFunc

	onDone func(name string, err error, elapsed time.Duration)
}

// New creates a pool with the given worker count, queue depth, and per-task
// timeout.
func New(workers, queueDepth int, timeout time.Duration, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = 16
	}
	return &Pool{
		tasks:   make(chan Task, queueDepth),
		workers: workers,
		timeout: timeout,
		log:     log.With().Str("component", "worker_pool").Logger(),
	}
}

// OnTaskDone installs a completion hook, used for metrics. Must be called
// before Start.
func (p *Pool) OnTaskDone(fn func(name string, err error, elapsed time.Duration)) {
	p.onDone = fn
}

// Start launches the workers. Safe to call once.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.log.Info().Int("workers", p.workers).Int("queue_depth", cap(p.tasks)).Msg("worker pool started")
}

// Submit enqueues a task without blocking. Returns ErrQueueFull when the
// queue is saturated.
func (p *Pool) Submit(task Task) error {
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth reports the number of queued tasks.
func (p *Pool) QueueDepth() int { return len(p.tasks) }

// QueueCapacity reports the queue size.
func (p *Pool) QueueCapacity() int { return cap(p.tasks) }

// Stop drains in-flight work and shuts the pool down. Queued but unstarted
// tasks are dropped; their sessions remain pending.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	close(p.tasks)
	p.wg.Wait()
	if cancel != nil {
		cancel()
	}
	p.log.Info().Msg("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for task := range p.tasks {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.execute(ctx, log, task)
	}
}

func (p *Pool) execute(ctx context.Context, log zerolog.Logger, task Task) {
	taskCtx := ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("task", task.Name).Msg("task panicked")
		}
	}()

	err := task.Run(taskCtx)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("task", task.Name).Dur("elapsed", elapsed).Msg("task failed")
	} else {
		log.Debug().Str("task", task.Name).Dur("elapsed", elapsed).Msg("task completed")
	}
	if p.onDone != nil {
		p.onDone(task.Name, err, elapsed)
	}
}
