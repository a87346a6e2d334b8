// Package worker runs fire-and-forget tasks on a fixed set of goroutines
// fed by a bounded queue. When the queue is full, submissions are dropped
// rather than blocking the caller.
package worker

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	tasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tusk_worker_tasks_submitted_total",
		Help: "Tasks accepted by the worker pool",
	})
	tasksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tusk_worker_tasks_dropped_total",
		Help: "Tasks dropped because the worker pool queue was full or stopped",
	})
	taskPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tusk_worker_task_panics_total",
		Help: "Tasks that panicked",
	})
)

// Task is a unit of background work. The context is cancelled when the pool stops.
type Task func(ctx context.Context)

// Pool is a bounded pool of workers.
type Pool struct {
	workers int
	queue   chan Task
	log     zerolog.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a pool with the given number of workers and queue capacity.
// Nothing runs until Start is called.
func New(workers, queueSize int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Pool{
		workers: workers,
		queue:   make(chan Task, queueSize),
		log:     log.With().Str("component", "worker").Logger(),
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.log.Info().Int("workers", p.workers).Int("queue", cap(p.queue)).Msg("Worker pool started")
}

// Submit queues a task without blocking. It returns false when the queue is
// full or the pool has been stopped; the task is then dropped.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		tasksDropped.Inc()
		p.log.Warn().Msg("Worker pool stopped, task dropped")
		return false
	}

	select {
	case p.queue <- task:
		tasksSubmitted.Inc()
		return true
	default:
		tasksDropped.Inc()
		p.log.Warn().Int("queue", cap(p.queue)).Msg("Worker pool queue full, task dropped")
		return false
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Stop drains queued tasks, waits for the workers to finish and then
// cancels the task context. It is safe to call more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		return
	}
	p.wg.Wait()
	p.cancel()
	p.log.Info().Msg("Worker pool stopped")
}

func (p *Pool) run(ctx context.Context, idx int) {
	defer p.wg.Done()
	for task := range p.queue {
		p.execute(ctx, idx, task)
	}
}

func (p *Pool) execute(ctx context.Context, idx int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			taskPanics.Inc()
			p.log.Error().Int("worker", idx).Interface("panic", r).Msg("Task panicked")
		}
	}()
	task(ctx)
}
