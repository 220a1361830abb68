// Package queue runs background analysis work (correlation, impact
// tracking, summaries) on a fixed pool of workers so LLM latency never
// blocks the watch or request paths.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of background work. The context is cancelled when
// the pool shuts down.
type Task func(ctx context.Context)

// queueDepth bounds the backlog. Submissions beyond it are dropped with
// a warning; analysis work is advisory and must never apply backpressure
// to event recording.
const queueDepth = 256

// Pool is a fixed-size worker pool with a bounded task backlog.
type Pool struct {
	tasks  chan Task
	logger *slog.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu        sync.Mutex
	started   bool
	stopped   bool
	processed int
	dropped   int
}

// NewPool creates a pool with the given number of workers.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		tasks:  make(chan Task, queueDepth),
		logger: logger.With("component", "worker_pool", "workers", workers),
	}
	p.startWorkers(workers)
	return p
}

func (p *Pool) startWorkers(workers int) {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.started = true

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("Worker pool started")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With("worker_id", id)

	for {
		select {
		case <-ctx.Done():
			log.Debug("Worker shutting down")
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(ctx, task, log)
		}
	}
}

func (p *Pool) execute(ctx context.Context, task Task, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Task panicked", "panic", fmt.Sprintf("%v", r))
		}
	}()

	start := time.Now()
	task(ctx)

	p.mu.Lock()
	p.processed++
	p.mu.Unlock()

	if d := time.Since(start); d > 30*time.Second {
		log.Warn("Slow background task", "duration", d)
	}
}

// Submit enqueues a task without blocking. It reports whether the task
// was accepted; a full backlog or a stopped pool drops the task.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return false
	}

	select {
	case p.tasks <- task:
		return true
	default:
		p.mu.Lock()
		p.dropped++
		dropped := p.dropped
		p.mu.Unlock()
		p.logger.Warn("Task backlog full, dropping", "dropped_total", dropped)
		return false
	}
}

// Stats returns processed and dropped task counts.
func (p *Pool) Stats() (processed, dropped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.dropped
}

// Stop cancels in-flight tasks and waits for the workers to exit. Safe
// to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()
		p.logger.Info("Worker pool stopped")
	})
}
