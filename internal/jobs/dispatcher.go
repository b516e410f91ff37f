package jobs

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue full")

// ErrStopped is returned by Submit after the dispatcher has been stopped.
var ErrStopped = errors.New("dispatcher stopped")

// Task is the body of one background job. It owns every resource it opens.
type Task func(ctx context.Context)

// Dispatcher runs submitted tasks on a fixed pool of worker goroutines fed by a
// bounded queue. Request handlers only keep the job id; the task does the rest.
type Dispatcher struct {
	tasks   chan Task
	workers int
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher creates a Dispatcher with the given pool and queue sizes.
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Dispatcher{
		tasks:   make(chan Task, queueSize),
		workers: workers,
	}
}

// Start launches the workers. Every task receives ctx; once it is cancelled,
// tasks still in the queue run with the cancelled ctx so they can record why
// they did not finish. Workers exit after Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	for range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx)
	}
}

// Submit enqueues a task without blocking.
func (d *Dispatcher) Submit(t Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	select {
	case d.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight and queued tasks to finish.
// Cancel the Start context first to make queued tasks end quickly.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.tasks)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context) {
	defer d.wg.Done()
	for t := range d.tasks {
		d.execute(ctx, t)
	}
}

func (d *Dispatcher) execute(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job task", "error", r, "stack", string(debug.Stack()))
		}
	}()
	t(ctx)
}
