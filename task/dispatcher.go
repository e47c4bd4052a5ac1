package task

import (
	"context"
	"log/slog"
	"sync"

	"docconvert/events"
)

// Dispatcher subscribes to TaskCreated events and runs each task's single
// execution attempt on a background goroutine. Concurrency is bounded by a
// semaphore, and enqueueing never blocks the caller: the HTTP request that
// created a task returns before its conversion starts.
type Dispatcher struct {
	exec   *Executor
	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	logger *slog.Logger
}

func NewDispatcher(exec *Executor, maxConcurrency int, logger *slog.Logger) *Dispatcher {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Dispatcher{
		exec:   exec,
		sem:    make(chan struct{}, maxConcurrency),
		ctx:    context.Background(),
		logger: logger.With("component", "dispatcher"),
	}
}

// Start installs the lifetime context executions run under. Conversions
// deliberately outlive the request that created them, so executions are
// detached from request contexts and tied to this one instead.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx = ctx
}

// HandleTaskCreated schedules the task's one execution attempt and returns
// immediately. If the process shuts down before a slot frees up, the task
// simply stays pending for a later drain pass.
func (d *Dispatcher) HandleTaskCreated(_ context.Context, event events.TaskCreated) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case d.sem <- struct{}{}:
		case <-d.ctx.Done():
			d.logger.Info("shutting down before dispatch, task stays pending", "task_id", event.TaskID)
			return
		}
		defer func() { <-d.sem }()
		d.exec.Process(d.ctx, event.TaskID)
	}()
	return nil
}

// Wait blocks until every in-flight execution has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
