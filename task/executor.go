package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"docconvert/storage"
)

// Executor drives one task at a time through the claim/convert/finalize
// state machine. It is shared by the automatic dispatcher and the drain
// worker; the atomic claim in the store is the sole mechanism preventing
// the two paths from processing the same task twice.
type Executor struct {
	store     *Store
	layout    *storage.Layout
	converter Converter
	timeout   time.Duration
	logger    *slog.Logger
}

func NewExecutor(store *Store, layout *storage.Layout, converter Converter, timeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		store:     store,
		layout:    layout,
		converter: converter,
		timeout:   timeout,
		logger:    logger.With("component", "executor"),
	}
}

// Process runs a single execution attempt for the given task. It reports
// whether this call claimed the task; false means another claimer already
// owns it, or the task no longer exists.
func (e *Executor) Process(ctx context.Context, id string) bool {
	t, err := e.store.Claim(id)
	if err != nil {
		if !errors.Is(err, ErrNotPending) && !errors.Is(err, ErrTaskNotFound) {
			e.logger.Error("claim failed", "task_id", id, "error", err)
		}
		return false
	}
	e.run(ctx, t)
	return true
}

// run executes a claimed task. Every fault, panics included, ends in a
// failed finalization: a background execution must never leave a task
// stuck in processing or crash the process.
func (e *Executor) run(ctx context.Context, t *Task) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during conversion", "task_id", t.ID, "panic", r)
			e.finalizeFailed(t.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	logger := e.logger.With("task_id", t.ID)
	logger.Info("processing task", "output_format", t.OutputFormat)

	inputPath, err := e.layout.FindInput(t.ID)
	if err != nil {
		e.finalizeFailed(t.ID, fmt.Sprintf("input file missing: %v", err))
		return
	}

	if err := e.store.SetProgress(t.ID, 40); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			// Deleted while we were starting up; drop the work.
			return
		}
		logger.Error("could not record progress", "error", err)
	}

	convCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	outputPath, err := e.converter.Convert(convCtx, ConvertRequest{
		TaskID:           t.ID,
		InputPath:        inputPath,
		OriginalFilename: t.OriginalFilename,
		OutputFormat:     t.OutputFormat,
	})
	if err != nil {
		logger.Warn("conversion failed", "error", err)
		e.finalizeFailed(t.ID, err.Error())
		return
	}

	if err := e.store.FinalizeDone(t.ID, outputPath); err != nil {
		switch {
		case errors.Is(err, ErrTaskNotFound):
			// Deleted mid-conversion. The late finalization is dropped and
			// the orphaned result file removed.
			logger.Info("task deleted mid-conversion, dropping result")
			os.Remove(outputPath)
		case errors.Is(err, ErrTerminal):
			logger.Warn("task already finalized")
		default:
			// The finalization write itself failed. Nothing to retry; make
			// sure operators see it.
			logger.Error("could not finalize task", "error", err)
		}
		return
	}
	logger.Info("task done", "result", outputPath)
}

func (e *Executor) finalizeFailed(id, msg string) {
	if err := e.store.FinalizeFailed(id, msg); err != nil {
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrTerminal) {
			return
		}
		e.logger.Error("could not record task failure", "task_id", id, "error", err)
	}
}

// DrainOnce processes every currently pending task serially and returns
// how many this call claimed. It is safe with zero pending tasks and safe
// to run concurrently with automatic dispatch.
func (e *Executor) DrainOnce(ctx context.Context) (int, error) {
	ids, err := e.store.ListPending()
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if e.Process(ctx, id) {
			processed++
		}
	}
	return processed, nil
}

// DrainLoop polls for pending tasks until the context is cancelled.
func (e *Executor) DrainLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := e.DrainOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("drain pass failed", "error", err)
		}
		if n > 0 {
			e.logger.Info("drain pass finished", "processed", n)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
