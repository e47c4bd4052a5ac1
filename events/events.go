package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskCreated announces that a new conversion task exists and is eligible
// for dispatch. Creating the task row and scheduling its execution are
// deliberately decoupled through this event.
type TaskCreated struct {
	ID        uuid.UUID `json:"id"`
	TaskID    string    `json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTaskCreated builds a TaskCreated event for the given task.
func NewTaskCreated(taskID string) TaskCreated {
	return TaskCreated{
		ID:        uuid.New(),
		TaskID:    taskID,
		CreatedAt: time.Now().UTC(),
	}
}

// Handler processes TaskCreated events.
type Handler interface {
	HandleTaskCreated(ctx context.Context, event TaskCreated) error
}

// Emitter publishes TaskCreated events to whoever is subscribed. Emitting
// must never block on the execution the event triggers.
type Emitter interface {
	EmitTaskCreated(ctx context.Context, event TaskCreated) error
}

// InMemoryEmitter dispatches events to every registered handler. With no
// handlers registered it is a no-op, which is exactly what drain-only
// deployments want instead of suppressing dispatch by environment sniffing.
type InMemoryEmitter struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger
}

func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	return &InMemoryEmitter{
		logger: logger.With("component", "event_emitter"),
	}
}

// RegisterHandler subscribes a handler to future events.
func (e *InMemoryEmitter) RegisterHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// EmitTaskCreated delivers the event to all registered handlers. Every
// handler is invoked even when an earlier one fails; the first error is
// returned.
func (e *InMemoryEmitter) EmitTaskCreated(ctx context.Context, event TaskCreated) error {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.Debug("no handlers registered, task stays pending", "task_id", event.TaskID)
		return nil
	}

	var firstErr error
	for _, h := range handlers {
		if err := h.HandleTaskCreated(ctx, event); err != nil {
			e.logger.Error("event handler failed",
				"event_id", event.ID,
				"task_id", event.TaskID,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
