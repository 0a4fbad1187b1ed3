// Package task owns the per-task conversation contexts: isolated history,
// a cancellation handle, and liveness timestamps. The registry enforces
// at most one active loop per task id.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"baton/internal/logging"
)

// DefaultTaskID is the explicit id shared by task-less submissions.
const DefaultTaskID = "default"

// BusyError reports a submission against a task id that is already running
// and not stale.
type BusyError struct {
	TaskID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("task %s is busy", e.TaskID)
}

// Task is one isolated conversational thread. History is owned exclusively
// by the loop instance driving the task; the registry never touches it.
type Task struct {
	ID        string
	History   []*genai.Content
	Ctx       context.Context
	StartedAt time.Time

	cancel context.CancelFunc

	mu           sync.Mutex
	lastActivity time.Time
}

// Touch records activity, deferring staleness.
func (t *Task) Touch() {
	t.mu.Lock()
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// LastActivity returns the most recent Touch time.
func (t *Task) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

// Cancel aborts the task's context.
func (t *Task) Cancel() {
	t.cancel()
}

// Cancelled reports whether the task's context has been cancelled.
func (t *Task) Cancelled() bool {
	return t.Ctx.Err() != nil
}

// Registry tracks the active tasks.
type Registry struct {
	mu         sync.Mutex
	active     map[string]*Task
	staleAfter time.Duration
}

// NewRegistry creates a Registry. Tasks inactive longer than staleAfter may
// be force-reset by a new submission to the same id.
func NewRegistry(staleAfter time.Duration) *Registry {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Registry{
		active:     make(map[string]*Task),
		staleAfter: staleAfter,
	}
}

// NewID returns a fresh task id.
func (r *Registry) NewID() string {
	return uuid.NewString()
}

// Acquire activates a task for id, which defaults to DefaultTaskID when
// empty. If the id is already active the call fails with BusyError, unless
// the holder is stale, in which case it is cancelled and replaced.
func (r *Registry) Acquire(parent context.Context, id string) (*Task, error) {
	if id == "" {
		id = DefaultTaskID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[id]; ok {
		idle := time.Since(existing.LastActivity())
		if idle <= r.staleAfter {
			return nil, &BusyError{TaskID: id}
		}
		logging.Warn("force-resetting stale task", "task", id, "idle", idle.Round(time.Second))
		existing.cancel()
		delete(r.active, id)
	}

	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	t := &Task{
		ID:           id,
		Ctx:          ctx,
		cancel:       cancel,
		StartedAt:    now,
		lastActivity: now,
	}
	r.active[id] = t
	return t, nil
}

// Release removes id from the active set and cancels its context. The loop
// calls this on every terminal outcome.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	t, ok := r.active[id]
	if ok {
		delete(r.active, id)
	}
	r.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// Abort cancels the task's context without releasing it; the owning loop
// observes the cancellation and releases on exit. Reports whether the id
// was active.
func (r *Registry) Abort(id string) bool {
	r.mu.Lock()
	t, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// AbortAll cancels every active task.
func (r *Registry) AbortAll() {
	r.mu.Lock()
	tasks := make([]*Task, 0, len(r.active))
	for _, t := range r.active {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()
	for _, t := range tasks {
		t.cancel()
	}
}

// Get returns the active task for id, if any.
func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.active[id]
	return t, ok
}

// Active lists the ids of the running tasks.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}
