// Package confirm tracks interactive approval requests. Each request lives
// in a correlation table keyed by a unique id and is resolved exactly once
// with a typed outcome; the table enforces single resolution, not callers.
package confirm

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"baton/internal/logging"
)

// Outcome is the terminal state of a confirmation.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
	OutcomeExpired  Outcome = "expired"
)

// ErrUnknown is returned when resolving an id that does not exist or was
// already resolved.
var ErrUnknown = errors.New("unknown or already resolved confirmation")

// Request describes what the user is being asked to approve.
type Request struct {
	ID          string
	TaskID      string
	Tool        string
	Description string
	Args        map[string]any
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type pending struct {
	req   Request
	ch    chan Outcome
	timer *time.Timer
}

// Table is the confirmation correlation table. A zero timeout disables
// automatic expiry.
type Table struct {
	mu         sync.Mutex
	entries    map[string]*pending
	remembered map[string]Outcome
	timeout    time.Duration
	maxCached  int
}

// NewTable creates a Table whose requests expire after timeout.
func NewTable(timeout time.Duration) *Table {
	return &Table{
		entries:    make(map[string]*pending),
		remembered: make(map[string]Outcome),
		timeout:    timeout,
		maxCached:  1000,
	}
}

// Create registers a new pending confirmation and returns it together with
// the channel its outcome will be delivered on. The channel receives exactly
// one value.
func (t *Table) Create(taskID, tool, description string, args map[string]any) (Request, <-chan Outcome) {
	now := time.Now()
	req := Request{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Tool:        tool,
		Description: description,
		Args:        args,
		CreatedAt:   now,
	}
	p := &pending{req: req, ch: make(chan Outcome, 1)}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timeout > 0 {
		req.ExpiresAt = now.Add(t.timeout)
		p.req.ExpiresAt = req.ExpiresAt
		id := req.ID
		p.timer = time.AfterFunc(t.timeout, func() {
			if err := t.Resolve(id, OutcomeExpired); err == nil {
				logging.Warn("confirmation expired", "id", id, "tool", tool)
			}
		})
	}
	t.entries[req.ID] = p
	return p.req, p.ch
}

// Resolve delivers the outcome for id and removes the entry. A second
// resolution of the same id fails with ErrUnknown.
func (t *Table) Resolve(id string, outcome Outcome) error {
	t.mu.Lock()
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return ErrUnknown
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- outcome
	return nil
}

// AbortTask resolves every pending confirmation belonging to taskID as
// denied. Used when the task is cancelled.
func (t *Table) AbortTask(taskID string) {
	t.abort(func(r Request) bool { return r.TaskID == taskID })
}

// AbortAll resolves every pending confirmation as denied.
func (t *Table) AbortAll() {
	t.abort(func(Request) bool { return true })
}

func (t *Table) abort(match func(Request) bool) {
	t.mu.Lock()
	var doomed []*pending
	for id, p := range t.entries {
		if match(p.req) {
			doomed = append(doomed, p)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, p := range doomed {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- OutcomeDenied
	}
}

// Pending lists the unresolved requests, for display.
func (t *Table) Pending() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Request, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, p.req)
	}
	return out
}

// Remember caches a user decision so identical invocations skip the prompt
// for the rest of the session.
func (t *Table) Remember(tool string, args map[string]any, outcome Outcome) {
	key := cacheKey(tool, args)
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.remembered) >= t.maxCached {
		evict := t.maxCached / 2
		for k := range t.remembered {
			if evict == 0 {
				break
			}
			delete(t.remembered, k)
			evict--
		}
	}
	t.remembered[key] = outcome
}

// Remembered reports a cached decision for an identical invocation, if any.
func (t *Table) Remembered(tool string, args map[string]any) (Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.remembered[cacheKey(tool, args)]
	return o, ok
}

// cacheKey differentiates invocations that must not share a cached decision:
// shell commands by command hash, file writes by path.
func cacheKey(tool string, args map[string]any) string {
	switch tool {
	case "run_command":
		if cmd, ok := args["command"].(string); ok {
			sum := sha256.Sum256([]byte(cmd))
			return fmt.Sprintf("%s:%x", tool, sum[:8])
		}
	case "write_file":
		if path, ok := args["path"].(string); ok {
			return fmt.Sprintf("%s:%s", tool, path)
		}
	}
	return tool
}
