// Package notify carries outward notifications from the agent loop to the
// host application. The host drains a single channel; producers never block
// the loop on a slow consumer.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"baton/internal/logging"
)

// Kind identifies the type of a notification.
type Kind string

const (
	KindHistoryUpdate   Kind = "history-update"
	KindStreamToken     Kind = "stream-token"
	KindStreamThinking  Kind = "stream-thinking"
	KindArtifactCreated Kind = "artifact-created"
	KindConfirmRequest  Kind = "confirm-request"
	KindContextSwitched Kind = "context-switched"
	KindDone            Kind = "done"
	KindError           Kind = "error"
	KindAborted         Kind = "aborted"
)

// Notification is a single event delivered to the host. Exactly one payload
// pointer is set, matching Kind; Seq is a bus-wide monotonic sequence number.
type Notification struct {
	Kind   Kind
	TaskID string
	Seq    uint64
	Time   time.Time

	History  *HistoryUpdate
	Token    *Token
	Artifact *Artifact
	Confirm  *ConfirmRequest
	Switch   *ContextSwitch
	Failure  *Failure
}

// HistoryUpdate reports that a task's conversation history changed.
type HistoryUpdate struct {
	Revision uint64 // strictly increasing per task
	Role     string
	Preview  string // first line of the appended entry, may be truncated
	Entries  int    // total history length after the update
}

// Token is an incremental streamed fragment of assistant output.
type Token struct {
	Text string
}

// Artifact reports a file the agent created or overwrote in the workspace.
type Artifact struct {
	Path      string
	Operation string // "create" or "overwrite"
	Bytes     int
	Diff      string // unified diff preview for overwrites, empty for creates
}

// ConfirmRequest asks the host to approve or deny a gated tool execution.
type ConfirmRequest struct {
	ID          string
	Tool        string
	Description string
	Args        map[string]any
	ExpiresAt   time.Time
}

// ContextSwitch reports that work moved from one task id to another.
type ContextSwitch struct {
	From   string
	To     string
	Reason string
}

// Failure carries a terminal error surfaced to the user.
type Failure struct {
	Message string
	Cause   string
}

// Bus fans notifications out to the host over a buffered channel. Publishing
// never blocks; if the buffer is full the notification is dropped and
// counted. Stream tokens are the only kind expected to drop in practice.
type Bus struct {
	mu      sync.Mutex
	ch      chan Notification
	closed  bool
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewBus creates a Bus with the given buffer size (default 4096).
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Bus{ch: make(chan Notification, bufferSize)}
}

// Notifications returns the read-only channel the host drains. The channel
// is closed by Close.
func (b *Bus) Notifications() <-chan Notification {
	return b.ch
}

// Dropped reports how many notifications were discarded on a full buffer.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the notification channel. Safe to call multiple times;
// publishes after Close are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}

func (b *Bus) publish(n Notification) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	n.Seq = b.seq.Add(1)
	n.Time = time.Now()
	select {
	case b.ch <- n:
		return true
	default:
		b.dropped.Add(1)
		if n.Kind != KindStreamToken && n.Kind != KindStreamThinking {
			logging.Warn("notification dropped on full buffer", "kind", n.Kind, "task", n.TaskID)
		}
		return false
	}
}

// HistoryUpdate publishes a history-update for taskID.
func (b *Bus) HistoryUpdate(taskID string, h HistoryUpdate) {
	b.publish(Notification{Kind: KindHistoryUpdate, TaskID: taskID, History: &h})
}

// StreamToken publishes an incremental assistant text fragment.
func (b *Bus) StreamToken(taskID, text string) {
	b.publish(Notification{Kind: KindStreamToken, TaskID: taskID, Token: &Token{Text: text}})
}

// StreamThinking publishes an incremental reasoning fragment.
func (b *Bus) StreamThinking(taskID, text string) {
	b.publish(Notification{Kind: KindStreamThinking, TaskID: taskID, Token: &Token{Text: text}})
}

// ArtifactCreated publishes a workspace write.
func (b *Bus) ArtifactCreated(taskID string, a Artifact) {
	b.publish(Notification{Kind: KindArtifactCreated, TaskID: taskID, Artifact: &a})
}

// ConfirmRequest publishes a pending confirmation the host must answer.
func (b *Bus) ConfirmRequest(taskID string, c ConfirmRequest) {
	b.publish(Notification{Kind: KindConfirmRequest, TaskID: taskID, Confirm: &c})
}

// ContextSwitched publishes a task id change (recovery rebind or takeover).
func (b *Bus) ContextSwitched(taskID string, s ContextSwitch) {
	b.publish(Notification{Kind: KindContextSwitched, TaskID: taskID, Switch: &s})
}

// Done publishes normal completion of a submission.
func (b *Bus) Done(taskID string) {
	b.publish(Notification{Kind: KindDone, TaskID: taskID})
}

// Error publishes a terminal failure for a submission.
func (b *Bus) Error(taskID, message, cause string) {
	b.publish(Notification{Kind: KindError, TaskID: taskID, Failure: &Failure{Message: message, Cause: cause}})
}

// Aborted publishes that a task was cancelled before completion.
func (b *Bus) Aborted(taskID string) {
	b.publish(Notification{Kind: KindAborted, TaskID: taskID})
}
