package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"baton/internal/redact"
)

// Entry records one tool dispatch.
type Entry struct {
	ID       string         `json:"id"`
	Time     time.Time      `json:"time"`
	TaskID   string         `json:"task_id"`
	Tool     string         `json:"tool"`
	Kind     string         `json:"kind,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Decision string         `json:"decision,omitempty"`
	Result   string         `json:"result,omitempty"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"-"`
}

// NewEntry starts an entry for a dispatch about to run.
func NewEntry(taskID, tool, kind string, args map[string]any) *Entry {
	return &Entry{
		ID:     uuid.New().String(),
		Time:   time.Now(),
		TaskID: taskID,
		Tool:   tool,
		Kind:   kind,
		Args:   args,
	}
}

// Complete fills in the outcome fields after execution.
func (e *Entry) Complete(result string, success bool, errMsg string, duration time.Duration) {
	e.Result = result
	e.Success = success
	e.Error = errMsg
	e.Duration = duration
}

func (e *Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	return json.Marshal(&struct {
		*alias
		DurationMs int64 `json:"duration_ms"`
	}{
		alias:      (*alias)(e),
		DurationMs: e.Duration.Milliseconds(),
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	type alias Entry
	aux := &struct {
		*alias
		DurationMs int64 `json:"duration_ms"`
	}{
		alias: (*alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	e.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}

// Filter selects entries for Query.
type Filter struct {
	Tool    string
	TaskID  string
	Success *bool
	Since   time.Time
	Until   time.Time
	Limit   int
}

func (e *Entry) matches(f Filter) bool {
	if f.Tool != "" && e.Tool != f.Tool {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Time.After(f.Until) {
		return false
	}
	return true
}

// sanitizeArgs masks credential-shaped values before an entry is stored.
func sanitizeArgs(r *redact.Redactor, args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	return r.RedactMap(args)
}

// truncateResult keeps stored results bounded.
func truncateResult(result string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 1000
	}
	if len(result) <= maxLen {
		return result
	}
	return result[:maxLen] + "...[truncated]"
}
