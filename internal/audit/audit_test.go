package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := New(t.TempDir(), "session-1", DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := newTestLog(t)

	for _, tool := range []string{"read_file", "write_file", "run_command"} {
		e := NewEntry("task-1", tool, "builtin", map[string]any{"path": "/tmp/x"})
		e.Complete("ok", true, "", 5*time.Millisecond)
		l.Record(e)
	}
	l.Flush()

	recent := l.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(recent))
	}
	if recent[0].Tool != "run_command" || recent[1].Tool != "write_file" {
		t.Errorf("Recent order wrong: %s, %s", recent[0].Tool, recent[1].Tool)
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	l := newTestLog(t)

	e := NewEntry("task-1", "run_command", "builtin", map[string]any{
		"command": "curl -H 'Authorization: Bearer sk-ant-REDACTED'",
	})
	e.Complete("exported API_KEY=sk-ant-REDACTED", true, "", time.Millisecond)
	l.Record(e)
	l.Flush()

	got := l.Recent(1)[0]
	if cmd, _ := got.Args["command"].(string); strings.Contains(cmd, "sk-ant-abcdefghij") {
		t.Errorf("args still contain the key: %q", cmd)
	}
	if strings.Contains(got.Result, "sk-ant-abcdefghij") {
		t.Errorf("result still contains the key: %q", got.Result)
	}
}

func TestQueryFilters(t *testing.T) {
	l := newTestLog(t)

	ok := NewEntry("task-1", "read_file", "builtin", nil)
	ok.Complete("ok", true, "", time.Millisecond)
	l.Record(ok)

	failed := NewEntry("task-2", "run_command", "builtin", nil)
	failed.Complete("", false, "exit status 1", time.Millisecond)
	l.Record(failed)
	l.Flush()

	f := false
	failures := l.Query(Filter{Success: &f})
	if len(failures) != 1 || failures[0].Tool != "run_command" {
		t.Errorf("Query(success=false) = %v", failures)
	}
	byTask := l.Query(Filter{TaskID: "task-1"})
	if len(byTask) != 1 || byTask[0].Tool != "read_file" {
		t.Errorf("Query(task-1) = %v", byTask)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "s", DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e := NewEntry("task-1", "glob", "builtin", map[string]any{"pattern": "**/*.go"})
	e.Complete("3 files", true, "", time.Millisecond)
	l.Record(e)
	l.Flush()

	reopened, err := New(dir, "s", DefaultConfig())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.Recent(1); len(got) != 1 || got[0].Tool != "glob" {
		t.Fatalf("reopened log lost entries: %v", got)
	}
	if got := reopened.Recent(1)[0].Duration; got != time.Millisecond {
		t.Errorf("duration lost on round trip: %v", got)
	}
}

func TestDisabledLogIsInert(t *testing.T) {
	l, err := New(t.TempDir(), "s", Config{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Record(NewEntry("t", "read_file", "builtin", nil))
	l.Flush()
	if got := l.Recent(10); got != nil {
		t.Errorf("disabled log returned entries: %v", got)
	}
}

func TestStats(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 3; i++ {
		e := NewEntry("t", "read_file", "builtin", nil)
		e.Complete("ok", true, "", 10*time.Millisecond)
		l.Record(e)
	}
	bad := NewEntry("t", "run_command", "builtin", nil)
	bad.Complete("", false, "denied", 2*time.Millisecond)
	l.Record(bad)
	l.Flush()

	stats := l.Stats()
	if stats.Total != 4 || stats.SuccessCount != 3 || stats.ErrorCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ToolBreakdown["read_file"] != 3 {
		t.Errorf("breakdown = %v", stats.ToolBreakdown)
	}
}

func TestFileIsValidJSON(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "s", DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e := NewEntry("t", "read_file", "builtin", nil)
	e.Complete("ok", true, "", time.Millisecond)
	l.Record(e)
	l.Flush()

	data, err := os.ReadFile(filepath.Join(dir, "audit", "s.json"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("audit file is not valid JSON: %v", err)
	}
}
