package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"

	"baton/internal/client"
	"baton/internal/config"
	"baton/internal/confirm"
	"baton/internal/notify"
	"baton/internal/session"
	"baton/internal/task"
)

// scriptedReply is one SendContents outcome: an error, a chunk sequence,
// or a hold that parks the call until its context is cancelled.
type scriptedReply struct {
	err    error
	hold   bool
	chunks []client.ResponseChunk
}

func textReply(text string) scriptedReply {
	return scriptedReply{chunks: []client.ResponseChunk{
		{Text: text},
		{Done: true, Parts: []*genai.Part{genai.NewPartFromText(text)}, Stop: client.StopEndTurn},
	}}
}

func toolReply(calls ...*genai.FunctionCall) scriptedReply {
	parts := make([]*genai.Part, len(calls))
	for i, fc := range calls {
		parts[i] = &genai.Part{FunctionCall: fc}
	}
	return scriptedReply{chunks: []client.ResponseChunk{
		{Done: true, Parts: parts, FunctionCalls: calls, Stop: client.StopToolUse},
	}}
}

func holdReply() scriptedReply { return scriptedReply{hold: true} }

// fakeBackend scripts SendContents outcomes and records each history it
// was handed. entered receives one token per call so tests can wait for
// the loop to reach the backend.
type fakeBackend struct {
	mu       sync.Mutex
	replies  []scriptedReply
	fallback *scriptedReply
	sent     [][]*genai.Content
	entered  chan struct{}
	closed   bool
}

func newFakeBackend(replies ...scriptedReply) *fakeBackend {
	return &fakeBackend{replies: replies, entered: make(chan struct{}, 8)}
}

func (f *fakeBackend) SendContents(ctx context.Context, history []*genai.Content) (*client.StreamingResponse, error) {
	f.mu.Lock()
	snapshot := make([]*genai.Content, len(history))
	copy(snapshot, history)
	f.sent = append(f.sent, snapshot)
	idx := len(f.sent) - 1

	var reply scriptedReply
	switch {
	case idx < len(f.replies):
		reply = f.replies[idx]
	case f.fallback != nil:
		reply = *f.fallback
	default:
		reply = scriptedReply{err: errors.New("unscripted backend call")}
	}
	f.mu.Unlock()

	select {
	case f.entered <- struct{}{}:
	default:
	}

	if reply.hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if reply.err != nil {
		return nil, reply.err
	}
	ch := make(chan client.ResponseChunk, len(reply.chunks))
	done := make(chan struct{})
	for _, c := range reply.chunks {
		ch <- c
	}
	close(ch)
	close(done)
	return &client.StreamingResponse{Chunks: ch, Done: done}, nil
}

func (f *fakeBackend) SendMessage(context.Context, string) (*client.StreamingResponse, error) {
	return nil, errors.New("not used by the runtime")
}

func (f *fakeBackend) SendMessageWithHistory(context.Context, []*genai.Content, string) (*client.StreamingResponse, error) {
	return nil, errors.New("not used by the runtime")
}

func (f *fakeBackend) SendFunctionResponse(context.Context, []*genai.Content, []*genai.FunctionResponse) (*client.StreamingResponse, error) {
	return nil, errors.New("not used by the runtime")
}

func (f *fakeBackend) SetTools([]*genai.Tool)      {}
func (f *fakeBackend) SetSystemInstruction(string) {}
func (f *fakeBackend) GetModel() string            { return "fake-model" }
func (f *fakeBackend) SetModel(string)             {}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) sentHistories() [][]*genai.Content {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Backend.APIKey = "test-key"
	cfg.Session.Dir = filepath.Join(t.TempDir(), "sessions")
	cfg.Skills.Enabled = false
	cfg.Bridge.Enabled = false
	cfg.Audit.Enabled = false
	cfg.Heal.Enabled = false
	cfg.Hooks.Enabled = false
	return cfg, t.TempDir()
}

// newTestRuntime builds a Runtime over a temp workspace and swaps in the
// fake backend before anything runs.
func newTestRuntime(t *testing.T, fb *fakeBackend) (*Runtime, string) {
	t.Helper()
	cfg, work := testConfig(t)
	r, err := New(cfg, work, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.mu.Lock()
	r.backend.Close()
	r.backend = fb
	r.mu.Unlock()
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return r, work
}

// waitFor drains notifications until kind arrives, returning everything
// seen up to and including it.
func waitFor(t *testing.T, ch <-chan notify.Notification, kind notify.Kind) []notify.Notification {
	t.Helper()
	deadline := time.After(5 * time.Second)
	var seen []notify.Notification
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("bus closed before %s (saw %d notifications)", kind, len(seen))
			}
			seen = append(seen, n)
			if n.Kind == kind {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s (saw %d notifications)", kind, len(seen))
		}
	}
}

func ofKind(ns []notify.Notification, kind notify.Kind) []notify.Notification {
	var out []notify.Notification
	for _, n := range ns {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// submitEventually retries over the short window between a task's done
// notification and its registry release.
func submitEventually(t *testing.T, r *Runtime, sub Submission) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		id, err := r.Submit(sub)
		if err == nil {
			return id
		}
		var busy *task.BusyError
		if !errors.As(err, &busy) {
			t.Fatalf("Submit: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("task stayed busy: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitWritesFileThroughRealDispatcher(t *testing.T) {
	fb := newFakeBackend(
		toolReply(&genai.FunctionCall{ID: "toolu_1", Name: "write_file", Args: map[string]any{
			"path":    "index.html",
			"content": "<html>hi</html>",
		}}),
		textReply("Created index.html"),
	)
	r, work := newTestRuntime(t, fb)
	ch := r.Notifications()

	id, err := r.Submit(Submission{Text: "make a page"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != task.DefaultTaskID {
		t.Errorf("task id = %q, want %q", id, task.DefaultTaskID)
	}

	seen := waitFor(t, ch, notify.KindDone)
	r.Shutdown()

	data, err := os.ReadFile(filepath.Join(work, "index.html"))
	if err != nil {
		t.Fatalf("written file: %v", err)
	}
	if string(data) != "<html>hi</html>" {
		t.Errorf("file content = %q", data)
	}

	arts := ofKind(seen, notify.KindArtifactCreated)
	if len(arts) != 1 || arts[0].Artifact.Path != "index.html" {
		t.Errorf("artifact notifications = %+v", arts)
	}

	infos, err := r.Transcripts()
	if err != nil {
		t.Fatalf("Transcripts: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != task.DefaultTaskID || infos[0].Entries != 4 {
		t.Errorf("transcripts = %+v", infos)
	}
}

func TestSubmitProjectScopesFiles(t *testing.T) {
	fb := newFakeBackend(
		toolReply(&genai.FunctionCall{ID: "toolu_1", Name: "write_file", Args: map[string]any{
			"path":    "index.html",
			"content": "<html>site</html>",
		}}),
		textReply("done"),
	)
	r, work := newTestRuntime(t, fb)
	ch := r.Notifications()

	if _, err := r.Submit(Submission{Text: "make a page", Project: "site-a"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, ch, notify.KindDone)
	r.Shutdown()

	if _, err := os.Stat(filepath.Join(work, "site-a", "index.html")); err != nil {
		t.Errorf("file not scoped to project dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "index.html")); err == nil {
		t.Error("file leaked into the workspace root")
	}
}

func TestSubmitRejectsEmpty(t *testing.T) {
	r, _ := newTestRuntime(t, newFakeBackend())
	defer r.Shutdown()

	if _, err := r.Submit(Submission{Text: "   "}); err == nil {
		t.Error("blank submission accepted")
	}
}

func TestSubmitBusyTask(t *testing.T) {
	fb := newFakeBackend(holdReply())
	r, _ := newTestRuntime(t, fb)
	ch := r.Notifications()

	if _, err := r.Submit(Submission{Text: "first", TaskID: "job"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-fb.entered

	_, err := r.Submit(Submission{Text: "second", TaskID: "job"})
	var busy *task.BusyError
	if !errors.As(err, &busy) || busy.TaskID != "job" {
		t.Fatalf("err = %v, want BusyError for job", err)
	}

	r.Abort("job")
	waitFor(t, ch, notify.KindAborted)
	r.Shutdown()
}

func TestAbortCancelsRunningTask(t *testing.T) {
	fb := newFakeBackend(holdReply())
	r, _ := newTestRuntime(t, fb)
	ch := r.Notifications()

	if _, err := r.Submit(Submission{Text: "spin", TaskID: "job"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-fb.entered

	if !r.Abort("job") {
		t.Error("Abort reported no task cancelled")
	}
	seen := waitFor(t, ch, notify.KindAborted)
	if seen[len(seen)-1].TaskID != "job" {
		t.Errorf("aborted task = %q", seen[len(seen)-1].TaskID)
	}
	r.Shutdown()

	if active := r.Active(); len(active) != 0 {
		t.Errorf("active after abort = %v", active)
	}
}

func TestConfirmResolvesAndRemembers(t *testing.T) {
	r, _ := newTestRuntime(t, newFakeBackend())
	defer r.Shutdown()

	args := map[string]any{"command": "rm -rf build"}
	req, outcomeCh := r.confirms.Create("job", "run_command", "Run: rm -rf build", args)

	if err := r.Confirm(req.ID, true, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got := <-outcomeCh; got != confirm.OutcomeApproved {
		t.Errorf("outcome = %v", got)
	}
	if got, ok := r.confirms.Remembered("run_command", args); !ok || got != confirm.OutcomeApproved {
		t.Errorf("remembered = (%v, %v)", got, ok)
	}

	if err := r.Confirm("nope", false, false); !errors.Is(err, confirm.ErrUnknown) {
		t.Errorf("unknown id err = %v", err)
	}
}

func TestUpdateBackendSwapsClient(t *testing.T) {
	fb := newFakeBackend()
	r, _ := newTestRuntime(t, fb)
	defer r.Shutdown()

	var built int
	replacement := newFakeBackend()
	r.newClient = func(config.Runtime, time.Duration) (client.Client, error) {
		built++
		return replacement, nil
	}

	if err := r.UpdateBackend(config.Runtime{Model: "other-model"}); err != nil {
		t.Fatalf("UpdateBackend: %v", err)
	}
	if built != 1 {
		t.Errorf("clients built = %d", built)
	}
	if got := r.Backend().Model; got != "other-model" {
		t.Errorf("model = %q", got)
	}
	if r.currentClient() != client.Client(replacement) {
		t.Error("current client is not the replacement")
	}
	fb.mu.Lock()
	closed := fb.closed
	fb.mu.Unlock()
	if !closed {
		t.Error("previous backend left open")
	}

	// An invalid patch leaves the current backend in place.
	if err := r.UpdateBackend(config.Runtime{Provider: "bogus"}); err == nil {
		t.Error("invalid provider accepted")
	}
	if built != 1 {
		t.Errorf("clients built after invalid patch = %d", built)
	}
	if got := r.Backend().Model; got != "other-model" {
		t.Errorf("model after invalid patch = %q", got)
	}
}

func TestSubmitResumesStoredTranscript(t *testing.T) {
	fb := newFakeBackend(textReply("resumed"))
	r, work := newTestRuntime(t, fb)
	ch := r.Notifications()

	seed := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{genai.NewPartFromText("hello")}},
		{Role: genai.RoleModel, Parts: []*genai.Part{genai.NewPartFromText("hi")}},
	}
	if err := r.store.Save(session.FromHistory("job", work, seed)); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	if _, err := r.Submit(Submission{Text: "continue", TaskID: "job"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, ch, notify.KindDone)
	r.Shutdown()

	sent := fb.sentHistories()
	if len(sent) != 1 {
		t.Fatalf("backend calls = %d", len(sent))
	}
	if len(sent[0]) != 3 {
		t.Fatalf("history length = %d, want stored 2 + new user turn", len(sent[0]))
	}
	if got := sent[0][0].Parts[0].Text; got != "hello" {
		t.Errorf("first stored turn = %q", got)
	}
	if got := sent[0][2].Parts[0].Text; got != "continue" {
		t.Errorf("new user turn = %q", got)
	}
}

func TestSubmitKeepsHistoryAcrossSubmissions(t *testing.T) {
	fb := newFakeBackend(textReply("one"), textReply("two"))
	r, _ := newTestRuntime(t, fb)
	ch := r.Notifications()

	if _, err := r.Submit(Submission{Text: "first", TaskID: "job"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, ch, notify.KindDone)

	submitEventually(t, r, Submission{Text: "second", TaskID: "job"})
	waitFor(t, ch, notify.KindDone)
	r.Shutdown()

	sent := fb.sentHistories()
	if len(sent) != 2 {
		t.Fatalf("backend calls = %d", len(sent))
	}
	// Second exchange carries the first round plus the new user turn.
	if len(sent[1]) != 3 {
		t.Errorf("second history length = %d, want 3", len(sent[1]))
	}
	if got := sent[1][1].Parts[0].Text; got != "one" {
		t.Errorf("carried model turn = %q", got)
	}
}
