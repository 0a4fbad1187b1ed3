package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"

	"baton/internal/confirm"
	"baton/internal/heal"
	"baton/internal/logging"
	"baton/internal/loop"
	"baton/internal/session"
	"baton/internal/task"
	"baton/internal/tools"
)

// Image is an inline attachment on a submission.
type Image struct {
	MIMEType string
	Data     []byte
}

// Submission is one inbound user request.
type Submission struct {
	Text   string
	Images []Image

	// TaskID routes the submission to an existing conversation. Empty
	// targets the shared default task.
	TaskID string

	// Project scopes file tools to a subdirectory of the workspace,
	// created on first use.
	Project string
}

// Submit starts the agent loop for one submission and returns the task id
// it is running under. The loop runs asynchronously; progress and the
// terminal outcome arrive on the notification channel. A *task.BusyError
// means the id already has a live submission.
func (r *Runtime) Submit(sub Submission) (string, error) {
	parts, err := buildParts(sub)
	if err != nil {
		return "", err
	}
	projectDir, err := r.projectDir(sub.Project)
	if err != nil {
		return "", err
	}

	t, err := r.registry.Acquire(r.ctx, sub.TaskID)
	if err != nil {
		return "", err
	}

	// The previous run on this id is past its release point once Acquire
	// succeeds, but may still be persisting history. Wait it out before
	// seeding so the transcript carries over intact.
	r.histMu.Lock()
	prev := r.flights[t.ID]
	flight := make(chan struct{})
	r.flights[t.ID] = flight
	r.histMu.Unlock()
	if prev != nil {
		<-prev
	}
	r.seedHistory(t)

	registry := r.toolRegistry(projectDir)
	dispatcher := tools.NewDispatcher(tools.DispatcherConfig{
		Registry:       registry,
		Gate:           r.gate,
		Auth:           r.authz,
		Confirms:       r.confirms,
		Bus:            r.bus,
		Hooks:          r.hooks,
		Audit:          r.audit,
		WorkDir:        projectDir,
		Timeout:        r.cfg.Tools.Timeout,
		MaxResultChars: r.cfg.Tools.MaxResultChars,
	})

	var healer *heal.Healer
	if r.cfg.Heal.Enabled {
		healer = heal.New(shellRunner(projectDir),
			heal.WithMaxAttempts(r.cfg.Heal.MaxAttempts),
			heal.WithStabilizeDelay(r.cfg.Heal.StabilizeDelay),
			heal.WithValidateTimeout(r.cfg.Heal.ValidateTimeout),
		)
	}

	lp := loop.New(loop.Options{
		Client:        r.currentClient,
		Tools:         func() *tools.Registry { return r.toolRegistry(projectDir) },
		Dispatcher:    dispatcher,
		Bus:           r.bus,
		Registry:      r.registry,
		Procs:         r.procs,
		Strategy:      r.strategy,
		Healer:        healer,
		MaxIterations: r.cfg.Loop.MaxIterations,
		MaxReminders:  r.cfg.Loop.ReminderLimit,
		MaxRecoveries: r.cfg.Backend.Retry.MaxRetries,
		BackoffBase:   r.cfg.Backend.Retry.RetryDelay,
	})

	initial := t.ID
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		effective, err := lp.Run(r.ctx, t, parts)
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn("submission ended with error", "task", effective, "error", err)
		}
		r.retainHistory(initial, effective, projectDir, lp.History())

		r.histMu.Lock()
		if effective != initial {
			r.flights[effective] = flight
		}
		r.histMu.Unlock()
		close(flight)
	}()
	return initial, nil
}

// seedHistory restores conversation state for a resumed task id: from the
// in-memory map while the runtime lives, from the transcript store across
// restarts.
func (r *Runtime) seedHistory(t *task.Task) {
	r.histMu.Lock()
	if h, ok := r.histories[t.ID]; ok {
		t.History = h
		r.histMu.Unlock()
		return
	}
	r.histMu.Unlock()

	if r.store == nil {
		return
	}
	rec, err := r.store.Load(t.ID)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Debug("transcript load failed", "task", t.ID, "error", err)
		}
		return
	}
	t.History = rec.Contents()
	logging.Info("transcript resumed", "task", t.ID, "entries", len(rec.History))
}

// retainHistory records the loop's final transcript under its effective
// id. A recovery rebind retires the original id everywhere.
func (r *Runtime) retainHistory(initial, effective, workDir string, history []*genai.Content) {
	r.histMu.Lock()
	r.histories[effective] = history
	if effective != initial {
		delete(r.histories, initial)
	}
	r.histMu.Unlock()

	if r.store == nil || len(history) == 0 {
		return
	}
	if effective != initial {
		if err := r.store.Delete(initial); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Debug("stale transcript delete failed", "task", initial, "error", err)
		}
	}
	if err := r.store.Save(session.FromHistory(effective, workDir, history)); err != nil {
		logging.Warn("transcript save failed", "task", effective, "error", err)
	}
}

// Abort cancels the named task, or every task when id is empty. Pending
// confirmations are expired first so no dispatch stays parked.
func (r *Runtime) Abort(taskID string) bool {
	if taskID == "" {
		r.confirms.AbortAll()
		r.registry.AbortAll()
		return true
	}
	r.confirms.AbortTask(taskID)
	return r.registry.Abort(taskID)
}

// Confirm resolves a pending confirmation request. With remember set, the
// decision also covers future identical calls in this session.
func (r *Runtime) Confirm(id string, approved, remember bool) error {
	outcome := confirm.OutcomeDenied
	if approved {
		outcome = confirm.OutcomeApproved
	}
	if remember {
		for _, req := range r.confirms.Pending() {
			if req.ID == id {
				r.confirms.Remember(req.Tool, req.Args, outcome)
				break
			}
		}
	}
	return r.confirms.Resolve(id, outcome)
}

// Pending lists unresolved confirmation requests.
func (r *Runtime) Pending() []confirm.Request {
	return r.confirms.Pending()
}

func buildParts(sub Submission) ([]*genai.Part, error) {
	var parts []*genai.Part
	if text := strings.TrimSpace(sub.Text); text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}
	for _, img := range sub.Images {
		if len(img.Data) == 0 {
			continue
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty submission")
	}
	return parts, nil
}

// projectDir resolves the submission's working directory and creates it
// when missing.
func (r *Runtime) projectDir(project string) (string, error) {
	if project == "" {
		return r.workDir, nil
	}
	dir, err := r.authz.Authorize(filepath.Join(r.workDir, project))
	if err != nil {
		return "", fmt.Errorf("project %q: %w", project, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating project dir: %w", err)
	}
	return dir, nil
}
