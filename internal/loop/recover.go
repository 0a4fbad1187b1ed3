package loop

import (
	"fmt"
	"time"

	"google.golang.org/genai"

	"baton/internal/client"
	"baton/internal/logging"
	"baton/internal/notify"
)

// recovery is the controller's verdict on a backend failure.
type recovery int

const (
	recoverResume recovery = iota
	recoverCaveat
	recoverFatal
)

// caveatNote closes a run whose writes landed but whose final
// confirmation never arrived.
const caveatNote = "The requested files were created, but the backend failed before a final " +
	"confirmation could be produced. Review the written files to verify the result."

// recoverFrom classifies a backend failure and steers the run: sensitive
// content gets a corrective note on the same task, retryable causes
// condense history onto a fresh task id, everything else is fatal. Each
// retryable failure consumes one recovery; once work has landed on disk a
// second failure ends the run as success-with-caveat instead of burning
// more attempts.
func (l *Loop) recoverFrom(err error) recovery {
	class := client.Classify(err)
	logging.Warn("backend failure", "task", l.task.ID,
		"cause", string(class.Cause), "retryable", class.Retryable, "error", err)

	if class.Cause == client.CauseSensitiveContent {
		l.appendHistory(genai.NewContentFromText(correctiveNote, genai.RoleUser))
		return recoverResume
	}
	if !class.Retryable {
		l.fail(err, class.Cause)
		return recoverFatal
	}
	if l.recoveries >= 1 && l.durable {
		l.finishWithCaveat()
		return recoverCaveat
	}
	if l.recoveries >= l.opts.MaxRecoveries {
		l.fail(fmt.Errorf("recovery attempts exhausted: %w", err), class.Cause)
		return recoverFatal
	}

	attempt := l.recoveries
	l.recoveries++
	if !l.rebind(class) {
		return recoverFatal
	}
	l.backoffWait(attempt)
	return recoverResume
}

// rebind moves the run onto a fresh task id with condensed history. The
// old task's dispatcher state and dev servers follow the conversation;
// the old id is then released so the registry only tracks live work.
func (l *Loop) rebind(class client.Classification) bool {
	old := l.task
	fresh, err := l.opts.Registry.Acquire(l.parent, l.opts.Registry.NewID())
	if err != nil {
		l.fail(fmt.Errorf("acquiring recovery task: %w", err), class.Cause)
		return false
	}

	condensed := l.opts.Strategy.Condense(l.history)
	l.history = condensed
	fresh.History = condensed
	l.task = fresh
	l.revision = 0

	if l.opts.Procs != nil {
		if n := l.opts.Procs.Rebind(old.ID, fresh.ID); n > 0 {
			logging.Debug("servers rebound", "from", old.ID, "to", fresh.ID, "count", n)
		}
	}
	l.opts.Dispatcher.ResetTask(old.ID)
	l.opts.Registry.Release(old.ID)

	l.bus.ContextSwitched(fresh.ID, notify.ContextSwitch{
		From:   old.ID,
		To:     fresh.ID,
		Reason: string(class.Cause),
	})
	l.revision++
	l.bus.HistoryUpdate(fresh.ID, notify.HistoryUpdate{
		Revision: l.revision,
		Role:     "user",
		Preview:  condensedPreview(condensed),
		Entries:  len(condensed),
	})
	logging.Info("context switched", "from", old.ID, "to", fresh.ID,
		"cause", string(class.Cause), "entries", len(condensed))
	return true
}

func condensedPreview(history []*genai.Content) string {
	if len(history) == 0 {
		return ""
	}
	return previewOf(history[len(history)-1])
}

// backoffWait sleeps the classified-failure backoff, giving up early when
// the task is cancelled.
func (l *Loop) backoffWait(attempt int) {
	delay := client.CalculateBackoff(l.opts.BackoffBase, attempt, l.opts.BackoffMax)
	logging.Debug("recovery backoff", "task", l.task.ID, "attempt", attempt, "delay", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-l.ctx().Done():
	case <-timer.C:
	}
}

// finishWithCaveat ends the run as a success whose confirmation was lost.
// The caveat is streamed and recorded as a model turn so the transcript
// carries it.
func (l *Loop) finishWithCaveat() {
	l.setState(StateDone)
	l.appendHistory(genai.NewContentFromText(caveatNote, genai.RoleModel))
	l.bus.StreamToken(l.task.ID, caveatNote)
	l.bus.Done(l.task.ID)
	logging.Warn("submission done with caveat", "task", l.task.ID, "recoveries", l.recoveries)
}

// fail ends the run with the backend's error text passed through
// verbatim.
func (l *Loop) fail(err error, cause client.Cause) {
	l.setState(StateDone)
	l.bus.Error(l.task.ID, err.Error(), string(cause))
	logging.Error("submission failed", "task", l.task.ID, "cause", string(cause), "error", err)
}
