package heal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"baton/internal/logging"
)

// Runner executes a shell command in the project workspace and returns
// its combined output. The conversation loop supplies one backed by the
// run_command tool so fixes go through the same safety gate and process
// bookkeeping as model-issued commands.
type Runner func(ctx context.Context, command string) (string, error)

// Outcome summarizes one heal cycle.
type Outcome struct {
	Attempts int
	Healed   bool
	Applied  []string
	Final    *Report
}

// Healer drives the stabilize/validate/fix cycle against a preview URL.
type Healer struct {
	maxAttempts     int
	stabilize       time.Duration
	validateTimeout time.Duration
	run             Runner

	// validate is swappable in tests.
	validate func(ctx context.Context, url string, timeout time.Duration) (*Report, error)
}

// Option configures a Healer.
type Option func(*Healer)

// WithMaxAttempts overrides the attempt cap.
func WithMaxAttempts(n int) Option {
	return func(h *Healer) {
		if n > 0 {
			h.maxAttempts = n
		}
	}
}

// WithStabilizeDelay overrides the pre-validation settle delay.
func WithStabilizeDelay(d time.Duration) Option {
	return func(h *Healer) {
		if d >= 0 {
			h.stabilize = d
		}
	}
}

// WithValidateTimeout overrides the per-validation fetch timeout.
func WithValidateTimeout(d time.Duration) Option {
	return func(h *Healer) {
		if d > 0 {
			h.validateTimeout = d
		}
	}
}

// New builds a Healer that applies fixes through run.
func New(run Runner, opts ...Option) *Healer {
	h := &Healer{
		maxAttempts:     5,
		stabilize:       2 * time.Second,
		validateTimeout: 10 * time.Second,
		run:             run,
		validate:        ValidatePage,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Heal validates url, applies fixes for the fixable findings, and
// re-validates until the page is healthy, no fix applies, or the attempt
// cap is hit. The last report is always returned so callers can surface
// unfixed findings to the model.
func (h *Healer) Heal(ctx context.Context, url string) (*Outcome, error) {
	outcome := &Outcome{}

	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		outcome.Attempts = attempt

		if err := sleepCtx(ctx, h.stabilize); err != nil {
			return outcome, err
		}

		report, err := h.validate(ctx, url, h.validateTimeout)
		if err != nil {
			// Server not reachable yet. Early attempts keep waiting,
			// the last one gives up.
			logging.Debug("heal validation attempt failed", "attempt", attempt, "error", err)
			if attempt == h.maxAttempts {
				return outcome, fmt.Errorf("preview never became reachable: %w", err)
			}
			continue
		}
		outcome.Final = report

		if report.Healthy {
			outcome.Healed = true
			logging.Info("preview healthy", "url", url, "attempts", attempt)
			return outcome, nil
		}

		fixed, err := h.applyFixes(ctx, report.Findings, outcome)
		if err != nil {
			return outcome, err
		}
		if !fixed {
			logging.Info("no applicable fix for remaining findings", "url", url)
			return outcome, nil
		}
	}

	return outcome, nil
}

// applyFixes runs one fixer per fixable finding and reports whether any
// fix succeeded.
func (h *Healer) applyFixes(ctx context.Context, findings []Finding, outcome *Outcome) (bool, error) {
	anyFixed := false
	for _, f := range findings {
		cmd, desc, ok := fixFor(f)
		if !ok {
			continue
		}
		if h.run == nil {
			return false, fmt.Errorf("no runner configured for fix %q", cmd)
		}
		logging.Info("applying heal fix", "fix", desc)
		if _, err := h.run(ctx, cmd); err != nil {
			logging.Warn("heal fix failed", "command", cmd, "error", err)
			continue
		}
		outcome.Applied = append(outcome.Applied, desc)
		anyFixed = true
	}
	return anyFixed, nil
}

// fixFor maps a finding to a shell fix. Findings without a command-level
// fix (Node-only syntax needs a source edit by the model) return ok=false.
func fixFor(f Finding) (cmd, desc string, ok bool) {
	switch f.Kind {
	case FindingMissingDependency:
		pkg := strings.TrimSpace(f.Detail)
		if pkg == "" || strings.HasPrefix(pkg, ".") || strings.HasPrefix(pkg, "/") {
			// Relative imports are project files, not installable packages.
			return "", "", false
		}
		return "npm install " + pkg, "install missing dependency " + pkg, true
	default:
		return "", "", false
	}
}

// Describe renders the outcome as text suitable for a tool result or a
// follow-up message to the model.
func (o *Outcome) Describe() string {
	var b strings.Builder
	if o.Healed {
		fmt.Fprintf(&b, "Preview healthy after %d attempt(s).", o.Attempts)
	} else {
		fmt.Fprintf(&b, "Preview still unhealthy after %d attempt(s).", o.Attempts)
	}
	if len(o.Applied) > 0 {
		b.WriteString(" Fixes applied: ")
		b.WriteString(strings.Join(o.Applied, "; "))
		b.WriteByte('.')
	}
	if o.Final != nil && !o.Healed {
		b.WriteByte('\n')
		b.WriteString(o.Final.Describe())
	}
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
