package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"baton/internal/audit"
	"baton/internal/confirm"
	"baton/internal/hooks"
	"baton/internal/logging"
	"baton/internal/notify"
	"baton/internal/redact"
	"baton/internal/robustness"
	"baton/internal/safety"
	"baton/internal/stream"
)

// DeniedMessage is the exact tool result content for a refused command.
// Hosts and tests key off this string, so it never changes shape.
const DeniedMessage = "User denied the command execution."

// DispatcherConfig wires a Dispatcher's collaborators.
type DispatcherConfig struct {
	Registry *Registry
	Gate     *safety.Gate
	Auth     *safety.Authorizer
	Confirms *confirm.Table
	Bus      *notify.Bus
	Hooks    *hooks.Manager // optional
	Audit    *audit.Log     // optional
	WorkDir  string
	Timeout  time.Duration // per-dispatch execution budget

	MaxResultChars  int
	RepeatThreshold int // consecutive identical calls before breaking the cycle
}

// Dispatcher turns a FunctionCall into a FunctionResponse part, running
// the safety gate, confirmation flow, hooks, and audit along the way.
// Unknown tools, denied commands, and tool failures all come back as
// ordinary error results; Dispatch itself never fails the iteration.
type Dispatcher struct {
	registry *Registry
	gate     *safety.Gate
	auth     *safety.Authorizer
	confirms *confirm.Table
	bus      *notify.Bus
	hooks    *hooks.Manager
	audit    *audit.Log
	redactor *redact.Redactor
	breakers *robustness.BreakerSet

	workDir         string
	timeout         time.Duration
	maxResultChars  int
	repeatThreshold int

	mu      sync.Mutex
	repeats map[string]*repeatState // per task
}

type repeatState struct {
	key   string
	count int
}

// Report is the outcome of one dispatch. Part is always non-nil and
// ready to append to history; the other fields let the loop react
// (denials, durable side effects, dev servers to heal).
type Report struct {
	Part          *genai.Part
	Tool          string
	Kind          Kind
	Result        ToolResult
	Denied        bool
	Durable       bool
	ServerStarted bool
	ServerURL     string
	Elapsed       time.Duration
}

// NewDispatcher builds a dispatcher from its config, filling defaults.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxResultChars <= 0 {
		cfg.MaxResultChars = 30000
	}
	if cfg.RepeatThreshold <= 0 {
		cfg.RepeatThreshold = 3
	}
	return &Dispatcher{
		registry:        cfg.Registry,
		gate:            cfg.Gate,
		auth:            cfg.Auth,
		confirms:        cfg.Confirms,
		bus:             cfg.Bus,
		hooks:           cfg.Hooks,
		audit:           cfg.Audit,
		redactor:        redact.New(),
		breakers:        robustness.NewBreakerSet(5, 30*time.Second),
		workDir:         cfg.WorkDir,
		timeout:         cfg.Timeout,
		maxResultChars:  cfg.MaxResultChars,
		repeatThreshold: cfg.RepeatThreshold,
		repeats:         make(map[string]*repeatState),
	}
}

// SetRegistry swaps the tool registry. The loop re-merges providers each
// iteration, so skill and bridge changes take effect between iterations.
func (d *Dispatcher) SetRegistry(r *Registry) {
	d.mu.Lock()
	d.registry = r
	d.mu.Unlock()
}

func (d *Dispatcher) currentRegistry() *Registry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry
}

// Dispatch executes one tool call for a task and returns its report.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID string, call *genai.FunctionCall) *Report {
	start := time.Now()
	report := &Report{Tool: call.Name}

	if d.repeatedCall(taskID, call) {
		report.Result = NewErrorResult(fmt.Sprintf(
			"call to %q repeated %d times with identical arguments; try a different approach or stop",
			call.Name, d.repeatThreshold))
		return d.finish(taskID, call, report, start, "repeat-break")
	}

	if reason, ok := call.Args[stream.MalformedInputKey]; ok {
		report.Result = NewErrorResult(fmt.Sprintf("invalid tool arguments: %v", reason))
		return d.finish(taskID, call, report, start, "")
	}

	tool, kind, ok := d.currentRegistry().Resolve(call.Name)
	if !ok {
		report.Result = NewErrorResult(fmt.Sprintf("tool not found: %s", call.Name))
		return d.finish(taskID, call, report, start, "")
	}
	report.Kind = kind

	if ctx.Err() != nil {
		report.Result = NewErrorResult("tool execution cancelled")
		return d.finish(taskID, call, report, start, "")
	}

	if err := tool.Validate(call.Args); err != nil {
		report.Result = NewErrorResult(err.Error())
		return d.finish(taskID, call, report, start, "")
	}

	decision := "allow"
	if call.Name == "run_command" && d.gate != nil {
		var proceed bool
		decision, proceed = d.gateCommand(ctx, taskID, call, report)
		if !proceed {
			return d.finish(taskID, call, report, start, decision)
		}
	}

	if d.hooks != nil {
		d.hooks.RunPreTool(ctx, taskID, call.Name, call.Args)
	}

	breaker := d.breakers.For(call.Name)
	if !breaker.Allow() {
		report.Result = NewErrorResult(fmt.Sprintf(
			"tool %s temporarily disabled after repeated failures, try again shortly", call.Name))
		return d.finish(taskID, call, report, start, decision)
	}

	execCtx, cancel := context.WithTimeout(ContextWithTaskID(ctx, taskID), d.timeout)
	result, execErr := d.executeSafe(execCtx, tool, call.Args)
	cancel()

	if execErr != nil {
		breaker.RecordFailure()
		report.Result = NewErrorResult(execErr.Error())
		if d.hooks != nil {
			d.hooks.RunOnError(ctx, taskID, call.Name, call.Args, execErr.Error())
		}
		return d.finish(taskID, call, report, start, decision)
	}
	breaker.RecordSuccess()
	report.Result = result

	// Executed tools with write-capable side effects count as durable
	// even when recovery later rewinds the conversation.
	if result.Success && (call.Name == "write_file" || call.Name == "run_command") {
		report.Durable = true
	}

	d.emitArtifact(taskID, result)
	d.noteServer(report, result)

	if d.hooks != nil {
		if result.Success {
			d.hooks.RunPostTool(ctx, taskID, call.Name, call.Args, result.Content)
		} else {
			d.hooks.RunOnError(ctx, taskID, call.Name, call.Args, result.Error)
		}
	}

	return d.finish(taskID, call, report, start, decision)
}

// executeSafe runs the tool and converts a panic into an error so a
// misbehaving provider cannot take down the loop.
func (d *Dispatcher) executeSafe(ctx context.Context, tool Tool, args map[string]any) (result ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("tool panicked", "tool", tool.Name(), "panic", r)
			result = ToolResult{}
			err = fmt.Errorf("tool %s crashed: %v", tool.Name(), r)
		}
	}()
	return tool.Execute(ctx, args)
}

// gateCommand applies the trust matrix to run_command. It reports the
// audit decision and whether execution may proceed; on deny or expiry
// it fills report.Result.
func (d *Dispatcher) gateCommand(ctx context.Context, taskID string, call *genai.FunctionCall, report *Report) (string, bool) {
	command, _ := GetString(call.Args, "command")
	trust := safety.TrustStandard
	if d.auth != nil {
		dir := GetStringDefault(call.Args, "cwd", d.workDir)
		trust = d.auth.TrustFor(dir)
	}

	verdict := d.gate.Evaluate(command, trust)
	switch verdict.Decision {
	case safety.DecisionAllow:
		return "allow", true

	case safety.DecisionDeny:
		logging.Warn("command blocked", "command", command, "reason", verdict.Reason)
		report.Denied = true
		report.Result = NewErrorResult(DeniedMessage)
		return "deny", false

	default:
		if outcome, ok := d.confirms.Remembered(call.Name, call.Args); ok {
			if outcome == confirm.OutcomeApproved {
				return "remembered-approve", true
			}
			report.Denied = true
			report.Result = NewErrorResult(DeniedMessage)
			return "remembered-deny", false
		}
		return d.awaitConfirmation(ctx, taskID, call, command, verdict, report)
	}
}

// awaitConfirmation suspends the dispatch until the host resolves the
// pending confirmation, the request expires, or the task is cancelled.
func (d *Dispatcher) awaitConfirmation(ctx context.Context, taskID string, call *genai.FunctionCall, command string, verdict safety.Verdict, report *Report) (string, bool) {
	desc := fmt.Sprintf("Run command: %s", command)
	if verdict.Class == safety.ClassDangerous {
		desc = fmt.Sprintf("Run DANGEROUS command (%s): %s", verdict.Reason, command)
	}

	req, outcomeCh := d.confirms.Create(taskID, call.Name, desc, call.Args)
	if d.bus != nil {
		d.bus.ConfirmRequest(taskID, notify.ConfirmRequest{
			ID:          req.ID,
			Tool:        call.Name,
			Description: desc,
			Args:        call.Args,
			ExpiresAt:   req.ExpiresAt,
		})
	}
	logging.Info("confirmation requested", "id", req.ID, "task", taskID, "command", command)

	select {
	case outcome := <-outcomeCh:
		switch outcome {
		case confirm.OutcomeApproved:
			return "approve", true
		case confirm.OutcomeExpired:
			report.Result = NewErrorResult("The confirmation request expired without a response.")
			return "expire", false
		default:
			report.Denied = true
			report.Result = NewErrorResult(DeniedMessage)
			return "deny", false
		}
	case <-ctx.Done():
		// Task aborted while waiting. Resolve the entry so it cannot
		// fire later.
		d.confirms.Resolve(req.ID, confirm.OutcomeDenied)
		report.Result = NewErrorResult("tool execution cancelled")
		return "cancelled", false
	}
}

// finish redacts and truncates the result, emits audit, and builds the
// FunctionResponse part.
func (d *Dispatcher) finish(taskID string, call *genai.FunctionCall, report *Report, start time.Time, decision string) *Report {
	report.Elapsed = time.Since(start)
	result := &report.Result

	if result.Content != "" {
		result.Content = truncateOutput(d.redactor.Redact(result.Content), d.maxResultChars)
	}
	if result.Error != "" {
		result.Error = truncateOutput(d.redactor.Redact(result.Error), d.maxResultChars)
	}

	if d.audit != nil {
		entry := audit.NewEntry(taskID, call.Name, string(report.Kind), call.Args)
		entry.Decision = decision
		body := result.Content
		if !result.Success {
			body = result.Error
		}
		entry.Complete(body, result.Success, result.Error, report.Elapsed)
		d.audit.Record(entry)
	}

	report.Part = &genai.Part{
		FunctionResponse: &genai.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: result.ToMap(),
		},
	}
	return report
}

// emitArtifact publishes artifact-created when a result carries artifact
// metadata (write_file does this for every successful write).
func (d *Dispatcher) emitArtifact(taskID string, result ToolResult) {
	if d.bus == nil || !result.Success {
		return
	}
	data, ok := result.Data.(map[string]any)
	if !ok {
		return
	}
	meta, ok := data["artifact"].(map[string]any)
	if !ok {
		return
	}
	artifact := notify.Artifact{}
	artifact.Path, _ = meta["path"].(string)
	artifact.Operation, _ = meta["operation"].(string)
	if n, ok := meta["bytes"].(int); ok {
		artifact.Bytes = n
	}
	artifact.Diff, _ = meta["diff"].(string)
	d.bus.ArtifactCreated(taskID, artifact)
}

// noteServer flags a dev-server start on the report so the loop can run
// the heal cycle.
func (d *Dispatcher) noteServer(report *Report, result ToolResult) {
	data, ok := result.Data.(map[string]any)
	if !ok {
		return
	}
	if started, _ := data["server"].(bool); started {
		report.ServerStarted = true
		report.ServerURL, _ = data["url"].(string)
	}
}

// repeatedCall counts consecutive identical calls per task and reports
// whether the threshold is exceeded.
func (d *Dispatcher) repeatedCall(taskID string, call *genai.FunctionCall) bool {
	key := call.Name + "\x00" + hashArgs(call.Args)

	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.repeats[taskID]
	if !ok || state.key != key {
		d.repeats[taskID] = &repeatState{key: key, count: 1}
		return false
	}
	state.count++
	return state.count > d.repeatThreshold
}

// ResetTask drops per-task dispatch state. Called when a task is
// released.
func (d *Dispatcher) ResetTask(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.repeats, taskID)
}

func hashArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("unmarshalable:%d", len(args))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// CancelledPart synthesizes the FunctionResponse for a call that was
// never dispatched because the task got cancelled first. Every ToolUse
// in history must be answered before the next backend request, even on
// abort.
func CancelledPart(call *genai.FunctionCall) *genai.Part {
	return &genai.Part{
		FunctionResponse: &genai.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: NewErrorResult("tool execution cancelled").ToMap(),
		},
	}
}
