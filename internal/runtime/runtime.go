// Package runtime assembles the application: backend client, task
// registry, tool dispatch stack, skill and bridge providers, transcript
// store, and the notification bus. The host talks to a Runtime through
// four inbound commands (Submit, Abort, Confirm, UpdateBackend) and reads
// everything else from the notification channel.
package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/genai"

	"baton/internal/audit"
	"baton/internal/bridge"
	"baton/internal/client"
	"baton/internal/config"
	"baton/internal/confirm"
	"baton/internal/heal"
	"baton/internal/hooks"
	"baton/internal/logging"
	"baton/internal/notify"
	"baton/internal/safety"
	"baton/internal/session"
	"baton/internal/skills"
	"baton/internal/summary"
	"baton/internal/task"
	"baton/internal/tools"
	"baton/internal/workspace"
)

// Transcripts older than the age limit, or beyond the newest N, are
// pruned at startup.
const (
	transcriptMaxAge   = 30 * 24 * time.Hour
	transcriptMaxCount = 50
)

// Runtime owns every long-lived collaborator. Create with New, call
// Start once, Shutdown on exit.
type Runtime struct {
	cfg      *config.Config
	workDir  string
	headless bool

	bus      *notify.Bus
	registry *task.Registry
	procs    *task.ProcRegistry
	confirms *confirm.Table
	gate     *safety.Gate
	authz    *safety.Authorizer
	fs       workspace.FS
	hooks    *hooks.Manager
	audit    *audit.Log
	store    *session.Store
	strategy summary.Strategy

	skills        *skills.Provider
	skillsWatcher *skills.Watcher
	bridge        *bridge.Manager

	// newClient is swappable so tests can inject a scripted backend.
	newClient func(config.Runtime, time.Duration) (client.Client, error)

	mu      sync.Mutex
	rt      config.Runtime
	backend client.Client

	// histories carries conversation state across submissions on the
	// same task id; the store mirrors it to disk. flights closes one
	// channel per submission goroutine so a follow-up on the same id
	// seeds only after the previous run has retained its history.
	histMu    sync.Mutex
	histories map[string][]*genai.Content
	flights   map[string]chan struct{}

	ctx context.Context
	wg  sync.WaitGroup
}

// New wires a Runtime from configuration. workDir is the primary
// authorized root; headless disables external browser launches.
func New(cfg *config.Config, workDir string, headless bool) (*Runtime, error) {
	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolving workdir: %w", err)
	}

	r := &Runtime{
		cfg:       cfg,
		workDir:   absWork,
		headless:  headless,
		bus:       notify.NewBus(0),
		registry:  task.NewRegistry(cfg.Loop.StaleAfter),
		procs:     task.NewProcRegistry(),
		confirms:  confirm.NewTable(cfg.Loop.ConfirmTimeout),
		gate:      safety.NewGate(cfg.Tools.ExtraSafePrefixes),
		newClient: client.New,
		histories: make(map[string][]*genai.Content),
		flights:   make(map[string]chan struct{}),
		ctx:       context.Background(),
	}

	roots := append([]string{absWork}, cfg.Workspace.Roots...)
	r.authz, err = safety.NewAuthorizer(roots, safety.ParseTrust(cfg.Workspace.Trust), cfg.Workspace.TrustOverrides)
	if err != nil {
		return nil, fmt.Errorf("building authorizer: %w", err)
	}

	if cfg.Workspace.Remote.Enabled {
		remote, err := workspace.NewRemote(workspace.RemoteOptions{
			Host:    cfg.Workspace.Remote.Host,
			User:    cfg.Workspace.Remote.User,
			KeyFile: cfg.Workspace.Remote.KeyFile,
			Root:    cfg.Workspace.Remote.Root,
		})
		if err != nil {
			return nil, fmt.Errorf("remote workspace: %w", err)
		}
		r.fs = remote
	} else {
		r.fs = workspace.NewLocal(r.authz)
	}

	r.rt = config.RuntimeFromBackend(cfg.Backend)
	if err := r.rt.Validate(); err != nil {
		return nil, err
	}
	r.backend, err = r.newClient(r.rt, cfg.Backend.Retry.HTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("building backend client: %w", err)
	}
	r.backend.SetSystemInstruction(systemPrompt(absWork))

	r.hooks = hooks.NewManager(cfg.Hooks.Enabled, absWork)
	r.hooks.Replace(hooksFromConfig(cfg.Hooks))
	if d := maxHookTimeout(cfg.Hooks); d > 0 {
		r.hooks.SetTimeout(d)
	}

	if cfg.Audit.Enabled {
		r.audit, err = audit.New(config.Dir(), time.Now().Format("20060102-150405"), audit.Config{
			Enabled:       true,
			MaxEntries:    cfg.Audit.MaxEntries,
			MaxResultLen:  cfg.Audit.MaxResultLen,
			RetentionDays: cfg.Audit.RetentionDays,
		})
		if err != nil {
			logging.Warn("audit log unavailable", "error", err)
		}
	}

	if cfg.Session.Enabled {
		dir := cfg.Session.Dir
		if dir == "" {
			dir, err = session.DefaultDir()
			if err != nil {
				return nil, fmt.Errorf("resolving session dir: %w", err)
			}
		}
		r.store, err = session.Open(dir)
		if err != nil {
			return nil, fmt.Errorf("opening transcript store: %w", err)
		}
	}

	strategy, ok := summary.ByName(cfg.Summary.Strategy)
	if !ok {
		logging.Warn("unknown summary strategy, using default", "name", cfg.Summary.Strategy)
		strategy = summary.Default()
	}
	if ex, ok := strategy.(*summary.Excerpt); ok {
		if cfg.Summary.MaxBullets > 0 {
			ex.MaxBullets = cfg.Summary.MaxBullets
		}
		if cfg.Summary.MaxLine > 0 {
			ex.MaxLine = cfg.Summary.MaxLine
		}
	}
	r.strategy = strategy

	if cfg.Skills.Enabled {
		dir := cfg.Skills.Dir
		if dir == "" {
			dir = filepath.Join(config.Dir(), "skills")
		}
		r.skills = skills.NewProvider(dir)
		if err := r.skills.Load(); err != nil {
			logging.Warn("skill load failed", "dir", dir, "error", err)
		}
	}

	if cfg.Bridge.Enabled && len(cfg.Bridge.Servers) > 0 {
		r.bridge = bridge.NewManager(cfg.Bridge.Servers)
	}

	return r, nil
}

// Start connects external providers and begins background maintenance.
// ctx is the runtime's lifetime; cancelling it aborts all tasks.
func (r *Runtime) Start(ctx context.Context) error {
	r.ctx = ctx
	r.hooks.RunOnStart(ctx)

	if r.bridge != nil {
		if err := r.bridge.Connect(ctx); err != nil {
			logging.Warn("bridge connect incomplete", "error", err)
		}
	}

	if r.skills != nil && r.cfg.Skills.Watch {
		watcher, err := skills.NewWatcher(r.skills, func(count int) {
			logging.Info("skills reloaded", "count", count)
		})
		if err != nil {
			logging.Warn("skill watcher unavailable", "error", err)
		} else if err := watcher.Start(ctx); err != nil {
			logging.Warn("skill watcher failed to start", "error", err)
		} else {
			r.skillsWatcher = watcher
		}
	}

	if r.store != nil {
		go func() {
			if _, err := r.store.Prune(transcriptMaxAge, transcriptMaxCount); err != nil {
				logging.Debug("transcript prune failed", "error", err)
			}
		}()
	}

	return nil
}

// Shutdown aborts every task, waits for their loops to settle, and tears
// down providers. Safe to call once.
func (r *Runtime) Shutdown() {
	r.confirms.AbortAll()
	r.registry.AbortAll()
	r.wg.Wait()
	r.hooks.RunOnExit(context.Background())

	if r.skillsWatcher != nil {
		if err := r.skillsWatcher.Stop(); err != nil {
			logging.Debug("skill watcher stop", "error", err)
		}
	}
	if r.bridge != nil {
		if err := r.bridge.Shutdown(); err != nil {
			logging.Debug("bridge shutdown", "error", err)
		}
	}
	r.procs.Shutdown()
	if r.audit != nil {
		if err := r.audit.Close(); err != nil {
			logging.Debug("audit close", "error", err)
		}
	}
	if err := r.fs.Close(); err != nil {
		logging.Debug("workspace close", "error", err)
	}

	r.mu.Lock()
	if r.backend != nil {
		if err := r.backend.Close(); err != nil {
			logging.Debug("backend close", "error", err)
		}
	}
	r.mu.Unlock()

	r.bus.Close()
	logging.Info("runtime shut down")
}

// Notifications is the host's event feed.
func (r *Runtime) Notifications() <-chan notify.Notification {
	return r.bus.Notifications()
}

// Active lists task ids with a running iteration.
func (r *Runtime) Active() []string {
	return r.registry.Active()
}

// Transcripts lists saved conversations, newest first. Empty when
// persistence is disabled.
func (r *Runtime) Transcripts() ([]session.Info, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.List()
}

// Backend reports the current runtime backend settings (key masked via
// Runtime.String).
func (r *Runtime) Backend() config.Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rt
}

// UpdateBackend merges patch into the backend settings and swaps in a new
// client. Running exchanges keep the old client until their next
// iteration; history is untouched.
func (r *Runtime) UpdateBackend(patch config.Runtime) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := r.rt.Merge(patch)
	if err := merged.Validate(); err != nil {
		return err
	}
	next, err := r.newClient(merged, r.cfg.Backend.Retry.HTTPTimeout)
	if err != nil {
		return fmt.Errorf("building backend client: %w", err)
	}
	next.SetSystemInstruction(systemPrompt(r.workDir))

	old := r.backend
	r.rt = merged
	r.backend = next
	if old != nil {
		if err := old.Close(); err != nil {
			logging.Debug("old backend close", "error", err)
		}
	}
	logging.Info("backend updated", "config", merged.String())
	return nil
}

// currentClient is the loop's per-iteration client source.
func (r *Runtime) currentClient() client.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend
}

// BridgeServers lists the connected plugin-tool servers. Empty when the
// bridge is disabled.
func (r *Runtime) BridgeServers() []string {
	if r.bridge == nil {
		return nil
	}
	return r.bridge.Connected()
}

// RefreshBridge re-scans one bridge server's tool list.
func (r *Runtime) RefreshBridge(server string) error {
	if r.bridge == nil {
		return fmt.Errorf("bridge disabled")
	}
	return r.bridge.Refresh(r.ctx, server)
}

// toolRegistry merges the provider families in priority order: builtins
// keep their names on collision.
func (r *Runtime) toolRegistry(workDir string) *tools.Registry {
	sets := []tools.Set{r.builtinSet(workDir)}
	if r.skills != nil {
		sets = append(sets, r.skills.Set())
	}
	if r.bridge != nil {
		sets = append(sets, r.bridge.Set())
	}
	return tools.Merge(sets...)
}

func (r *Runtime) builtinSet(workDir string) tools.Set {
	return tools.Builtins(tools.BuiltinConfig{
		FS:             workspace.Rooted(r.fs, r.fileBase(workDir)),
		Auth:           r.authz,
		Procs:          r.procs,
		WorkDir:        workDir,
		CommandTimeout: r.cfg.Tools.Timeout,
		MaxResultChars: r.cfg.Tools.MaxResultChars,
		Headless:       r.headless,
	})
}

// fileBase scopes relative tool paths to the submission directory. The
// remote FS already roots at its own remote directory, so only the
// project suffix carries over there.
func (r *Runtime) fileBase(workDir string) string {
	if !r.cfg.Workspace.Remote.Enabled {
		return workDir
	}
	rel, err := filepath.Rel(r.workDir, workDir)
	if err != nil || rel == "." {
		return ""
	}
	return rel
}

// shellRunner executes auto-heal fix commands in the submission's
// working directory.
func shellRunner(workDir string) heal.Runner {
	return func(ctx context.Context, command string) (string, error) {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = workDir
		out, err := cmd.CombinedOutput()
		return string(out), err
	}
}

func hooksFromConfig(cfg config.HooksConfig) []*hooks.Hook {
	var out []*hooks.Hook
	for _, hc := range cfg.Hooks {
		t, ok := hooks.ParseType(hc.Type)
		if !ok {
			logging.Warn("unknown hook type", "hook", hc.Name, "type", hc.Type)
			continue
		}
		out = append(out, &hooks.Hook{
			Name:    hc.Name,
			Type:    t,
			Match:   hc.Match,
			Command: hc.Command,
			Enabled: hc.Enabled,
		})
	}
	return out
}

// maxHookTimeout maps per-hook timeouts onto the manager's single
// deadline: the longest configured value wins.
func maxHookTimeout(cfg config.HooksConfig) time.Duration {
	var max time.Duration
	for _, hc := range cfg.Hooks {
		if hc.Timeout > max {
			max = hc.Timeout
		}
	}
	return max
}
