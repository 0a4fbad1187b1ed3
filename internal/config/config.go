package config

import "time"

// Config is the persistent application configuration loaded from
// config.yaml. Runtime-swappable backend settings are mirrored into a
// Runtime value at startup; everything else is read once.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Loop      LoopConfig      `yaml:"loop"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Tools     ToolsConfig     `yaml:"tools"`
	Skills    SkillsConfig    `yaml:"skills"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Heal      HealConfig      `yaml:"heal"`
	Summary   SummaryConfig   `yaml:"summary"`
	Session   SessionConfig   `yaml:"session"`
	Hooks     HooksConfig     `yaml:"hooks"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Runtime version information, injected by the build.
	Version string `yaml:"-"`
}

// BackendConfig holds LLM backend settings.
type BackendConfig struct {
	// Provider selects the backend client: "anthropic" or "ollama".
	Provider string `yaml:"provider"`
	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url,omitempty"`
	// APIKey authenticates against the provider. Supports ${VAR} expansion.
	// Ollama servers usually run without one.
	APIKey string `yaml:"api_key"`
	// Model is the default model identifier.
	Model string `yaml:"model"`
	// MaxTokens caps the tokens generated per response.
	MaxTokens int `yaml:"max_tokens"`
	// Retry configures transport-level retry behavior.
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig holds recovery settings for backend failures.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`  // Recovery attempts before giving up (default: 3)
	RetryDelay  time.Duration `yaml:"retry_delay"`  // Initial backoff delay (default: 1s)
	HTTPTimeout time.Duration `yaml:"http_timeout"` // Per-request timeout (default: 120s)
}

// LoopConfig holds conversation loop settings.
type LoopConfig struct {
	MaxIterations  int           `yaml:"max_iterations"`  // Hard cap on request/dispatch cycles per submission
	ReminderLimit  int           `yaml:"reminder_limit"`  // Max project-creation reminders per submission
	StaleAfter     time.Duration `yaml:"stale_after"`     // Task considered stale after this much inactivity
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"` // Pending confirmations expire after this
}

// WorkspaceConfig holds filesystem access settings.
type WorkspaceConfig struct {
	// Roots lists directories tools may touch, in addition to the working
	// directory passed on the command line.
	Roots []string `yaml:"roots,omitempty"`
	// Trust is the default trust level: "trust", "standard" or "strict".
	Trust string `yaml:"trust"`
	// TrustOverrides maps directory prefixes to trust levels.
	TrustOverrides map[string]string `yaml:"trust_overrides,omitempty"`
	// Remote configures an optional SFTP-backed workspace.
	Remote RemoteConfig `yaml:"remote"`
}

// RemoteConfig holds SFTP workspace settings.
type RemoteConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host,omitempty"`    // host:port
	User    string `yaml:"user,omitempty"`
	KeyFile string `yaml:"key_file,omitempty"` // Path to a private key
	Root    string `yaml:"root,omitempty"`     // Remote directory treated as the workspace root
}

// ToolsConfig holds tool dispatch settings.
type ToolsConfig struct {
	Timeout        time.Duration `yaml:"timeout"`          // Per-dispatch timeout
	MaxResultChars int           `yaml:"max_result_chars"` // Tool results truncated beyond this
	// ExtraSafePrefixes extends the built-in auto-approve command list.
	ExtraSafePrefixes []string `yaml:"extra_safe_prefixes,omitempty"`
}

// SkillsConfig holds skill provider settings.
type SkillsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"` // Directory of skill definition files
	Watch   bool   `yaml:"watch"`         // Hot-reload on file changes
}

// BridgeConfig holds plugin-tool bridge settings.
type BridgeConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Servers []BridgeServerConfig `yaml:"servers,omitempty"`
}

// BridgeServerConfig describes one plugin-tool server reachable over the
// bridge contract.
type BridgeServerConfig struct {
	Name    string            `yaml:"name"`              // Unique identifier, used as the tool namespace
	Command string            `yaml:"command"`           // Executable to spawn
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`     // Extra env vars, supports ${VAR}
	Timeout time.Duration     `yaml:"timeout,omitempty"` // Per-call timeout
}

// HealConfig holds auto-heal settings for dev-server previews.
type HealConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxAttempts     int           `yaml:"max_attempts"`     // Validate/fix cycles per healing run
	StabilizeDelay  time.Duration `yaml:"stabilize_delay"`  // Wait before the first validation
	ValidateTimeout time.Duration `yaml:"validate_timeout"` // Per-validation page fetch timeout
}

// SummaryConfig holds history condensation settings.
type SummaryConfig struct {
	// Strategy selects the condensation strategy: "excerpt" (default) or
	// "minimal".
	Strategy string `yaml:"strategy"`
	// MaxBullets caps the bullet excerpts produced per condensation.
	MaxBullets int `yaml:"max_bullets"`
	// MaxLine truncates each excerpt line beyond this many bytes.
	MaxLine int `yaml:"max_line"`
}

// SessionConfig holds transcript persistence settings.
type SessionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"` // Defaults to the user data dir (~/.local/share/baton/sessions)
}

// HooksConfig holds the user hook list.
type HooksConfig struct {
	Enabled bool         `yaml:"enabled"`
	Hooks   []HookConfig `yaml:"hooks,omitempty"`
}

// HookConfig is a single user hook.
type HookConfig struct {
	Name    string        `yaml:"name"`              // Human-readable name
	Type    string        `yaml:"type"`              // pre_tool, post_tool, on_error, on_start or on_exit
	Match   string        `yaml:"match,omitempty"`   // Tool name glob (empty = all tools)
	Command string        `yaml:"command"`           // Shell command, run via sh -c
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Enabled bool          `yaml:"enabled"`
}

// AuditConfig holds tool-dispatch audit log settings.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxEntries    int  `yaml:"max_entries"`    // Entries kept per session
	MaxResultLen  int  `yaml:"max_result_len"` // Result text truncated beyond this
	RetentionDays int  `yaml:"retention_days"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
			Retry: RetryConfig{
				MaxRetries:  3,
				RetryDelay:  1 * time.Second,
				HTTPTimeout: 120 * time.Second,
			},
		},
		Loop: LoopConfig{
			MaxIterations:  50,
			ReminderLimit:  2,
			StaleAfter:     10 * time.Minute,
			ConfirmTimeout: 5 * time.Minute,
		},
		Workspace: WorkspaceConfig{
			Trust: "standard",
		},
		Tools: ToolsConfig{
			Timeout:        2 * time.Minute,
			MaxResultChars: 30000,
		},
		Skills: SkillsConfig{
			Enabled: true,
			Watch:   true,
		},
		Bridge: BridgeConfig{
			Enabled: false,
		},
		Heal: HealConfig{
			Enabled:         true,
			MaxAttempts:     5,
			StabilizeDelay:  3 * time.Second,
			ValidateTimeout: 10 * time.Second,
		},
		Summary: SummaryConfig{
			Strategy:   "excerpt",
			MaxBullets: 48,
			MaxLine:    160,
		},
		Session: SessionConfig{
			Enabled: true,
		},
		Hooks: HooksConfig{
			Enabled: false,
		},
		Audit: AuditConfig{
			Enabled:       true,
			MaxEntries:    10000,
			MaxResultLen:  1000,
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}
