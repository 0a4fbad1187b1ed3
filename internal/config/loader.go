package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ConfigError is a configuration validation error.
type ConfigError string

func (e ConfigError) Error() string { return string(e) }

// ErrMissingKey is returned when the selected provider requires an API key
// and none is configured.
const ErrMissingKey = ConfigError("no API key configured for backend provider")

const appDirName = "baton"

// Load reads the configuration from the given path, or from the default
// location when path is empty. Missing files are not an error; defaults
// apply. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultPath()
	}
	if err := loadFromFile(cfg, path); err != nil {
		return nil, err
	}
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	// ${VAR} references in the file are expanded before parsing so keys can
	// live in the environment rather than on disk.
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("BATON_PROVIDER"); v != "" {
		cfg.Backend.Provider = v
	}
	if v := os.Getenv("BATON_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("BATON_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("BATON_MODEL"); v != "" {
		cfg.Backend.Model = v
	}
	if v := os.Getenv("BATON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks cross-field constraints that yaml decoding cannot.
func (c *Config) Validate() error {
	switch c.Backend.Provider {
	case "anthropic":
		if c.Backend.APIKey == "" {
			return ErrMissingKey
		}
	case "ollama":
		// Local servers need no key.
	default:
		return ConfigError(fmt.Sprintf("unknown backend provider %q", c.Backend.Provider))
	}

	switch c.Workspace.Trust {
	case "trust", "standard", "strict":
	case "":
		c.Workspace.Trust = "standard"
	default:
		return ConfigError(fmt.Sprintf("unknown trust level %q", c.Workspace.Trust))
	}

	if c.Loop.MaxIterations <= 0 {
		c.Loop.MaxIterations = DefaultConfig().Loop.MaxIterations
	}
	if c.Heal.MaxAttempts <= 0 {
		c.Heal.MaxAttempts = DefaultConfig().Heal.MaxAttempts
	}
	return nil
}

// DefaultPath returns the platform config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Dir returns the platform config directory for the application.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appDirName
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appDirName)
	}
	return filepath.Join(home, ".config", appDirName)
}

// Save writes the configuration atomically (temp file + rename) with
// restrictive permissions, since it may hold API keys.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}
