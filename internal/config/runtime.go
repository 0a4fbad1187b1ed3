package config

import "fmt"

// Runtime is the backend configuration a conversation loop actually runs
// with. It is an explicit value passed down from the runtime facade, never
// read from globals, so update-runtime-config can swap it between
// iterations without touching live history.
type Runtime struct {
	Provider  string // "anthropic" or "ollama"
	Model     string
	BaseURL   string // empty = provider default
	APIKey    string
	MaxTokens int
}

// RuntimeFromBackend derives the initial Runtime value from the persisted
// backend section.
func RuntimeFromBackend(b BackendConfig) Runtime {
	return Runtime{
		Provider:  b.Provider,
		Model:     b.Model,
		BaseURL:   b.BaseURL,
		APIKey:    b.APIKey,
		MaxTokens: b.MaxTokens,
	}
}

// Merge returns a copy of r with the non-zero fields of patch applied.
// Used by update-runtime-config, where omitted fields mean "keep".
func (r Runtime) Merge(patch Runtime) Runtime {
	out := r
	if patch.Provider != "" {
		out.Provider = patch.Provider
	}
	if patch.Model != "" {
		out.Model = patch.Model
	}
	if patch.BaseURL != "" {
		out.BaseURL = patch.BaseURL
	}
	if patch.APIKey != "" {
		out.APIKey = patch.APIKey
	}
	if patch.MaxTokens > 0 {
		out.MaxTokens = patch.MaxTokens
	}
	return out
}

// Validate reports whether the value is usable for opening a backend client.
func (r Runtime) Validate() error {
	switch r.Provider {
	case "anthropic":
		if r.APIKey == "" {
			return ErrMissingKey
		}
	case "ollama":
	default:
		return ConfigError(fmt.Sprintf("unknown backend provider %q", r.Provider))
	}
	if r.Model == "" {
		return ConfigError("no model configured")
	}
	return nil
}

// String renders the value with the API key masked, safe for logs.
func (r Runtime) String() string {
	key := "(none)"
	if r.APIKey != "" {
		key = "****"
	}
	return fmt.Sprintf("provider=%s model=%s base_url=%s key=%s max_tokens=%d",
		r.Provider, r.Model, r.BaseURL, key, r.MaxTokens)
}
