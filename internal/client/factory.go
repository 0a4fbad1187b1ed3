package client

import (
	"fmt"
	"time"

	"baton/internal/config"
)

// New builds a backend client for the given runtime value. Hot-swapping
// runtime config means building a new client from the new value; history
// stays with the task, not the client.
func New(rt config.Runtime, httpTimeout time.Duration) (Client, error) {
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	if httpTimeout == 0 {
		httpTimeout = 120 * time.Second
	}

	switch rt.Provider {
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:      rt.APIKey,
			BaseURL:     rt.BaseURL,
			Model:       rt.Model,
			MaxTokens:   rt.MaxTokens,
			HTTPTimeout: httpTimeout,
		})
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL:     rt.BaseURL,
			APIKey:      rt.APIKey,
			Model:       rt.Model,
			MaxTokens:   rt.MaxTokens,
			HTTPTimeout: httpTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown backend provider %q", rt.Provider)
	}
}
