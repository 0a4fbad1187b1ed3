// Package summary condenses conversation history for hand-off to a fresh
// task context. Strategies are deterministic: condensation runs while the
// backend is failing, so it cannot lean on a model call.
package summary

import (
	"google.golang.org/genai"
)

// Strategy rewrites a history into a shorter one that still carries the
// user's last request verbatim.
type Strategy interface {
	Name() string
	Condense(history []*genai.Content) []*genai.Content
}

// ByName resolves a strategy from configuration.
func ByName(name string) (Strategy, bool) {
	switch name {
	case "", "excerpt":
		return NewExcerpt(), true
	case "minimal":
		return Minimal{}, true
	}
	return nil, false
}

// Default returns the strategy used when configuration names none.
func Default() Strategy { return NewExcerpt() }

// Minimal drops everything except the last user request. Used when even a
// bullet summary is too much, e.g. after repeated context overflows.
type Minimal struct{}

func (Minimal) Name() string { return "minimal" }

func (Minimal) Condense(history []*genai.Content) []*genai.Content {
	last := lastUserIndex(history)
	if last < 0 {
		return nil
	}
	return []*genai.Content{history[last]}
}

// lastUserIndex finds the most recent plain user request: a user-role
// message carrying text or an image, not a tool-result carrier.
func lastUserIndex(history []*genai.Content) int {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg == nil || msg.Role != genai.RoleUser {
			continue
		}
		plain := false
		for _, part := range msg.Parts {
			if part == nil {
				continue
			}
			if part.FunctionResponse != nil {
				plain = false
				break
			}
			if part.Text != "" || part.InlineData != nil {
				plain = true
			}
		}
		if plain {
			return i
		}
	}
	return -1
}
