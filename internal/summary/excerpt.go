package summary

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultMaxBullets = 48
	defaultMaxLine    = 160

	summaryHeader = "[Previous conversation summary]"
	summaryFooter = "[End of summary]"
)

// Excerpt condenses every message except the last user request into one
// bullet line each, then rebuilds the history as summary + request. Tool
// activity that ran after the request stays in the bullets so the model
// knows what already happened before the hand-off.
type Excerpt struct {
	// MaxBullets caps the bullet list; the middle is elided beyond it.
	MaxBullets int
	// MaxLine caps each bullet's length in bytes.
	MaxLine int
}

// NewExcerpt returns an Excerpt strategy with default limits.
func NewExcerpt() *Excerpt {
	return &Excerpt{MaxBullets: defaultMaxBullets, MaxLine: defaultMaxLine}
}

func (e *Excerpt) Name() string { return "excerpt" }

func (e *Excerpt) Condense(history []*genai.Content) []*genai.Content {
	if len(history) == 0 {
		return nil
	}

	last := lastUserIndex(history)
	if last < 0 {
		if summary := e.build(history); summary != nil {
			return []*genai.Content{summary}
		}
		return nil
	}

	rest := make([]*genai.Content, 0, len(history)-1)
	rest = append(rest, history[:last]...)
	rest = append(rest, history[last+1:]...)

	request := history[last]
	summary := e.build(rest)
	if summary == nil {
		return []*genai.Content{request}
	}
	return []*genai.Content{summary, request}
}

// build renders messages as a single user-role summary message.
func (e *Excerpt) build(messages []*genai.Content) *genai.Content {
	maxLine := e.MaxLine
	if maxLine <= 0 {
		maxLine = defaultMaxLine
	}

	var bullets []string
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		role := "User"
		if msg.Role == genai.RoleModel {
			role = "Assistant"
		}
		for _, part := range msg.Parts {
			if part == nil || part.Thought {
				continue
			}
			switch {
			case part.Text != "":
				bullets = append(bullets, fmt.Sprintf("- %s: %s", role, excerptLine(part.Text, maxLine)))
			case part.FunctionCall != nil:
				args, _ := json.Marshal(part.FunctionCall.Args)
				bullets = append(bullets, fmt.Sprintf("- Tool call %s %s", part.FunctionCall.Name, excerptLine(string(args), maxLine)))
			case part.FunctionResponse != nil:
				bullets = append(bullets, responseBullet(part.FunctionResponse, maxLine))
			case part.InlineData != nil:
				bullets = append(bullets, fmt.Sprintf("- %s: [image %s]", role, part.InlineData.MIMEType))
			}
		}
	}
	if len(bullets) == 0 {
		return nil
	}

	maxBullets := e.MaxBullets
	if maxBullets <= 0 {
		maxBullets = defaultMaxBullets
	}
	bullets = elideMiddle(bullets, maxBullets)

	text := summaryHeader + "\n" + strings.Join(bullets, "\n") + "\n" + summaryFooter
	return genai.NewContentFromText(text, genai.RoleUser)
}

func responseBullet(resp *genai.FunctionResponse, maxLine int) string {
	if errText, ok := resp.Response["error"].(string); ok && errText != "" {
		return fmt.Sprintf("- Tool %s failed: %s", resp.Name, excerptLine(errText, maxLine))
	}
	if content, ok := resp.Response["content"].(string); ok && content != "" {
		return fmt.Sprintf("- Tool %s: %s", resp.Name, excerptLine(content, maxLine))
	}
	return fmt.Sprintf("- Tool %s: ok", resp.Name)
}

// excerptLine reduces text to its first line, capped at max bytes.
func excerptLine(text string, max int) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > max {
		line = line[:max] + "..."
	}
	return line
}

// elideMiddle keeps the head and tail of the bullet list, replacing the
// middle with a skip marker. Recent steps matter more, so the tail gets
// the larger share.
func elideMiddle(bullets []string, max int) []string {
	if len(bullets) <= max {
		return bullets
	}
	head := max / 3
	tail := max - head - 1
	skipped := len(bullets) - head - tail

	out := make([]string, 0, max)
	out = append(out, bullets[:head]...)
	out = append(out, fmt.Sprintf("- [%d steps omitted]", skipped))
	out = append(out, bullets[len(bullets)-tail:]...)
	return out
}
