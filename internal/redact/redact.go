// Package redact masks secrets in text before it reaches logs, the audit
// trail, or the model transcript.
package redact

import (
	"regexp"
	"strings"
)

const mask = "[REDACTED]"

// pattern pairs a compiled regex with the index of the capture group holding
// the secret value. group 0 means the whole match is the secret.
type pattern struct {
	re    *regexp.Regexp
	group int
}

// Redactor masks sensitive values in strings using a fixed pattern table
// plus any patterns added at runtime.
type Redactor struct {
	patterns  []pattern
	allowlist map[string]bool
}

// New creates a Redactor covering API keys, tokens, private keys and
// credentialed URLs.
func New() *Redactor {
	return &Redactor{
		allowlist: map[string]bool{
			"true": true, "false": true, "null": true,
			"example": true, "test": true, "xxx": true,
			"localhost": true, "127.0.0.1": true, "0.0.0.0": true, "::1": true,
			"development": true, "staging": true, "production": true,
		},
		patterns: []pattern{
			// key=value assignments: preserve the key, mask the value
			{regexp.MustCompile(`(?i)(api[_-]?key|access[_-]?token|auth[_-]?token|secret|password|passwd|pwd)["']?[:=]\s*["']?([a-zA-Z0-9_\-\.+/]{8,}={0,2})`), 2},

			// provider API keys
			{regexp.MustCompile(`sk-ant-[a-zA-Z0-9_\-]{20,}`), 0},
			{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), 0},
			{regexp.MustCompile(`gh[pous]_[a-zA-Z0-9]{36}`), 0},
			{regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`), 0},
			{regexp.MustCompile(`sk_(?:live|test)_[0-9a-zA-Z]{24}`), 0},
			{regexp.MustCompile(`xox[baprs]-[0-9]{10,}-[0-9]{10,}-[a-zA-Z0-9]{24}`), 0},

			// bearer and basic auth headers
			{regexp.MustCompile(`(?i)Bearer\s+([a-zA-Z0-9_\-\.]{10,256})`), 1},
			{regexp.MustCompile(`(?i)Authorization:\s*Basic\s+[A-Za-z0-9+/]{20,}={0,2}`), 0},

			// JWTs
			{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.(?:eyJ[a-zA-Z0-9_-]+)?\.[a-zA-Z0-9_-]{20,}`), 0},

			// PEM blocks
			{regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]+?-----END [A-Z ]*PRIVATE KEY-----`), 0},

			// credentialed connection URLs: user:password@host
			{regexp.MustCompile(`(?i)(postgres|postgresql|mysql|mongodb|redis|amqp)://[^@\s]+@`), 0},

			// slack webhooks
			{regexp.MustCompile(`https?://hooks\.slack\.com/services/[A-Za-z0-9/]{30,}`), 0},
		},
	}
}

// AddPattern registers an extra pattern whose whole match is masked.
func (r *Redactor) AddPattern(expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, pattern{re: re, group: 0})
	return nil
}

// Redact masks all detected secrets in text.
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return ""
	}
	for _, p := range r.patterns {
		if !p.re.MatchString(text) {
			continue
		}
		if p.group == 0 {
			text = p.re.ReplaceAllString(text, mask)
			continue
		}
		text = p.re.ReplaceAllStringFunc(text, func(match string) string {
			subs := p.re.FindStringSubmatchIndex(match)
			start, end := subs[2*p.group], subs[2*p.group+1]
			if start < 0 {
				return mask
			}
			value := match[start:end]
			if r.allowed(value) {
				return match
			}
			return match[:start] + mask + match[end:]
		})
	}
	return text
}

// RedactMap masks string values in a map, descending into nested maps. Used
// for tool arguments before they are logged or audited.
func (r *Redactor) RedactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = r.Redact(t)
		case map[string]any:
			out[k] = r.RedactMap(t)
		default:
			out[k] = v
		}
	}
	return out
}

func (r *Redactor) allowed(value string) bool {
	lower := strings.Trim(strings.ToLower(value), "\"'")
	if len(lower) <= 4 {
		return true
	}
	if r.allowlist[lower] {
		return true
	}
	for _, safe := range []string{"example", "sample", "placeholder", "changeme", "your-"} {
		if strings.Contains(lower, safe) {
			return true
		}
	}
	return false
}
