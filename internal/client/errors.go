package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Cause is the classified reason a backend call failed.
type Cause string

const (
	CauseRateLimited      Cause = "rate_limited"
	CauseContextOverflow  Cause = "context_overflow"
	CauseServerError      Cause = "server_error"
	CauseSensitiveContent Cause = "sensitive_content"
	CauseAuth             Cause = "auth"
	CauseUnknown          Cause = "unknown"
)

// Classification says whether a failure is worth retrying and why it
// happened. Retryable causes are recovered by condensing history onto a
// fresh task; the rest either get a corrective message (sensitive content)
// or surface verbatim.
type Classification struct {
	Retryable bool
	Cause     Cause
}

// APIError is a backend HTTP error.
type APIError struct {
	StatusCode int
	Type       string // provider error type, e.g. "overloaded_error"
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

var overflowMarkers = []string{
	"prompt is too long",
	"maximum context length",
	"context window",
	"too many tokens",
	"input length exceeds",
	"context length exceeded",
}

var sensitiveMarkers = []string{
	"content filtering",
	"content management policy",
	"usage policy",
	"flagged as sensitive",
	"safety reasons",
}

// Classify maps a backend failure onto a Classification. Typed checks come
// first; message sniffing is the fallback for untyped errors from
// third-party transports.
func Classify(err error) Classification {
	if err == nil {
		return Classification{false, CauseUnknown}
	}
	if errors.Is(err, context.Canceled) {
		// Cancellation is handled by the loop before classification; it is
		// never retried.
		return Classification{false, CauseUnknown}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{true, CauseServerError}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return classifyAPI(apiErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{true, CauseServerError}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"):
		return Classification{true, CauseRateLimited}
	case containsAny(msg, overflowMarkers):
		return Classification{true, CauseContextOverflow}
	case containsAny(msg, sensitiveMarkers):
		return Classification{false, CauseSensitiveContent}
	case strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "unexpected eof"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "tls handshake"):
		return Classification{true, CauseServerError}
	}
	return Classification{false, CauseUnknown}
}

func classifyAPI(e *APIError) Classification {
	switch e.StatusCode {
	case 401, 403:
		return Classification{false, CauseAuth}
	case 429:
		return Classification{true, CauseRateLimited}
	case 413:
		return Classification{true, CauseContextOverflow}
	case 500, 502, 503, 504, 529:
		return Classification{true, CauseServerError}
	}

	msg := strings.ToLower(e.Message)
	if e.StatusCode == 400 {
		if containsAny(msg, overflowMarkers) {
			return Classification{true, CauseContextOverflow}
		}
		if containsAny(msg, sensitiveMarkers) {
			return Classification{false, CauseSensitiveContent}
		}
		if e.Type == "authentication_error" {
			return Classification{false, CauseAuth}
		}
	}
	if e.Type == "overloaded_error" {
		return Classification{true, CauseServerError}
	}
	return Classification{false, CauseUnknown}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// IsRetryableError reports whether a failure is transient per Classify.
func IsRetryableError(err error) bool {
	return Classify(err).Retryable
}
