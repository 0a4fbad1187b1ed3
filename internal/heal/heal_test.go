package heal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestValidatePageHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>My App</title></head><body><h1>hello</h1></body></html>`)
	}))
	defer srv.Close()

	report, err := ValidatePage(context.Background(), srv.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("ValidatePage: %v", err)
	}
	if !report.Healthy {
		t.Errorf("expected healthy, findings: %v", report.Findings)
	}
	if report.Title != "My App" {
		t.Errorf("title = %q, want %q", report.Title, "My App")
	}
	if report.StatusCode != 200 {
		t.Errorf("status = %d, want 200", report.StatusCode)
	}
}

func TestValidatePageUnreachable(t *testing.T) {
	_, err := ValidatePage(context.Background(), "http://127.0.0.1:1/", 500*time.Millisecond)
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   FindingKind
		detail string
	}{
		{
			name:   "missing module single quotes",
			status: 200,
			body:   `<pre>Error: Cannot find module 'express'</pre>`,
			want:   FindingMissingDependency,
			detail: "express",
		},
		{
			name:   "vite unresolved import",
			status: 500,
			body:   `Failed to resolve import "axios" from "src/main.js"`,
			want:   FindingMissingDependency,
			detail: "axios",
		},
		{
			name:   "webpack cannot resolve",
			status: 200,
			body:   `Module not found: Error: Can't resolve 'lodash' in '/app/src'`,
			want:   FindingMissingDependency,
			detail: "lodash",
		},
		{
			name:   "node only require",
			status: 200,
			body:   `<div id="overlay">ReferenceError: require is not defined</div>`,
			want:   FindingNodeOnlySyntax,
			detail: "require is not defined",
		},
		{
			name:   "http error",
			status: 502,
			body:   `bad gateway`,
			want:   FindingHTTPError,
			detail: "HTTP 502",
		},
		{
			name:   "error overlay",
			status: 200,
			body:   `<vite-error-overlay></vite-error-overlay>`,
			want:   FindingErrorOverlay,
			detail: "vite-error-overlay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := Classify(tt.status, tt.body)
			for _, f := range findings {
				if f.Kind == tt.want && f.Detail == tt.detail {
					return
				}
			}
			t.Errorf("Classify(%d, %q) = %v, want finding {%s %s}",
				tt.status, tt.body, findings, tt.want, tt.detail)
		})
	}
}

func TestClassifyRelativeImportNotInstallable(t *testing.T) {
	findings := Classify(200, `Failed to resolve import "./components/App" from "src/main.js"`)
	for _, f := range findings {
		if f.Kind != FindingMissingDependency {
			continue
		}
		if _, _, ok := fixFor(f); ok {
			t.Errorf("relative import %q should not produce an install fix", f.Detail)
		}
	}
}

func TestHealerFixesMissingDependency(t *testing.T) {
	var installed []string
	run := func(ctx context.Context, command string) (string, error) {
		installed = append(installed, command)
		return "added 1 package", nil
	}

	calls := 0
	h := New(run, WithStabilizeDelay(0), WithMaxAttempts(5))
	h.validate = func(ctx context.Context, url string, timeout time.Duration) (*Report, error) {
		calls++
		if calls == 1 {
			return &Report{
				URL:        url,
				StatusCode: 500,
				Findings:   []Finding{{Kind: FindingMissingDependency, Detail: "express"}},
			}, nil
		}
		return &Report{URL: url, StatusCode: 200, Healthy: true}, nil
	}

	outcome, err := h.Heal(context.Background(), "http://localhost:3000")
	if err != nil {
		t.Fatalf("Heal: %v", err)
	}
	if !outcome.Healed {
		t.Error("expected healed outcome")
	}
	if outcome.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", outcome.Attempts)
	}
	if len(installed) != 1 || installed[0] != "npm install express" {
		t.Errorf("ran %v, want [npm install express]", installed)
	}
}

func TestHealerStopsWhenNoFixApplies(t *testing.T) {
	h := New(nil, WithStabilizeDelay(0))
	h.validate = func(ctx context.Context, url string, timeout time.Duration) (*Report, error) {
		return &Report{
			URL:        url,
			StatusCode: 200,
			Findings:   []Finding{{Kind: FindingNodeOnlySyntax, Detail: "require is not defined"}},
		}, nil
	}

	outcome, err := h.Heal(context.Background(), "http://localhost:3000")
	if err != nil {
		t.Fatalf("Heal: %v", err)
	}
	if outcome.Healed {
		t.Error("node-only syntax has no shell fix, should not heal")
	}
	if outcome.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (stop once no fix applies)", outcome.Attempts)
	}
	if !strings.Contains(outcome.Describe(), "require is not defined") {
		t.Errorf("Describe() should carry the finding, got %q", outcome.Describe())
	}
}

func TestHealerRespectsAttemptCap(t *testing.T) {
	runs := 0
	run := func(ctx context.Context, command string) (string, error) {
		runs++
		return "", nil
	}
	h := New(run, WithStabilizeDelay(0), WithMaxAttempts(3))
	h.validate = func(ctx context.Context, url string, timeout time.Duration) (*Report, error) {
		// Never gets better.
		return &Report{
			URL:        url,
			StatusCode: 500,
			Findings:   []Finding{{Kind: FindingMissingDependency, Detail: "left-pad"}},
		}, nil
	}

	outcome, err := h.Heal(context.Background(), "http://localhost:3000")
	if err != nil {
		t.Fatalf("Heal: %v", err)
	}
	if outcome.Healed {
		t.Error("should not report healed")
	}
	if outcome.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", outcome.Attempts)
	}
	if runs != 3 {
		t.Errorf("fix runs = %d, want 3", runs)
	}
}

func TestHealerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := New(nil, WithStabilizeDelay(time.Second))
	if _, err := h.Heal(ctx, "http://localhost:3000"); err == nil {
		t.Fatal("expected context error")
	}
}
