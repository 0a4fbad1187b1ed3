package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenBrowserPreviewValidate(t *testing.T) {
	tool := NewOpenBrowserPreviewTool(true)

	tests := []struct {
		name string
		args map[string]any
		ok   bool
	}{
		{"http", map[string]any{"url": "http://localhost:5173"}, true},
		{"https", map[string]any{"url": "https://example.com/app"}, true},
		{"missing", map[string]any{}, false},
		{"empty", map[string]any{"url": ""}, false},
		{"file scheme", map[string]any{"url": "file:///etc/passwd"}, false},
		{"javascript scheme", map[string]any{"url": "javascript:alert(1)"}, false},
		{"no host", map[string]any{"url": "http://"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.Validate(tt.args)
			if tt.ok && err != nil {
				t.Errorf("Validate(%v) = %v", tt.args, err)
			}
			if !tt.ok && err == nil {
				t.Errorf("Validate(%v) accepted", tt.args)
			}
		})
	}
}

func TestOpenBrowserPreviewHeadless(t *testing.T) {
	tool := NewOpenBrowserPreviewTool(true)

	result, err := tool.Execute(context.Background(), map[string]any{"url": "http://localhost:5173"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Content, "Preview available at http://localhost:5173") {
		t.Errorf("content = %q", result.Content)
	}

	data := result.Data.(map[string]any)
	if data["opened"] != false {
		t.Error("headless preview reported as opened")
	}
	if data["url"] != "http://localhost:5173" {
		t.Errorf("url = %v", data["url"])
	}
}

func TestValidatePageValidate(t *testing.T) {
	tool := NewValidatePageTool()

	if err := tool.Validate(map[string]any{"url": "http://localhost:3000"}); err != nil {
		t.Errorf("plain url rejected: %v", err)
	}
	if err := tool.Validate(map[string]any{"url": "http://localhost:3000", "timeout_seconds": 30}); err != nil {
		t.Errorf("timeout 30 rejected: %v", err)
	}
	if err := tool.Validate(map[string]any{"url": "http://localhost:3000", "timeout_seconds": 500}); err == nil {
		t.Error("timeout 500 accepted")
	}
	if err := tool.Validate(map[string]any{"url": "ftp://host/file"}); err == nil {
		t.Error("ftp url accepted")
	}
}

func TestValidatePageHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>My App</title></head><body><h1>Hello</h1></body></html>"))
	}))
	defer srv.Close()

	tool := NewValidatePageTool()
	result, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	data := result.Data.(map[string]any)
	if data["healthy"] != true {
		t.Errorf("healthy = %v", data["healthy"])
	}
	if data["status"] != 200 {
		t.Errorf("status = %v", data["status"])
	}
	if data["title"] != "My App" {
		t.Errorf("title = %v", data["title"])
	}
	if findings := data["findings"].([]map[string]any); len(findings) != 0 {
		t.Errorf("findings = %v", findings)
	}
}

func TestValidatePageReportsMissingDependency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`<html><body><pre>Error: Cannot find module 'express'</pre></body></html>`))
	}))
	defer srv.Close()

	tool := NewValidatePageTool()
	result, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	data := result.Data.(map[string]any)
	if data["healthy"] != false {
		t.Error("broken page reported healthy")
	}

	findings := data["findings"].([]map[string]any)
	var kinds []string
	for _, f := range findings {
		kinds = append(kinds, f["kind"].(string))
	}
	joined := strings.Join(kinds, ",")
	if !strings.Contains(joined, "http-error") || !strings.Contains(joined, "missing-dependency") {
		t.Errorf("finding kinds = %v", kinds)
	}
}

func TestValidatePageUnreachable(t *testing.T) {
	tool := NewValidatePageTool()

	// Port 1 is never listening.
	result, err := tool.Execute(context.Background(), map[string]any{"url": "http://127.0.0.1:1/", "timeout_seconds": 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatalf("unreachable server reported success: %+v", result)
	}
	if result.Error == "" {
		t.Error("no error message for unreachable server")
	}
}
