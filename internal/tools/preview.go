package tools

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"google.golang.org/genai"

	"baton/internal/heal"
	"baton/internal/logging"
)

// OpenBrowserPreviewTool opens a URL in the user's default browser.
// In headless mode nothing is launched; the URL is just reported so
// the host can render it.
type OpenBrowserPreviewTool struct {
	headless bool
}

// NewOpenBrowserPreviewTool builds the preview opener. headless disables
// launching an external browser.
func NewOpenBrowserPreviewTool(headless bool) *OpenBrowserPreviewTool {
	return &OpenBrowserPreviewTool{headless: headless}
}

func (t *OpenBrowserPreviewTool) Name() string { return "open_browser_preview" }

func (t *OpenBrowserPreviewTool) Description() string {
	return "Opens a URL in the user's browser to preview a running application."
}

func (t *OpenBrowserPreviewTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"url": {
					Type:        genai.TypeString,
					Description: "The http or https URL to open",
				},
			},
			Required: []string{"url"},
		},
	}
}

func (t *OpenBrowserPreviewTool) Validate(args map[string]any) error {
	raw, ok := GetString(args, "url")
	if !ok || raw == "" {
		return NewValidationError("url", "is required")
	}
	if _, err := parsePreviewURL(raw); err != nil {
		return NewValidationError("url", err.Error())
	}
	return nil
}

func (t *OpenBrowserPreviewTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	raw, _ := GetString(args, "url")
	u, err := parsePreviewURL(raw)
	if err != nil {
		return NewErrorResult(err.Error()), nil
	}

	if t.headless {
		return NewSuccessResultWithData(
			fmt.Sprintf("Preview available at %s", u),
			map[string]any{"url": u.String(), "opened": false},
		), nil
	}

	if err := openBrowser(ctx, u.String()); err != nil {
		logging.Warn("browser launch failed", "error", err)
		return NewSuccessResultWithData(
			fmt.Sprintf("Could not launch a browser (%v). Preview available at %s", err, u),
			map[string]any{"url": u.String(), "opened": false},
		), nil
	}
	return NewSuccessResultWithData(
		fmt.Sprintf("Opened preview at %s", u),
		map[string]any{"url": u.String(), "opened": true},
	), nil
}

func parsePreviewURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q, only http and https are allowed", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}

func openBrowser(ctx context.Context, target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", target)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", target)
	}
	return cmd.Start()
}

// ValidatePageTool fetches a preview URL and classifies rendering
// problems so the model can fix them.
type ValidatePageTool struct {
	defaultTimeout time.Duration
}

// NewValidatePageTool builds the page validator.
func NewValidatePageTool() *ValidatePageTool {
	return &ValidatePageTool{defaultTimeout: 10 * time.Second}
}

func (t *ValidatePageTool) Name() string { return "validate_page" }

func (t *ValidatePageTool) Description() string {
	return "Fetches a page from a running dev server and reports HTTP status, title, and " +
		"detected errors such as missing dependencies, Node-only syntax reaching the " +
		"browser, and dev-server error overlays."
}

func (t *ValidatePageTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"url": {
					Type:        genai.TypeString,
					Description: "The page URL to validate",
				},
				"timeout_seconds": {
					Type:        genai.TypeInteger,
					Description: "Fetch timeout in seconds (default 10)",
				},
			},
			Required: []string{"url"},
		},
	}
}

func (t *ValidatePageTool) Validate(args map[string]any) error {
	raw, ok := GetString(args, "url")
	if !ok || raw == "" {
		return NewValidationError("url", "is required")
	}
	if _, err := parsePreviewURL(raw); err != nil {
		return NewValidationError("url", err.Error())
	}
	if secs := GetIntDefault(args, "timeout_seconds", 0); secs < 0 || secs > 120 {
		return NewValidationError("timeout_seconds", "must be between 0 and 120")
	}
	return nil
}

func (t *ValidatePageTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	raw, _ := GetString(args, "url")
	timeout := t.defaultTimeout
	if secs := GetIntDefault(args, "timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	report, err := heal.ValidatePage(ctx, raw, timeout)
	if err != nil {
		return NewErrorResult(err.Error()), nil
	}

	findings := make([]map[string]any, 0, len(report.Findings))
	for _, f := range report.Findings {
		findings = append(findings, map[string]any{"kind": string(f.Kind), "detail": f.Detail})
	}
	return NewSuccessResultWithData(report.Describe(), map[string]any{
		"healthy":  report.Healthy,
		"status":   report.StatusCode,
		"title":    report.Title,
		"findings": findings,
	}), nil
}
