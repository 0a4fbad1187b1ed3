// Package heal validates a dev server's preview page after startup and
// drives a bounded stabilize/validate/fix cycle over the fixable error
// categories it finds.
package heal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// FindingKind categorizes a page problem.
type FindingKind string

const (
	FindingHTTPError         FindingKind = "http-error"
	FindingEmptyPage         FindingKind = "empty-page"
	FindingErrorOverlay      FindingKind = "error-overlay"
	FindingMissingDependency FindingKind = "missing-dependency"
	FindingNodeOnlySyntax    FindingKind = "node-only-syntax"
)

// Finding is one detected problem with supporting detail.
type Finding struct {
	Kind   FindingKind
	Detail string
}

// Report is the outcome of validating one page load.
type Report struct {
	URL        string
	StatusCode int
	Title      string
	Findings   []Finding
	Healthy    bool
}

const maxBodyBytes = 2 << 20

var missingDepRe = []*regexp.Regexp{
	regexp.MustCompile(`Cannot find module '([^']+)'`),
	regexp.MustCompile(`Cannot find module "([^"]+)"`),
	regexp.MustCompile(`Failed to resolve import "([^"]+)"`),
	regexp.MustCompile(`Module not found: (?:Error: )?Can't resolve '([^']+)'`),
}

var nodeOnlyMarkers = []string{
	"require is not defined",
	"module is not defined",
	"exports is not defined",
	"process is not defined",
	"__dirname is not defined",
	"Buffer is not defined",
}

var overlayMarkers = []string{
	"vite-error-overlay",
	"Unhandled Runtime Error",
	"Application error: a client-side exception",
	"Internal Server Error",
	"Cannot GET /",
	"This page isn’t working",
}

// ValidatePage fetches url and classifies what it finds. A transport-level
// failure is returned as an error; page-level problems come back as
// findings in the report.
func ValidatePage(ctx context.Context, url string, timeout time.Duration) (*Report, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid preview url %q: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("cannot read page body: %w", err)
	}

	report := &Report{URL: url, StatusCode: resp.StatusCode}
	report.Title, _ = parsePage(string(body))
	report.Findings = Classify(resp.StatusCode, string(body))
	report.Healthy = len(report.Findings) == 0
	return report, nil
}

// Classify maps a page response to findings. Exposed separately so the
// validate_page tool and the heal cycle share one classification.
func Classify(statusCode int, body string) []Finding {
	var findings []Finding

	if statusCode >= 400 {
		findings = append(findings, Finding{
			Kind:   FindingHTTPError,
			Detail: fmt.Sprintf("HTTP %d", statusCode),
		})
	}

	for _, re := range missingDepRe {
		for _, m := range re.FindAllStringSubmatch(body, 3) {
			findings = append(findings, Finding{
				Kind:   FindingMissingDependency,
				Detail: m[1],
			})
		}
	}

	for _, marker := range nodeOnlyMarkers {
		if strings.Contains(body, marker) {
			findings = append(findings, Finding{
				Kind:   FindingNodeOnlySyntax,
				Detail: marker,
			})
		}
	}

	for _, marker := range overlayMarkers {
		if strings.Contains(body, marker) {
			findings = append(findings, Finding{
				Kind:   FindingErrorOverlay,
				Detail: marker,
			})
			break
		}
	}

	if statusCode < 400 && strings.TrimSpace(visibleText(body)) == "" && !strings.Contains(body, "<script") {
		findings = append(findings, Finding{Kind: FindingEmptyPage, Detail: "page renders no content"})
	}

	return dedupe(findings)
}

func dedupe(findings []Finding) []Finding {
	seen := make(map[Finding]bool, len(findings))
	out := findings[:0]
	for _, f := range findings {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// parsePage extracts the title and reports whether the document parsed.
func parsePage(body string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", false
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, true
}

// visibleText collects the rendered text of the document body.
func visibleText(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}

// Describe renders a report as tool-result text.
func (r *Report) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s -> HTTP %d", r.URL, r.StatusCode)
	if r.Title != "" {
		fmt.Fprintf(&b, " (%q)", r.Title)
	}
	b.WriteByte('\n')
	if r.Healthy {
		b.WriteString("Page is healthy.\n")
		return b.String()
	}
	b.WriteString("Problems detected:\n")
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "- %s: %s\n", f.Kind, f.Detail)
	}
	return b.String()
}
