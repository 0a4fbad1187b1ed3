package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Authorizer restricts file operations to a set of authorized workspace
// roots and resolves the trust level governing each root.
type Authorizer struct {
	roots        []string
	overrides    map[string]Trust // root -> trust level
	defaultTrust Trust
}

// NewAuthorizer creates an Authorizer. Roots are cleaned and made absolute;
// overrides map specific roots to a trust level different from the default.
func NewAuthorizer(roots []string, defaultTrust Trust, overrides map[string]string) (*Authorizer, error) {
	a := &Authorizer{
		overrides:    make(map[string]Trust, len(overrides)),
		defaultTrust: defaultTrust,
	}
	for _, r := range roots {
		abs, err := filepath.Abs(filepath.Clean(r))
		if err != nil {
			return nil, fmt.Errorf("invalid workspace root %q: %w", r, err)
		}
		a.roots = append(a.roots, abs)
	}
	for r, t := range overrides {
		abs, err := filepath.Abs(filepath.Clean(r))
		if err != nil {
			return nil, fmt.Errorf("invalid trust override root %q: %w", r, err)
		}
		a.overrides[abs] = ParseTrust(t)
	}
	return a, nil
}

// Roots returns the authorized roots.
func (a *Authorizer) Roots() []string {
	return a.roots
}

// Authorize resolves path and verifies it lies within an authorized root.
// Symlinks are resolved before the containment check; for paths that do not
// exist yet the parent directory is resolved instead.
func (a *Authorizer) Authorize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.Contains(path, "\x00") {
		return "", fmt.Errorf("null byte in path")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("cannot resolve path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("cannot resolve symlinks: %w", err)
		}
		// New file: resolve the parent so a symlinked directory cannot
		// smuggle the write outside the workspace.
		parent, perr := filepath.EvalSymlinks(filepath.Dir(abs))
		if perr != nil {
			if !os.IsNotExist(perr) {
				return "", fmt.Errorf("cannot resolve parent: %w", perr)
			}
			resolved = abs
		} else {
			resolved = filepath.Join(parent, filepath.Base(abs))
		}
	}

	if len(a.roots) == 0 {
		return "", fmt.Errorf("no authorized workspace roots configured")
	}
	for _, root := range a.roots {
		if within(resolved, root) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("path %q is outside the authorized workspace roots", path)
}

// TrustFor returns the trust level governing path: the override of the
// longest matching root, or the default.
func (a *Authorizer) TrustFor(path string) Trust {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return a.defaultTrust
	}
	best := ""
	trust := a.defaultTrust
	for root, t := range a.overrides {
		if within(abs, root) && len(root) > len(best) {
			best = root
			trust = t
		}
	}
	return trust
}

func within(target, base string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
