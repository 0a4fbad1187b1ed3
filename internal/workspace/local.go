package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"baton/internal/logging"
	"baton/internal/safety"

	"github.com/bmatcuk/doublestar/v4"
)

// Local is the FS over the machine baton runs on, restricted to the
// authorized roots.
type Local struct {
	auth *safety.Authorizer
}

// NewLocal creates a Local workspace guarded by auth.
func NewLocal(auth *safety.Authorizer) *Local {
	return &Local{auth: auth}
}

func (l *Local) Name() string { return "local" }

func (l *Local) Authorize(path string) (string, error) {
	return l.auth.Authorize(path)
}

func (l *Local) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := l.auth.Authorize(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved)
}

func (l *Local) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resolved, err := l.auth.Authorize(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("cannot create parent directory: %w", err)
	}
	return os.WriteFile(resolved, data, 0o644)
}

func (l *Local) ReadDir(ctx context.Context, path string) ([]os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := l.auth.Authorize(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			logging.Warn("skipping unreadable entry", "path", filepath.Join(resolved, e.Name()), "error", err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (l *Local) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := l.auth.Authorize(path)
	if err != nil {
		return nil, err
	}
	return os.Stat(resolved)
}

func (l *Local) Glob(ctx context.Context, base, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := l.auth.Authorize(base)
	if err != nil {
		return nil, err
	}
	matches, err := doublestar.Glob(os.DirFS(resolved), pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(resolved, filepath.FromSlash(m))
	}
	sort.Strings(out)
	return out, nil
}

func (l *Local) Close() error { return nil }
