package workspace

import (
	"context"
	"os"
	"path/filepath"
)

// rooted resolves relative paths against a base directory before
// delegating. The local FS otherwise resolves them against the process
// working directory, which is not where a submission's files belong.
type rooted struct {
	base  string
	inner FS
}

// Rooted scopes fs to base: relative paths land under base, absolute
// paths pass through and stay subject to fs's own authorization. An
// empty base returns fs unchanged.
func Rooted(fs FS, base string) FS {
	if base == "" {
		return fs
	}
	return &rooted{base: base, inner: fs}
}

func (r *rooted) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.base, p)
}

func (r *rooted) Name() string { return r.inner.Name() }

func (r *rooted) Authorize(p string) (string, error) {
	return r.inner.Authorize(r.resolve(p))
}

func (r *rooted) ReadFile(ctx context.Context, p string) ([]byte, error) {
	return r.inner.ReadFile(ctx, r.resolve(p))
}

func (r *rooted) WriteFile(ctx context.Context, p string, data []byte) error {
	return r.inner.WriteFile(ctx, r.resolve(p), data)
}

func (r *rooted) ReadDir(ctx context.Context, p string) ([]os.FileInfo, error) {
	return r.inner.ReadDir(ctx, r.resolve(p))
}

func (r *rooted) Stat(ctx context.Context, p string) (os.FileInfo, error) {
	return r.inner.Stat(ctx, r.resolve(p))
}

func (r *rooted) Glob(ctx context.Context, base, pattern string) ([]string, error) {
	return r.inner.Glob(ctx, r.resolve(base), pattern)
}

func (r *rooted) Close() error { return r.inner.Close() }
