// Package workspace abstracts the filesystem the builtin file tools operate
// on, so the same tool surface works against the local machine or a remote
// host reached over SFTP.
package workspace

import (
	"context"
	"os"
)

// FS is the file surface exposed to tools. Every operation authorizes its
// path first; violations come back as descriptive errors, never panics.
type FS interface {
	// Name identifies the workspace in logs and tool results,
	// e.g. "local" or "sftp://deploy@build-host".
	Name() string

	// Authorize resolves path and verifies it lies inside the workspace.
	Authorize(path string) (string, error)

	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	ReadDir(ctx context.Context, path string) ([]os.FileInfo, error)
	Stat(ctx context.Context, path string) (os.FileInfo, error)

	// Glob matches pattern (doublestar syntax) under base.
	Glob(ctx context.Context, base, pattern string) ([]string, error)

	Close() error
}
