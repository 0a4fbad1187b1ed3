package workspace

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"baton/internal/logging"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// RemoteOptions configures an SFTP-backed workspace.
type RemoteOptions struct {
	Host           string // "host" or "host:port", port defaults to 22
	User           string
	KeyFile        string
	KeyPassphrase  string
	Password       string // fallback when no key is usable
	Root           string // absolute remote directory the workspace is confined to
	Timeout        time.Duration
	KnownHostsPath string
}

// Remote is the FS over an SFTP connection. The connection is established
// lazily on first use and verified with a keepalive before reuse.
type Remote struct {
	opts RemoteOptions
	root string

	mu   sync.Mutex
	conn *ssh.Client
	sftp *sftp.Client
}

// NewRemote creates a Remote workspace. Root must be an absolute remote
// path; nothing outside it is reachable through this FS.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("remote workspace requires a host")
	}
	root := path.Clean(opts.Root)
	if !path.IsAbs(root) {
		return nil, fmt.Errorf("remote workspace root must be absolute, got %q", opts.Root)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		if u, err := user.Current(); err == nil {
			opts.User = u.Username
		}
	}
	return &Remote{opts: opts, root: root}, nil
}

func (r *Remote) Name() string {
	return fmt.Sprintf("sftp://%s@%s", r.opts.User, r.opts.Host)
}

// Authorize resolves path against the remote root and rejects escapes.
// Remote paths use forward slashes regardless of the local OS.
func (r *Remote) Authorize(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.Contains(p, "\x00") {
		return "", fmt.Errorf("null byte in path")
	}
	resolved := path.Clean(p)
	if !path.IsAbs(resolved) {
		resolved = path.Join(r.root, resolved)
	}
	if resolved != r.root && !strings.HasPrefix(resolved, r.root+"/") {
		return "", fmt.Errorf("path %q is outside the remote workspace root", p)
	}
	return resolved, nil
}

func (r *Remote) ReadFile(ctx context.Context, p string) ([]byte, error) {
	resolved, err := r.Authorize(p)
	if err != nil {
		return nil, err
	}
	client, err := r.ensure(ctx)
	if err != nil {
		return nil, err
	}
	f, err := client.Open(resolved)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (r *Remote) WriteFile(ctx context.Context, p string, data []byte) error {
	resolved, err := r.Authorize(p)
	if err != nil {
		return err
	}
	client, err := r.ensure(ctx)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(path.Dir(resolved)); err != nil {
		return fmt.Errorf("cannot create parent directory: %w", err)
	}
	f, err := client.Create(resolved)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return nil
}

func (r *Remote) ReadDir(ctx context.Context, p string) ([]os.FileInfo, error) {
	resolved, err := r.Authorize(p)
	if err != nil {
		return nil, err
	}
	client, err := r.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return client.ReadDir(resolved)
}

func (r *Remote) Stat(ctx context.Context, p string) (os.FileInfo, error) {
	resolved, err := r.Authorize(p)
	if err != nil {
		return nil, err
	}
	client, err := r.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return client.Stat(resolved)
}

func (r *Remote) Glob(ctx context.Context, base, pattern string) ([]string, error) {
	resolved, err := r.Authorize(base)
	if err != nil {
		return nil, err
	}
	client, err := r.ensure(ctx)
	if err != nil {
		return nil, err
	}

	var matches []string
	walker := client.Walk(resolved)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if walker.Err() != nil {
			continue
		}
		rel := strings.TrimPrefix(walker.Path(), resolved)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			continue
		}
		ok, merr := doublestar.Match(pattern, rel)
		if merr != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, merr)
		}
		if ok {
			matches = append(matches, walker.Path())
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// Close tears down the SFTP and SSH connections.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sftp != nil {
		r.sftp.Close()
		r.sftp = nil
	}
	if r.conn != nil {
		err := r.conn.Close()
		r.conn = nil
		return err
	}
	return nil
}

// ensure returns a live SFTP client, dialing if needed.
func (r *Remote) ensure(ctx context.Context) (*sftp.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		if _, _, err := r.conn.SendRequest("keepalive@openssh.com", true, nil); err == nil {
			return r.sftp, nil
		}
		r.sftp.Close()
		r.conn.Close()
		r.conn, r.sftp = nil, nil
	}

	cfg, err := r.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := r.opts.Host
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, "22")
	}
	logging.Info("connecting to remote workspace", "addr", addr, "user", r.opts.User)

	dialer := &net.Dialer{Timeout: r.opts.Timeout}
	tcp, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("cannot reach %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(tcp, addr, cfg)
	if err != nil {
		tcp.Close()
		return nil, fmt.Errorf("ssh handshake failed: %w", err)
	}
	conn := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("cannot open sftp channel: %w", err)
	}
	r.conn, r.sftp = conn, client
	return client, nil
}

func (r *Remote) clientConfig() (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if r.opts.KeyFile != "" {
		if signer := loadSigner(r.opts.KeyFile, r.opts.KeyPassphrase); signer != nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}
	if len(methods) == 0 {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			if signer := loadSigner(expandHome("~/.ssh/"+name), ""); signer != nil {
				methods = append(methods, ssh.PublicKeys(signer))
				break
			}
		}
	}
	if r.opts.Password != "" {
		methods = append(methods, ssh.Password(r.opts.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no usable SSH authentication method for %s", r.opts.Host)
	}

	callback := hostKeyCallback(r.opts.KnownHostsPath)
	return &ssh.ClientConfig{
		User:            r.opts.User,
		Auth:            methods,
		HostKeyCallback: callback,
		Timeout:         r.opts.Timeout,
	}, nil
}

func hostKeyCallback(knownHostsPath string) ssh.HostKeyCallback {
	if knownHostsPath == "" {
		knownHostsPath = expandHome("~/.ssh/known_hosts")
	}
	if cb, err := knownhosts.New(knownHostsPath); err == nil {
		return cb
	}
	logging.Warn("known_hosts unavailable, skipping host key verification", "path", knownHostsPath)
	return ssh.InsecureIgnoreHostKey()
}

func loadSigner(keyPath, passphrase string) ssh.Signer {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(data)
	}
	if err != nil {
		logging.Warn("cannot parse SSH key", "path", keyPath, "error", err)
		return nil
	}
	return signer
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if u, err := user.Current(); err == nil {
			return filepath.Join(u.HomeDir, p[2:])
		}
	}
	return p
}
