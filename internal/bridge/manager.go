package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"baton/internal/config"
	"baton/internal/logging"
	"baton/internal/tools"
)

// Manager owns the connections to all configured plugin-tool servers and
// adapts their tools into one registry set. The set is re-fetched when
// Refresh runs; between refreshes the cached list is served, since the
// registry is rebuilt every loop iteration anyway.
type Manager struct {
	configs []config.BridgeServerConfig

	mu    sync.RWMutex
	conns map[string]*Conn
	tools []tools.Tool
}

// NewManager creates a manager for the configured servers. Nothing is
// connected until Connect runs.
func NewManager(configs []config.BridgeServerConfig) *Manager {
	return &Manager{configs: configs, conns: make(map[string]*Conn)}
}

// Connect dials every configured server in parallel. A server that fails
// to come up is reported but does not block the others; its tools are
// simply absent this session.
func (m *Manager) Connect(ctx context.Context) error {
	type outcome struct {
		name  string
		conn  *Conn
		tools []tools.Tool
		err   error
	}

	results := make(chan outcome, len(m.configs))
	var wg sync.WaitGroup
	for _, cfg := range m.configs {
		wg.Add(1)
		go func(cfg config.BridgeServerConfig) {
			defer wg.Done()
			out := outcome{name: cfg.Name}

			conn, err := Dial(ctx, cfg.Name, cfg.Command, cfg.Args, cfg.Env, cfg.Timeout)
			if err != nil {
				out.err = err
				results <- out
				return
			}
			infos, err := conn.ListTools(ctx)
			if err != nil {
				conn.Close()
				out.err = err
				results <- out
				return
			}
			for _, info := range infos {
				out.tools = append(out.tools, newServerTool(conn, info))
			}
			out.conn = conn
			results <- out
		}(cfg)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var errs []error
	m.mu.Lock()
	for out := range results {
		if out.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", out.name, out.err))
			continue
		}
		m.conns[out.name] = out.conn
		m.tools = append(m.tools, out.tools...)
		logging.Info("bridge tools registered", "server", out.name, "count", len(out.tools))
	}
	m.mu.Unlock()

	return errors.Join(errs...)
}

// Set returns the current bridge tools for registry merging.
func (m *Manager) Set() tools.Set {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]tools.Tool, len(m.tools))
	copy(out, m.tools)
	return tools.Set{Kind: tools.KindPluginBridge, Tools: out}
}

// Refresh re-fetches the tool list from one server, replacing its entries.
// The plugin set may change while connected; callers refresh on their own
// cadence.
func (m *Manager) Refresh(ctx context.Context, server string) error {
	m.mu.RLock()
	conn, ok := m.conns[server]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bridge server not connected: %s", server)
	}

	infos, err := conn.ListTools(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.tools[:0]
	for _, t := range m.tools {
		if st, ok := t.(*serverTool); ok && st.conn.Server() == server {
			continue
		}
		kept = append(kept, t)
	}
	for _, info := range infos {
		kept = append(kept, newServerTool(conn, info))
	}
	m.tools = kept
	logging.Debug("bridge tools refreshed", "server", server, "count", len(infos))
	return nil
}

// Connected lists the names of live servers.
func (m *Manager) Connected() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.conns))
	for name := range m.conns {
		names = append(names, name)
	}
	return names
}

// Shutdown closes every connection.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for name, conn := range m.conns {
		if err := conn.Close(); err != nil {
			logging.Warn("bridge close failed", "server", name, "error", err)
			lastErr = err
		}
	}
	m.conns = make(map[string]*Conn)
	m.tools = nil
	return lastErr
}
