// Package audit keeps a per-session record of every tool dispatch so
// destructive actions can be reviewed after the fact.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"baton/internal/logging"
	"baton/internal/redact"
)

// Config holds audit settings.
type Config struct {
	Enabled       bool
	MaxEntries    int
	MaxResultLen  int
	RetentionDays int
}

// DefaultConfig returns the default audit settings.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MaxEntries:    10000,
		MaxResultLen:  1000,
		RetentionDays: 30,
	}
}

// Log records dispatch entries and persists them per session.
type Log struct {
	dir          string
	sessionID    string
	maxEntries   int
	maxResultLen int
	retention    time.Duration
	redactor     *redact.Redactor

	mu      sync.RWMutex
	entries []*Entry
	saveMu  sync.Mutex
	wg      sync.WaitGroup
	enabled bool
}

// New opens the audit log for a session. configDir is the app config
// root; entries live under configDir/audit/<session>.json.
func New(configDir, sessionID string, cfg Config) (*Log, error) {
	if !cfg.Enabled {
		return &Log{enabled: false}, nil
	}

	auditDir := filepath.Join(configDir, "audit")
	// 0700: entries can contain command lines and file paths.
	if err := os.MkdirAll(auditDir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create audit directory: %w", err)
	}

	l := &Log{
		dir:          auditDir,
		sessionID:    sessionID,
		maxEntries:   cfg.MaxEntries,
		maxResultLen: cfg.MaxResultLen,
		retention:    time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		redactor:     redact.New(),
		enabled:      true,
	}
	if err := l.load(); err != nil {
		l.entries = nil
	}
	return l, nil
}

// Record stores an entry and schedules an async save.
func (l *Log) Record(entry *Entry) {
	if l == nil || !l.enabled || entry == nil {
		return
	}

	l.mu.Lock()
	entry.Args = sanitizeArgs(l.redactor, entry.Args)
	entry.Result = truncateResult(l.redactor.Redact(entry.Result), l.maxResultLen)
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.save(); err != nil {
			logging.Warn("audit save failed", "session", l.sessionID, "error", err)
		}
	}()
}

// Query returns entries matching the filter, oldest first.
func (l *Log) Query(f Filter) []*Entry {
	if l == nil || !l.enabled {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []*Entry
	for _, e := range l.entries {
		if e.matches(f) {
			results = append(results, e)
			if f.Limit > 0 && len(results) >= f.Limit {
				break
			}
		}
	}
	return results
}

// Recent returns the newest n entries, newest first.
func (l *Log) Recent(n int) []*Entry {
	if l == nil || !l.enabled || n <= 0 {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.entries) {
		n = len(l.entries)
	}
	results := make([]*Entry, n)
	for i := 0; i < n; i++ {
		results[i] = l.entries[len(l.entries)-1-i]
	}
	return results
}

// Stats summarizes this session's entries.
type Stats struct {
	Total         int
	SuccessCount  int
	ErrorCount    int
	AvgDuration   time.Duration
	ToolBreakdown map[string]int
}

// Stats computes summary statistics over the session.
func (l *Log) Stats() Stats {
	stats := Stats{ToolBreakdown: make(map[string]int)}
	if l == nil || !l.enabled {
		return stats
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total time.Duration
	for _, e := range l.entries {
		stats.ToolBreakdown[e.Tool]++
		if e.Success {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
		total += e.Duration
	}
	stats.Total = len(l.entries)
	if stats.Total > 0 {
		stats.AvgDuration = total / time.Duration(stats.Total)
	}
	return stats
}

// Flush waits for pending saves.
func (l *Log) Flush() {
	if l == nil {
		return
	}
	l.wg.Wait()
}

// Close flushes and removes session files past the retention window.
func (l *Log) Close() error {
	if l == nil || !l.enabled {
		return nil
	}
	l.Flush()
	l.cleanupOldFiles()
	return nil
}

func (l *Log) filePath() string {
	return filepath.Join(l.dir, l.sessionID+".json")
}

func (l *Log) load() error {
	data, err := os.ReadFile(l.filePath())
	if err != nil {
		return err
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.entries = entries
	return nil
}

// save serializes writers: overlapping WriteFile calls to one path would
// interleave truncates.
func (l *Log) save() error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.RLock()
	data, err := json.MarshalIndent(l.entries, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(l.filePath(), data, 0o600)
}

func (l *Log) cleanupOldFiles() {
	files, err := os.ReadDir(l.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-l.retention)
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(l.dir, f.Name()))
		}
	}
}
