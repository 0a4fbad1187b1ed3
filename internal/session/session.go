// Package session persists task transcripts as JSON files, one per task
// id, so a conversation survives restarts and recovery rebinds.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"google.golang.org/genai"

	"baton/internal/logging"
)

// Record is one saved transcript.
type Record struct {
	ID         string              `json:"id"`
	StartedAt  time.Time           `json:"started_at"`
	LastActive time.Time           `json:"last_active"`
	WorkDir    string              `json:"work_dir,omitempty"`
	Title      string              `json:"title,omitempty"`
	History    []serializedContent `json:"history"`
}

// Info is the listing view of a saved transcript.
type Info struct {
	ID         string
	StartedAt  time.Time
	LastActive time.Time
	Title      string
	Entries    int
}

// Store reads and writes transcript files under one directory.
type Store struct {
	dir string
}

// Open ensures dir exists and returns a store over it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// DefaultDir resolves the transcript directory: $XDG_DATA_HOME/baton/sessions,
// falling back to ~/.local/share/baton/sessions.
func DefaultDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "baton", "sessions"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "baton", "sessions"), nil
}

// FromHistory builds a Record from a live task history. The title is the
// first line of the first user message.
func FromHistory(id, workDir string, history []*genai.Content) *Record {
	now := time.Now()
	rec := &Record{
		ID:         id,
		StartedAt:  now,
		LastActive: now,
		WorkDir:    workDir,
		Title:      titleOf(history),
		History:    make([]serializedContent, 0, len(history)),
	}
	for _, c := range history {
		if c == nil {
			continue
		}
		rec.History = append(rec.History, encodeContent(c))
	}
	return rec
}

// Contents rebuilds the genai history from a record.
func (r *Record) Contents() []*genai.Content {
	out := make([]*genai.Content, 0, len(r.History))
	for _, sc := range r.History {
		out = append(out, decodeContent(sc))
	}
	return out
}

var errInvalidID = errors.New("invalid session id")

func (s *Store) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", errInvalidID
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Save writes a record, replacing any previous transcript for the id.
// StartedAt carries over from the replaced record, so a conversation keeps
// its original start time across re-saves.
func (s *Store) Save(rec *Record) error {
	path, err := s.path(rec.ID)
	if err != nil {
		return err
	}
	if prev, err := s.Load(rec.ID); err == nil && !prev.StartedAt.IsZero() {
		rec.StartedAt = prev.StartedAt
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	logging.Debug("transcript saved", "session", rec.ID, "entries", len(rec.History))
	return nil
}

// Load reads one transcript. The error satisfies os.ErrNotExist when the
// id was never saved.
func (s *Store) Load(id string) (*Record, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadLatest returns the most recently active transcript, or nil when the
// store is empty.
func (s *Store) LoadLatest() (*Record, error) {
	infos, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return s.Load(infos[0].ID)
}

// List returns all saved transcripts, most recently active first.
// Unreadable files are skipped.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		rec, err := s.Load(id)
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			ID:         rec.ID,
			StartedAt:  rec.StartedAt,
			LastActive: rec.LastActive,
			Title:      rec.Title,
			Entries:    len(rec.History),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActive.After(infos[j].LastActive)
	})
	return infos, nil
}

// Delete removes one transcript.
func (s *Store) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Prune removes transcripts older than maxAge and, beyond that, everything
// past the maxCount newest. Zero disables the respective limit. Returns
// the number removed.
func (s *Store) Prune(maxAge time.Duration, maxCount int) (int, error) {
	infos, err := s.List()
	if err != nil {
		return 0, err
	}

	var cutoff time.Time
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}

	removed := 0
	for i, info := range infos {
		tooOld := maxAge > 0 && info.LastActive.Before(cutoff)
		tooMany := maxCount > 0 && i >= maxCount
		if !tooOld && !tooMany {
			continue
		}
		if err := s.Delete(info.ID); err != nil {
			logging.Debug("transcript prune failed", "session", info.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logging.Info("transcripts pruned", "removed", removed, "kept", len(infos)-removed)
	}
	return removed, nil
}

const titleLimit = 80

func titleOf(history []*genai.Content) string {
	for _, c := range history {
		if c == nil || c.Role != genai.RoleUser {
			continue
		}
		for _, p := range c.Parts {
			if p == nil || p.Text == "" || p.FunctionResponse != nil {
				continue
			}
			line := p.Text
			if idx := strings.IndexByte(line, '\n'); idx >= 0 {
				line = line[:idx]
			}
			line = strings.TrimSpace(line)
			if len(line) > titleLimit {
				line = line[:titleLimit] + "..."
			}
			return line
		}
	}
	return ""
}
