package skills

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"baton/internal/logging"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher hot-reloads the provider when skill files change. Events are
// debounced so an editor save (write + chmod + rename) triggers one
// reload, not three.
type Watcher struct {
	provider *Provider
	fs       *fsnotify.Watcher
	debounce time.Duration
	onReload func(count int)

	mu        sync.Mutex
	lastEvent time.Time
	dirty     bool
	running   bool
	stopOnce  sync.Once
	done      chan struct{}
}

// NewWatcher creates a watcher over the provider's directory. onReload
// may be nil; when set it receives the new skill count after each reload.
func NewWatcher(provider *Provider, onReload func(count int)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		provider: provider,
		fs:       fs,
		debounce: defaultDebounce,
		onReload: onReload,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The skill directory and its immediate
// subdirectories are registered; new subdirectories are added as they
// appear.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.fs.Add(w.provider.Dir()); err != nil {
		return err
	}
	for _, s := range w.provider.Skills() {
		dir := filepath.Dir(s.Path)
		if dir != w.provider.Dir() {
			// Ignore add failures on vanished directories.
			_ = w.fs.Add(dir)
		}
	}

	go w.processEvents(ctx)
	go w.processDebounce(ctx)
	return nil
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	return w.fs.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Warn("skill watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	// Editor droppings.
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "#") || strings.HasSuffix(base, "~") {
		return
	}

	relevant := strings.HasSuffix(base, ".md")
	if event.Op&fsnotify.Create != 0 && !relevant {
		// A new skill directory: watch it and rescan for its SKILL.md.
		if filepath.Dir(event.Name) == w.provider.Dir() {
			_ = w.fs.Add(event.Name)
			relevant = true
		}
	}
	if event.Op&fsnotify.Remove != 0 {
		relevant = true
	}
	if !relevant {
		return
	}

	w.mu.Lock()
	w.dirty = true
	w.lastEvent = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounce(ctx context.Context) {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	ready := w.dirty && time.Since(w.lastEvent) >= w.debounce
	if ready {
		w.dirty = false
	}
	w.mu.Unlock()
	if !ready {
		return
	}

	if err := w.provider.Load(); err != nil {
		logging.Warn("skill reload failed", "error", err)
		return
	}
	count := len(w.provider.Skills())
	logging.Info("skills reloaded", "count", count)
	if w.onReload != nil {
		w.onReload(count)
	}
}
