// Package watch detects external changes to settings files and reloads
// them through the store. It watches the parent directory of each scope
// file rather than the file itself: atomic replacements (write to a temp
// file, rename over the target) surface as create/rename events on the
// directory, and a file that does not exist yet can still be picked up
// the moment something writes it.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"claudecfg/internal/audit"
	"claudecfg/internal/scope"
	"claudecfg/internal/store"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads store scopes when their files change on disk.
type Watcher struct {
	store    *store.Store
	log      *audit.Logger
	debounce time.Duration

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	scopes  map[string]scope.Scope // resolved file path -> scope
	dirs    map[string]int         // watched directory -> refcount
	pending map[string]*time.Timer
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a path must stay quiet before it reloads.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithAudit sets the diagnostic log.
func WithAudit(l *audit.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

// New creates a watcher bound to a store and starts its event loop.
func New(st *store.Store, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("WCH_INIT: %w", err)
	}

	w := &Watcher{
		store:    st,
		debounce: defaultDebounce,
		fsw:      fsw,
		scopes:   make(map[string]scope.Scope),
		dirs:     make(map[string]int),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Add starts watching a scope's settings file. The parent directory is
// created if missing so the underlying watch can attach.
func (w *Watcher) Add(sc scope.Scope) error {
	key := w.store.Path(sc)
	dir := filepath.Dir(key)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("WCH_CLOSED: watcher is closed")
	}
	if _, ok := w.scopes[key]; ok {
		return nil
	}

	if w.dirs[dir] == 0 {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("WCH_DIR: %w", err)
		}
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("WCH_ADD: %w", err)
		}
	}
	w.dirs[dir]++
	w.scopes[key] = sc
	return nil
}

// Remove stops watching a scope's settings file.
func (w *Watcher) Remove(sc scope.Scope) error {
	key := w.store.Path(sc)
	dir := filepath.Dir(key)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.scopes[key]; !ok {
		return nil
	}
	delete(w.scopes, key)
	if t, ok := w.pending[key]; ok {
		t.Stop()
		delete(w.pending, key)
	}

	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if err := w.fsw.Remove(dir); err != nil {
			return fmt.Errorf("WCH_REMOVE: %w", err)
		}
	}
	return nil
}

// Watching reports the resolved paths currently under watch.
func (w *Watcher) Watching() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.scopes))
	for p := range w.scopes {
		paths = append(paths, p)
	}
	return paths
}

// Close stops the watcher. Pending debounce timers are cancelled; a
// change observed but not yet reloaded is dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for key, t := range w.pending {
		t.Stop()
		delete(w.pending, key)
	}
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Fail("watch", "", "", fmt.Errorf("WCH_EVENT: %w", err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	key := filepath.Clean(ev.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if _, ok := w.scopes[key]; !ok {
		return
	}

	// Editors and atomic writers fire bursts of events per logical
	// change; only the quiet period after the last one triggers a reload.
	if t, ok := w.pending[key]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[key] = time.AfterFunc(w.debounce, func() { w.fire(key) })
}

func (w *Watcher) fire(key string) {
	w.mu.Lock()
	delete(w.pending, key)
	sc, ok := w.scopes[key]
	closed := w.closed
	w.mu.Unlock()
	if !ok || closed {
		return
	}
	w.store.Reload(sc)
}
