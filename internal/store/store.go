// Package store is the layered settings engine: it caches parsed settings
// documents per resolved file path, persists changes atomically, and
// notifies subscribers after successful saves.
//
// The store is the single source of truth for current settings state
// within a process. It provides no cross-process coordination: a second
// process writing the same files cannot corrupt any single write (the
// atomic rename guarantees that), but the two in-memory caches can
// disagree with disk until each side reloads.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"claudecfg/internal/audit"
	"claudecfg/internal/document"
	"claudecfg/internal/fsutil"
	"claudecfg/internal/notify"
	"claudecfg/internal/scope"
)

type entry struct {
	path     string
	doc      document.Document
	loadedAt time.Time
}

// Store owns the settings cache for one home directory. Multiple
// independent stores can coexist; nothing is process-global.
type Store struct {
	home     string
	log      *audit.Logger
	notifier *notify.Registry

	mu    sync.Mutex
	cache map[string]*entry
	locks map[string]*sync.Mutex

	readFile  func(string) ([]byte, error)
	writeFile func(string, []byte, os.FileMode) error
}

// Option configures a Store.
type Option func(*Store)

// WithAudit sets the diagnostic log.
func WithAudit(l *audit.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithReadFile replaces the file reader. Test seam.
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(s *Store) { s.readFile = fn }
}

// WithWriteFile replaces the atomic writer. Test seam.
func WithWriteFile(fn func(string, []byte, os.FileMode) error) Option {
	return func(s *Store) { s.writeFile = fn }
}

// New creates a store resolving user-scope files under home.
func New(home string, opts ...Option) *Store {
	s := &Store{
		home:      home,
		cache:     make(map[string]*entry),
		locks:     make(map[string]*sync.Mutex),
		readFile:  os.ReadFile,
		writeFile: fsutil.AtomicWrite,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.notifier = notify.New(notify.WithPanicHandler(func(key string, recovered any) {
		_ = s.log.Log(audit.Event{
			Operation: "notify",
			Path:      key,
			Status:    "error",
			Code:      "SET_NOTIFY_PANIC",
			Message:   fmt.Sprint(recovered),
		})
	}))
	return s
}

// Home returns the home directory user-scope files resolve under.
func (s *Store) Home() string { return s.home }

// Path returns the settings file path for a scope.
func (s *Store) Path(sc scope.Scope) string { return sc.Key(s.home) }

// pathLock returns the mutex serializing disk access for one resolved
// path, creating it on first use. Saves to different paths never block
// each other; saves to the same path are last-writer-wins.
func (s *Store) pathLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[key] = lk
	}
	return lk
}

// Load returns a deep copy of the scope's document. A missing file yields
// an empty document. A corrupt file is logged and degrades to an empty
// document without touching disk; the corrupt content survives until the
// caller explicitly saves over it.
func (s *Store) Load(sc scope.Scope) document.Document {
	key := sc.Key(s.home)
	lk := s.pathLock(key)
	lk.Lock()
	defer lk.Unlock()
	return s.loadLocked(sc, key)
}

func (s *Store) loadLocked(sc scope.Scope, key string) document.Document {
	s.mu.Lock()
	if e, ok := s.cache[key]; ok {
		doc := document.Clone(e.doc)
		s.mu.Unlock()
		return doc
	}
	s.mu.Unlock()

	blob, err := s.readFile(key)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Fail("load", sc.Kind.String(), key, err)
		}
		return document.New()
	}

	var doc document.Document
	if err := json.Unmarshal(blob, &doc); err != nil {
		s.log.Fail("load", sc.Kind.String(), key, fmt.Errorf("SET_DOC_PARSE: %w", err))
		return document.New()
	}
	if doc == nil { // file contained JSON null
		doc = document.New()
	}

	s.mu.Lock()
	s.cache[key] = &entry{path: key, doc: document.Clone(doc), loadedAt: time.Now()}
	s.mu.Unlock()
	return doc
}

// Save persists the document for a scope and, on success, updates the
// cache and notifies subscribers. The previous file content is never
// partially replaced: serialization or write failures leave disk, cache,
// and subscribers untouched.
func (s *Store) Save(sc scope.Scope, doc document.Document) error {
	key := sc.Key(s.home)
	lk := s.pathLock(key)
	lk.Lock()
	err := s.saveLocked(sc, key, doc)
	lk.Unlock()
	if err != nil {
		return err
	}
	s.notifier.Publish(key, doc)
	return nil
}

func (s *Store) saveLocked(sc scope.Scope, key string, doc document.Document) error {
	if doc == nil {
		doc = document.New()
	}
	blob, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		err = fmt.Errorf("SET_DOC_ENCODE: %w", err)
		s.log.Fail("save", sc.Kind.String(), key, err)
		return err
	}
	blob = append(blob, '\n')

	if err := s.writeFile(key, blob, 0o644); err != nil {
		err = fmt.Errorf("SET_DOC_WRITE: %w", err)
		s.log.Fail("save", sc.Kind.String(), key, err)
		return err
	}

	s.mu.Lock()
	s.cache[key] = &entry{path: key, doc: document.Clone(doc), loadedAt: time.Now()}
	s.mu.Unlock()

	s.log.Ok("save", sc.Kind.String(), key)
	return nil
}

// Update sets a single key (dot-delimited paths address nested keys,
// creating intermediate objects as needed) and persists the result.
// An intermediate that exists but is not an object fails with
// *document.TypeMismatchError; nothing is written.
func (s *Store) Update(sc scope.Scope, keyPath string, value any) error {
	segments, err := document.ParsePath(keyPath)
	if err != nil {
		return err
	}

	key := sc.Key(s.home)
	lk := s.pathLock(key)
	lk.Lock()
	doc := s.loadLocked(sc, key)
	if err := document.Set(doc, segments, value); err != nil {
		lk.Unlock()
		return err
	}
	err = s.saveLocked(sc, key, doc)
	lk.Unlock()
	if err != nil {
		return err
	}
	s.notifier.Publish(key, doc)
	return nil
}

// Unset removes a key from a scope's document and persists the result.
// Removing an absent key is a no-op: nothing is written and no
// notification fires.
func (s *Store) Unset(sc scope.Scope, keyPath string) error {
	segments, err := document.ParsePath(keyPath)
	if err != nil {
		return err
	}

	key := sc.Key(s.home)
	lk := s.pathLock(key)
	lk.Lock()
	doc := s.loadLocked(sc, key)
	if !document.Delete(doc, segments) {
		lk.Unlock()
		return nil
	}
	err = s.saveLocked(sc, key, doc)
	lk.Unlock()
	if err != nil {
		return err
	}
	s.notifier.Publish(key, doc)
	return nil
}

// Effective returns the merged project view: a copy of the shared
// document with every top-level key from the local document layered on
// top. The override is shallow: a key present in both is replaced
// wholesale by the local value, mirroring team-committed settings versus
// gitignored personal overrides.
func (s *Store) Effective(root string) document.Document {
	shared := s.Load(scope.ProjectShared(root))
	local := s.Load(scope.ProjectLocal(root))
	for k, v := range local {
		shared[k] = v
	}
	return shared
}

// ClearScope forgets the cached document for one scope. Disk is untouched;
// the next Load re-reads the file.
func (s *Store) ClearScope(sc scope.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, sc.Key(s.home))
}

// ClearAll forgets every cached document.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*entry)
}

// Subscribe registers an observer invoked synchronously after every
// successful save to the scope. Subscriptions are never garbage
// collected; a caller that reconstructs itself must Unsubscribe first.
func (s *Store) Subscribe(sc scope.Scope, fn notify.Observer) *notify.Subscription {
	return s.notifier.Subscribe(sc.Key(s.home), fn)
}

// Reload discards the cached entry for a resolved path, re-reads it from
// disk, and publishes the fresh document. Used when an external change to
// the file is detected.
func (s *Store) Reload(sc scope.Scope) document.Document {
	key := sc.Key(s.home)
	lk := s.pathLock(key)
	lk.Lock()
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	doc := s.loadLocked(sc, key)
	lk.Unlock()

	s.log.Ok("reload", sc.Kind.String(), key)
	s.notifier.Publish(key, doc)
	return doc
}
