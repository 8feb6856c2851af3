package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"claudecfg/internal/audit"
	"claudecfg/internal/document"
	"claudecfg/internal/scope"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	home := t.TempDir()
	return New(home, opts...), home
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	doc := document.Document{
		"model": "opus",
		"hooks": map[string]any{"pre-commit": "lint"},
		"env":   map[string]any{"DEBUG": true, "LEVEL": float64(3)},
		"tags":  []any{"a", "b"},
	}

	if err := s.Save(scope.User(), doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := s.Load(scope.User())
	if !document.Equal(got, doc) {
		t.Fatalf("round trip mismatch:\ngot  %v\nwant %v", got, doc)
	}
}

func TestSavedFileIsPrettyJSON(t *testing.T) {
	s, home := newTestStore(t)
	if err := s.Save(scope.User(), document.Document{"model": "opus"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	path := filepath.Join(home, ".claude", "settings.json")
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read settings file: %v", err)
	}
	if !strings.Contains(string(blob), "  \"model\": \"opus\"") {
		t.Fatalf("expected 2-space indented JSON, got:\n%s", blob)
	}
	var parsed map[string]any
	if err := json.Unmarshal(blob, &parsed); err != nil {
		t.Fatalf("file is not valid JSON: %v", err)
	}
}

func TestLoadMissingFileYieldsEmptyDocument(t *testing.T) {
	s, _ := newTestStore(t)
	got := s.Load(scope.ProjectShared(filepath.Join(t.TempDir(), "nope")))
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty document, got %v", got)
	}
}

func TestCacheCoherenceAfterSave(t *testing.T) {
	reads := 0
	countReads := func(path string) ([]byte, error) {
		reads++
		return os.ReadFile(path)
	}
	s, _ := newTestStore(t, WithReadFile(countReads))

	doc := document.Document{"model": "haiku"}
	if err := s.Save(scope.User(), doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := s.Load(scope.User())
	if !document.Equal(got, doc) {
		t.Fatalf("load after save mismatch: %v", got)
	}
	if reads != 0 {
		t.Fatalf("load after save hit disk %d times, want 0", reads)
	}
}

func TestLoadCachesDiskRead(t *testing.T) {
	reads := 0
	countReads := func(path string) ([]byte, error) {
		reads++
		return os.ReadFile(path)
	}
	s, home := newTestStore(t, WithReadFile(countReads))

	path := scope.User().Resolve(home)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"model":"opus"}`), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s.Load(scope.User())
	s.Load(scope.User())
	if reads != 1 {
		t.Fatalf("expected 1 disk read for repeated loads, got %d", reads)
	}

	s.ClearScope(scope.User())
	s.Load(scope.User())
	if reads != 2 {
		t.Fatalf("expected re-read after ClearScope, got %d reads", reads)
	}

	s.ClearAll()
	s.Load(scope.User())
	if reads != 3 {
		t.Fatalf("expected re-read after ClearAll, got %d reads", reads)
	}
}

func TestEquivalentRootsShareCacheEntry(t *testing.T) {
	reads := 0
	countReads := func(path string) ([]byte, error) {
		reads++
		return os.ReadFile(path)
	}
	s, _ := newTestStore(t, WithReadFile(countReads))
	root := t.TempDir()

	if err := s.Save(scope.ProjectShared(root), document.Document{"a": "b"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	alias := filepath.Join(root, ".", "x", "..")
	got := s.Load(scope.ProjectShared(alias))
	if got["a"] != "b" {
		t.Fatalf("aliased root missed cache: %v", got)
	}
	if reads != 0 {
		t.Fatalf("aliased root re-read disk %d times", reads)
	}
}

func TestLoadedDocumentIsACopy(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Save(scope.User(), document.Document{"hooks": map[string]any{"pre-commit": "x"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := s.Load(scope.User())
	got["hooks"].(map[string]any)["pre-commit"] = "mutated"
	got["extra"] = true

	again := s.Load(scope.User())
	if again["hooks"].(map[string]any)["pre-commit"] != "x" {
		t.Fatalf("caller mutation reached the cache: %v", again)
	}
	if _, ok := again["extra"]; ok {
		t.Fatalf("caller-added key reached the cache: %v", again)
	}
}

func TestCorruptFileDegradesAndLeavesDiskUntouched(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	home := t.TempDir()
	s := New(home, WithAudit(audit.New(logPath)))

	path := scope.User().Resolve(home)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	corrupt := []byte(`{"model": "opus"`) // truncated
	if err := os.WriteFile(path, corrupt, 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	got := s.Load(scope.User())
	if len(got) != 0 {
		t.Fatalf("corrupt file should degrade to empty document, got %v", got)
	}

	onDisk, _ := os.ReadFile(path)
	if string(onDisk) != string(corrupt) {
		t.Fatalf("load modified the corrupt file on disk")
	}

	logBlob, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("expected a diagnostic log entry: %v", err)
	}
	if !strings.Contains(string(logBlob), "SET_DOC_PARSE") {
		t.Fatalf("log missing parse diagnostic: %s", logBlob)
	}
}

func TestCorruptFileIsNotCached(t *testing.T) {
	s, home := newTestStore(t)

	path := scope.User().Resolve(home)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s.Load(scope.User())
	// Fix the file; the next load must see the repaired content.
	if err := os.WriteFile(path, []byte(`{"ok":true}`), 0o644); err != nil {
		t.Fatalf("repair: %v", err)
	}
	got := s.Load(scope.User())
	if got["ok"] != true {
		t.Fatalf("repaired file not picked up, got %v", got)
	}
}

func TestMergePrecedence(t *testing.T) {
	s, _ := newTestStore(t)
	root := t.TempDir()

	shared := document.Document{"a": float64(1), "b": float64(2)}
	local := document.Document{"b": float64(3), "c": float64(4)}
	if err := s.Save(scope.ProjectShared(root), shared); err != nil {
		t.Fatalf("save shared: %v", err)
	}
	if err := s.Save(scope.ProjectLocal(root), local); err != nil {
		t.Fatalf("save local: %v", err)
	}

	got := s.Effective(root)
	want := document.Document{"a": float64(1), "b": float64(3), "c": float64(4)}
	if !document.Equal(got, want) {
		t.Fatalf("effective = %v, want %v", got, want)
	}
}

func TestMergeIsShallow(t *testing.T) {
	s, _ := newTestStore(t)
	root := t.TempDir()

	shared := document.Document{"hooks": map[string]any{"pre-commit": "lint", "post-commit": "notify"}}
	local := document.Document{"hooks": map[string]any{"pre-commit": "test"}}
	if err := s.Save(scope.ProjectShared(root), shared); err != nil {
		t.Fatalf("save shared: %v", err)
	}
	if err := s.Save(scope.ProjectLocal(root), local); err != nil {
		t.Fatalf("save local: %v", err)
	}

	got := s.Effective(root)
	hooks := got["hooks"].(map[string]any)
	if hooks["pre-commit"] != "test" {
		t.Fatalf("local should win: %v", hooks)
	}
	// Top-level keys are replaced wholesale, never deep-merged.
	if _, ok := hooks["post-commit"]; ok {
		t.Fatalf("shallow merge expected, shared nested key leaked through: %v", hooks)
	}
}

func TestEffectiveWithMissingLocal(t *testing.T) {
	s, _ := newTestStore(t)
	root := t.TempDir()
	if err := s.Save(scope.ProjectShared(root), document.Document{"a": "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got := s.Effective(root)
	if got["a"] != "x" || len(got) != 1 {
		t.Fatalf("effective = %v", got)
	}
}

func TestUpdateCreatesIntermediates(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Update(scope.User(), "hooks.pre-commit", "x"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got := s.Load(scope.User())
	want := document.Document{"hooks": map[string]any{"pre-commit": "x"}}
	if !document.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestUpdatePreservesSiblings(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Save(scope.User(), document.Document{
		"model": "opus",
		"hooks": map[string]any{"post-commit": "notify"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Update(scope.User(), "hooks.pre-commit", "lint"); err != nil {
		t.Fatalf("update: %v", err)
	}

	got := s.Load(scope.User())
	if got["model"] != "opus" {
		t.Fatalf("sibling top-level key lost: %v", got)
	}
	hooks := got["hooks"].(map[string]any)
	if hooks["post-commit"] != "notify" || hooks["pre-commit"] != "lint" {
		t.Fatalf("nested siblings disturbed: %v", hooks)
	}
}

func TestUpdateTypeMismatchWritesNothing(t *testing.T) {
	s, home := newTestStore(t)
	if err := s.Save(scope.User(), document.Document{"hooks": "oops"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	before, _ := os.ReadFile(scope.User().Resolve(home))

	notified := 0
	s.Subscribe(scope.User(), func(string, document.Document) { notified++ })

	err := s.Update(scope.User(), "hooks.pre-commit", "x")
	var tme *document.TypeMismatchError
	if !errors.As(err, &tme) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}

	after, _ := os.ReadFile(scope.User().Resolve(home))
	if string(before) != string(after) {
		t.Fatalf("failed update modified the file")
	}
	if notified != 0 {
		t.Fatalf("failed update fired %d notifications", notified)
	}
}

func TestUnset(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Save(scope.User(), document.Document{
		"hooks": map[string]any{"pre-commit": "x", "post-commit": "y"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	notified := 0
	s.Subscribe(scope.User(), func(string, document.Document) { notified++ })

	if err := s.Unset(scope.User(), "hooks.pre-commit"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	got := s.Load(scope.User())
	hooks := got["hooks"].(map[string]any)
	if _, ok := hooks["pre-commit"]; ok {
		t.Fatalf("key survived unset: %v", hooks)
	}
	if notified != 1 {
		t.Fatalf("unset should notify once, got %d", notified)
	}

	// Removing an absent key writes nothing and stays silent.
	if err := s.Unset(scope.User(), "absent.key"); err != nil {
		t.Fatalf("unset absent: %v", err)
	}
	if notified != 1 {
		t.Fatalf("no-op unset fired a notification")
	}
}

func TestNotificationFiresOncePerSuccessfulSave(t *testing.T) {
	s, _ := newTestStore(t)
	root := t.TempDir()

	userCalls, sharedCalls := 0, 0
	var lastDoc document.Document
	s.Subscribe(scope.User(), func(_ string, doc document.Document) {
		userCalls++
		lastDoc = doc
	})
	s.Subscribe(scope.ProjectShared(root), func(string, document.Document) { sharedCalls++ })

	if err := s.Save(scope.User(), document.Document{"model": "opus"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Update(scope.User(), "model", "haiku"); err != nil {
		t.Fatalf("update: %v", err)
	}

	if userCalls != 2 {
		t.Fatalf("user subscriber called %d times, want 2", userCalls)
	}
	if sharedCalls != 0 {
		t.Fatalf("unrelated scope subscriber called %d times", sharedCalls)
	}
	if lastDoc["model"] != "haiku" {
		t.Fatalf("subscriber saw stale document: %v", lastDoc)
	}
}

func TestFailedSaveNotifiesNobodyAndKeepsCache(t *testing.T) {
	home := t.TempDir()
	seeder := New(home)
	if err := seeder.Save(scope.User(), document.Document{"model": "opus"}); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	broken := New(home, WithWriteFile(func(string, []byte, os.FileMode) error {
		return errors.New("disk full")
	}))
	seeded := broken.Load(scope.User())
	if seeded["model"] != "opus" {
		t.Fatalf("seed not visible: %v", seeded)
	}

	notified := 0
	broken.Subscribe(scope.User(), func(string, document.Document) { notified++ })

	err := broken.Save(scope.User(), document.Document{"model": "haiku"})
	if err == nil || !strings.Contains(err.Error(), "SET_DOC_WRITE") {
		t.Fatalf("expected SET_DOC_WRITE error, got %v", err)
	}
	if notified != 0 {
		t.Fatalf("failed save notified %d subscribers", notified)
	}

	got := broken.Load(scope.User())
	if got["model"] != "opus" {
		t.Fatalf("failed save corrupted cache: %v", got)
	}
}

func TestConcurrentSavesSamePathLastWriterWins(t *testing.T) {
	s, _ := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.Save(scope.User(), document.Document{"n": float64(n)})
		}(i)
	}
	wg.Wait()

	mem := s.Load(scope.User())
	s.ClearAll()
	disk := s.Load(scope.User())
	if !document.Equal(mem, disk) {
		t.Fatalf("cache %v disagrees with disk %v after concurrent saves", mem, disk)
	}
}

func TestReloadPicksUpExternalChange(t *testing.T) {
	s, home := newTestStore(t)
	if err := s.Save(scope.User(), document.Document{"model": "opus"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Simulate another process rewriting the file.
	path := scope.User().Resolve(home)
	if err := os.WriteFile(path, []byte(`{"model":"haiku"}`), 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}

	// Cached value still served until reload.
	if got := s.Load(scope.User()); got["model"] != "opus" {
		t.Fatalf("expected cached value before reload, got %v", got)
	}

	var published document.Document
	s.Subscribe(scope.User(), func(_ string, doc document.Document) { published = doc })

	got := s.Reload(scope.User())
	if got["model"] != "haiku" {
		t.Fatalf("reload returned %v", got)
	}
	if published == nil || published["model"] != "haiku" {
		t.Fatalf("reload did not publish fresh document: %v", published)
	}
}
