// Package backup snapshots settings files into timestamped directories
// and restores them atomically. Each snapshot carries a metadata.json
// recording the tool version that wrote it and where each captured file
// belongs; restore refuses snapshots written by a different major
// version of the tool.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"claudecfg/internal/audit"
	"claudecfg/internal/fsutil"
	"claudecfg/internal/scope"
	"claudecfg/internal/store"
)

const (
	snapshotPrefix = "cfg-"
	metadataFile   = "metadata.json"
)

// Entry records one captured settings file inside a snapshot.
type Entry struct {
	Scope  string `json:"scope"`  // scope kind name
	File   string `json:"file"`   // file name inside the snapshot dir
	Target string `json:"target"` // absolute path the file came from
}

// Metadata describes a snapshot.
type Metadata struct {
	Name      string  `json:"name"`
	CreatedAt string  `json:"createdAt"`
	Version   string  `json:"version"`
	Entries   []Entry `json:"entries"`
}

// Snapshot is a listed backup on disk.
type Snapshot struct {
	Name string   `json:"name"`
	Path string   `json:"path"`
	Size int64    `json:"size"`
	Meta Metadata `json:"metadata"`
}

// Manager creates, lists, restores, and prunes snapshots under one
// backup directory.
type Manager struct {
	dir     string
	store   *store.Store
	log     *audit.Logger
	version string
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithAudit sets the diagnostic log.
func WithAudit(l *audit.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock replaces the timestamp source. Test seam.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a manager writing snapshots under dir. version is the
// running tool version ("1.4.2" style); it is stamped into every
// snapshot and gates Restore.
func New(dir string, st *store.Store, version string, opts ...Option) *Manager {
	m := &Manager{
		dir:     dir,
		store:   st,
		version: version,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the backup directory.
func (m *Manager) Dir() string { return m.dir }

// Create snapshots the given scopes. Scopes whose files do not exist are
// skipped rather than failing; a snapshot capturing nothing is still
// valid and restores to a no-op. Partial snapshots are removed on error.
func (m *Manager) Create(scopes ...scope.Scope) (Snapshot, error) {
	name := snapshotPrefix + m.now().UTC().Format("20060102-150405")
	path := filepath.Join(m.dir, name)
	for i := 2; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(m.dir, fmt.Sprintf("%s-%d", name, i))
	}
	name = filepath.Base(path)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return Snapshot{}, fmt.Errorf("BAK_DIR: %w", err)
	}

	meta := Metadata{
		Name:      name,
		CreatedAt: m.now().UTC().Format(time.RFC3339),
		Version:   m.version,
		Entries:   []Entry{},
	}
	var size int64
	for _, sc := range scopes {
		target := m.store.Path(sc)
		blob, err := os.ReadFile(target)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			_ = os.RemoveAll(path)
			return Snapshot{}, fmt.Errorf("BAK_READ: %w", err)
		}
		file := sc.Kind.String() + ".json"
		if err := os.WriteFile(filepath.Join(path, file), blob, 0o644); err != nil {
			_ = os.RemoveAll(path)
			return Snapshot{}, fmt.Errorf("BAK_WRITE: %w", err)
		}
		meta.Entries = append(meta.Entries, Entry{Scope: sc.Kind.String(), File: file, Target: target})
		size += int64(len(blob))
	}

	blob, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.RemoveAll(path)
		return Snapshot{}, fmt.Errorf("BAK_META: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, metadataFile), append(blob, '\n'), 0o644); err != nil {
		_ = os.RemoveAll(path)
		return Snapshot{}, fmt.Errorf("BAK_META: %w", err)
	}

	m.log.Ok("backup-create", "", path)
	return Snapshot{Name: name, Path: path, Size: size, Meta: meta}, nil
}

// List returns snapshots newest first. Directories without a readable
// metadata.json are skipped.
func (m *Manager) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BAK_LIST: %w", err)
	}

	var snaps []Snapshot
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), snapshotPrefix) {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		meta, err := readMetadata(path)
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{Name: e.Name(), Path: path, Size: dirSize(path), Meta: meta})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name > snaps[j].Name })
	return snaps, nil
}

// Restore writes every captured file of a snapshot back to its recorded
// target, atomically per file, then drops the store's cache so the next
// load observes the restored content. A snapshot written by a different
// major version of the tool is refused.
func (m *Manager) Restore(name string) error {
	path := filepath.Join(m.dir, name)
	meta, err := readMetadata(path)
	if err != nil {
		return fmt.Errorf("BAK_META: %w", err)
	}

	if err := checkVersionGate(meta.Version, m.version); err != nil {
		m.log.Fail("backup-restore", "", path, err)
		return err
	}

	for _, entry := range meta.Entries {
		blob, err := os.ReadFile(filepath.Join(path, entry.File))
		if err != nil {
			return fmt.Errorf("BAK_READ: %w", err)
		}
		if err := fsutil.AtomicWrite(entry.Target, blob, 0o644); err != nil {
			return fmt.Errorf("BAK_RESTORE: %w", err)
		}
	}

	m.store.ClearAll()
	m.log.Ok("backup-restore", "", path)
	return nil
}

// Prune removes the oldest snapshots beyond keep. keep <= 0 removes
// nothing. It returns the names of removed snapshots.
func (m *Manager) Prune(keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	snaps, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(snaps) <= keep {
		return nil, nil
	}

	var removed []string
	for _, snap := range snaps[keep:] {
		if err := os.RemoveAll(snap.Path); err != nil {
			return removed, fmt.Errorf("BAK_PRUNE: %w", err)
		}
		removed = append(removed, snap.Name)
	}
	m.log.Ok("backup-prune", "", m.dir)
	return removed, nil
}

// checkVersionGate refuses restores across major versions. Snapshots or
// tools without a valid version pass the gate: a missing stamp cannot
// prove incompatibility.
func checkVersionGate(snapVersion, toolVersion string) error {
	snapMajor := semver.Major(canonical(snapVersion))
	toolMajor := semver.Major(canonical(toolVersion))
	if snapMajor == "" || toolMajor == "" {
		return nil
	}
	if snapMajor != toolMajor {
		return fmt.Errorf("BAK_VERSION: snapshot written by %s, running %s", snapVersion, toolVersion)
	}
	return nil
}

func canonical(v string) string {
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func readMetadata(path string) (Metadata, error) {
	blob, err := os.ReadFile(filepath.Join(path, metadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(blob, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
