// Package app assembles the settings engine into one service the CLI
// (and tests) drive: tool config, audit log, document store, backups,
// file watching, and diagnostics, wired from a single Options struct.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"claudecfg/internal/audit"
	"claudecfg/internal/backup"
	"claudecfg/internal/config"
	"claudecfg/internal/doctor"
	"claudecfg/internal/document"
	"claudecfg/internal/fsutil"
	"claudecfg/internal/notify"
	"claudecfg/internal/scope"
	"claudecfg/internal/store"
	"claudecfg/internal/watch"
)

type Options struct {
	ConfigPath  string
	HomeDir     string
	ProjectRoot string
	Version     string
}

type Service struct {
	ConfigPath  string
	Config      config.Config
	HomeDir     string
	ProjectRoot string
	Version     string

	Store   *store.Store
	Backups *backup.Manager
	Doctor  *doctor.Service
	Audit   *audit.Logger
}

func New(opts Options) (*Service, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Ensure(configPath)
	if err != nil {
		return nil, err
	}

	home := opts.HomeDir
	if home == "" {
		home, err = os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("SET_HOME: %w", err)
		}
	}

	projectRoot := opts.ProjectRoot
	if projectRoot == "" {
		if cwd, err := os.Getwd(); err == nil {
			projectRoot, _ = scope.FindProjectRoot(cwd)
		}
	}

	logPath, err := config.ResolveLogPath(cfg)
	if err != nil {
		return nil, err
	}
	logger := audit.New(logPath)

	st := store.New(home, store.WithAudit(logger))

	backupDir, err := config.ResolveBackupDir(cfg)
	if err != nil {
		return nil, err
	}
	backups := backup.New(backupDir, st, opts.Version, backup.WithAudit(logger))

	doctorSvc := &doctor.Service{ConfigPath: configPath, Store: st, ProjectRoot: projectRoot}

	return &Service{
		ConfigPath:  configPath,
		Config:      cfg,
		HomeDir:     home,
		ProjectRoot: projectRoot,
		Version:     opts.Version,
		Store:       st,
		Backups:     backups,
		Doctor:      doctorSvc,
		Audit:       logger,
	}, nil
}

func (s *Service) SaveConfig() error {
	return config.Save(s.ConfigPath, s.Config)
}

// ParseScope resolves a scope name against the service's project root.
func (s *Service) ParseScope(name string) (scope.Scope, error) {
	return scope.Parse(name, s.ProjectRoot)
}

// Settings returns the current document for a scope.
func (s *Service) Settings(sc scope.Scope) document.Document {
	return s.Store.Load(sc)
}

// SaveSettings replaces a scope's document.
func (s *Service) SaveSettings(sc scope.Scope, doc document.Document) error {
	return s.Store.Save(sc, doc)
}

// UpdateSetting sets one dot-delimited key in a scope's document.
func (s *Service) UpdateSetting(sc scope.Scope, keyPath string, value any) error {
	return s.Store.Update(sc, keyPath, value)
}

// UnsetSetting removes one dot-delimited key from a scope's document.
func (s *Service) UnsetSetting(sc scope.Scope, keyPath string) error {
	return s.Store.Unset(sc, keyPath)
}

// GetSetting reads one dot-delimited key from a scope's document.
func (s *Service) GetSetting(sc scope.Scope, keyPath string) (any, bool, error) {
	segments, err := document.ParsePath(keyPath)
	if err != nil {
		return nil, false, err
	}
	value, ok := document.Get(s.Store.Load(sc), segments)
	return value, ok, nil
}

// EffectiveSettings returns the merged project view, local over shared.
func (s *Service) EffectiveSettings() (document.Document, error) {
	if s.ProjectRoot == "" {
		return nil, fmt.Errorf("SET_SCOPE_ROOT: no project root")
	}
	return s.Store.Effective(s.ProjectRoot), nil
}

// Subscribe registers an observer for a scope's successful saves.
func (s *Service) Subscribe(sc scope.Scope, fn notify.Observer) *notify.Subscription {
	return s.Store.Subscribe(sc, fn)
}

// ClearCache drops all cached documents; the next load re-reads disk.
func (s *Service) ClearCache() {
	s.Store.ClearAll()
}

// WatchScopes starts a watcher reloading the given scopes on external
// change. Debounce comes from the tool config. The caller owns Close.
func (s *Service) WatchScopes(scopes ...scope.Scope) (*watch.Watcher, error) {
	debounce, err := time.ParseDuration(s.Config.Watch.Debounce)
	if err != nil {
		return nil, fmt.Errorf("CFG_WATCH: invalid debounce %q: %w", s.Config.Watch.Debounce, err)
	}
	w, err := watch.New(s.Store, watch.WithDebounce(debounce), watch.WithAudit(s.Audit))
	if err != nil {
		return nil, err
	}
	for _, sc := range scopes {
		if err := w.Add(sc); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	return w, nil
}

// watchableScopes lists every scope the service can reach.
func (s *Service) watchableScopes() []scope.Scope {
	scopes := []scope.Scope{scope.User(), scope.UserMCP()}
	if s.ProjectRoot != "" {
		scopes = append(scopes, scope.ProjectScopes(s.ProjectRoot)...)
	}
	return scopes
}

// WatchAll watches every reachable scope.
func (s *Service) WatchAll() (*watch.Watcher, error) {
	return s.WatchScopes(s.watchableScopes()...)
}

// BackupCreate snapshots every reachable scope and prunes old snapshots
// per the configured retention.
func (s *Service) BackupCreate() (backup.Snapshot, error) {
	snap, err := s.Backups.Create(s.watchableScopes()...)
	if err != nil {
		return backup.Snapshot{}, err
	}
	if _, err := s.Backups.Prune(s.Config.Backup.Keep); err != nil {
		return snap, err
	}
	return snap, nil
}

// BackupList returns snapshots newest first.
func (s *Service) BackupList() ([]backup.Snapshot, error) {
	return s.Backups.List()
}

// BackupRestore restores a named snapshot.
func (s *Service) BackupRestore(name string) error {
	return s.Backups.Restore(name)
}

// DoctorRun inspects config and settings files.
func (s *Service) DoctorRun() doctor.Report {
	return s.Doctor.Run()
}

// InitProject creates the .claude directory and an empty shared settings
// file at dir, making it a project root. Existing files are preserved.
func (s *Service) InitProject(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = cwd
	}
	sc := scope.ProjectShared(dir)
	path := sc.Resolve(s.HomeDir)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := fsutil.AtomicWrite(path, []byte("{}\n"), 0o644); err != nil {
		return "", fmt.Errorf("SET_DOC_WRITE: %w", err)
	}
	s.Audit.Ok("init", sc.Kind.String(), path)
	return path, nil
}

// EnsureLocalIgnored appends settings.local.json to the project's
// .claude/.gitignore if not already present, keeping personal overrides
// out of version control.
func (s *Service) EnsureLocalIgnored(dir string) error {
	claudeDir := filepath.Dir(scope.ProjectShared(dir).Resolve(s.HomeDir))
	ignorePath := filepath.Join(claudeDir, ".gitignore")
	blob, err := os.ReadFile(ignorePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	const entry = "settings.local.json"
	if containsLine(string(blob), entry) {
		return nil
	}
	if len(blob) > 0 && blob[len(blob)-1] != '\n' {
		blob = append(blob, '\n')
	}
	blob = append(blob, entry+"\n"...)
	return fsutil.AtomicWrite(ignorePath, blob, 0o644)
}

func containsLine(text, line string) bool {
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			if text[start:i] == line {
				return true
			}
			start = i + 1
		}
	}
	return false
}
