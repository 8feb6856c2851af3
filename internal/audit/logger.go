// Package audit appends a JSONL record of engine operations and
// diagnostics. This is the tool's logging layer: parse failures, save
// failures, watcher reloads, and subscriber panics all land here so a
// degraded settings file leaves a trace even when the caller only sees
// an empty document.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Logger struct {
	path string
	mu   sync.Mutex
}

type Event struct {
	Timestamp string            `json:"timestamp"`
	Operation string            `json:"operation"`
	Scope     string            `json:"scope,omitempty"`
	Path      string            `json:"path,omitempty"`
	Status    string            `json:"status"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// New creates a logger appending to path. An empty path (or nil logger)
// disables logging; every method is then a no-op.
func New(path string) *Logger {
	return &Logger{path: path}
}

func (l *Logger) Log(ev Event) error {
	if l == nil || l.path == "" {
		return nil
	}
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	blob, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(blob, '\n')); err != nil {
		return err
	}
	return nil
}

// Ok records a successful operation against a scope path.
func (l *Logger) Ok(operation, scope, path string) {
	_ = l.Log(Event{Operation: operation, Scope: scope, Path: path, Status: "ok"})
}

// Fail records a failed operation with its error.
func (l *Logger) Fail(operation, scope, path string, err error) {
	ev := Event{Operation: operation, Scope: scope, Path: path, Status: "error"}
	if err != nil {
		ev.Message = err.Error()
	}
	_ = l.Log(ev)
}
