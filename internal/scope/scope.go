// Package scope maps logical configuration scopes to settings file paths.
//
// A scope identifies one of the Claude Code configuration tiers: the user's
// global settings, a project's shared (committed) settings, a project's local
// (gitignored) overrides, or one of the MCP server configuration files.
// Resolution is pure path arithmetic; no scope operation touches the
// filesystem.
package scope

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	claudeDir         = ".claude"
	settingsFile      = "settings.json"
	settingsLocalFile = "settings.local.json"
	userMCPFile       = ".claude.json"
	projectMCPFile    = ".mcp.json"

	maxAncestorSearch = 50
)

// Kind identifies which settings file a scope refers to.
type Kind uint8

const (
	// KindUser is <home>/.claude/settings.json.
	KindUser Kind = iota
	// KindProjectShared is <root>/.claude/settings.json (team-committed).
	KindProjectShared
	// KindProjectLocal is <root>/.claude/settings.local.json (gitignored).
	KindProjectLocal
	// KindUserMCP is <home>/.claude.json.
	KindUserMCP
	// KindProjectMCP is <root>/.mcp.json.
	KindProjectMCP
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindProjectShared:
		return "project-shared"
	case KindProjectLocal:
		return "project-local"
	case KindUserMCP:
		return "user-mcp"
	case KindProjectMCP:
		return "project-mcp"
	default:
		return "unknown"
	}
}

// Scope names one settings file. Project kinds carry the project root;
// user kinds ignore it. Identity for caching purposes is the resolved
// path, not the struct value: two scopes that spell the same file
// differently resolve to the same key.
type Scope struct {
	Kind Kind
	Root string
}

// User returns the user settings scope.
func User() Scope { return Scope{Kind: KindUser} }

// ProjectShared returns the shared settings scope for a project root.
func ProjectShared(root string) Scope { return Scope{Kind: KindProjectShared, Root: root} }

// ProjectLocal returns the local settings scope for a project root.
func ProjectLocal(root string) Scope { return Scope{Kind: KindProjectLocal, Root: root} }

// UserMCP returns the user-level MCP configuration scope.
func UserMCP() Scope { return Scope{Kind: KindUserMCP} }

// ProjectMCP returns the project-level MCP configuration scope.
func ProjectMCP(root string) Scope { return Scope{Kind: KindProjectMCP, Root: root} }

// IsProject reports whether the scope is parameterized by a project root.
func (s Scope) IsProject() bool {
	return s.Kind == KindProjectShared || s.Kind == KindProjectLocal || s.Kind == KindProjectMCP
}

// Resolve maps the scope to its settings file path under the given home
// directory. Pure function: a malformed root yields a path that later I/O
// calls will fail on, never an error here.
func (s Scope) Resolve(home string) string {
	switch s.Kind {
	case KindUser:
		return filepath.Join(home, claudeDir, settingsFile)
	case KindProjectShared:
		return filepath.Join(s.Root, claudeDir, settingsFile)
	case KindProjectLocal:
		return filepath.Join(s.Root, claudeDir, settingsLocalFile)
	case KindUserMCP:
		return filepath.Join(home, userMCPFile)
	case KindProjectMCP:
		return filepath.Join(s.Root, projectMCPFile)
	default:
		return ""
	}
}

// Key returns the cache identity for the scope: the cleaned resolved path.
// Scopes constructed from equivalent roots ("/p/./x", "/p/x/") collide here.
func (s Scope) Key(home string) string {
	return filepath.Clean(s.Resolve(home))
}

// Parse converts a CLI scope name into a Scope. Project kinds require a
// non-empty root.
func Parse(name, root string) (Scope, error) {
	switch name {
	case "user", "":
		return User(), nil
	case "shared", "project-shared":
		if root == "" {
			return Scope{}, fmt.Errorf("SET_SCOPE_ROOT: scope %q requires a project root", name)
		}
		return ProjectShared(root), nil
	case "local", "project-local":
		if root == "" {
			return Scope{}, fmt.Errorf("SET_SCOPE_ROOT: scope %q requires a project root", name)
		}
		return ProjectLocal(root), nil
	case "user-mcp":
		return UserMCP(), nil
	case "mcp", "project-mcp":
		if root == "" {
			return Scope{}, fmt.Errorf("SET_SCOPE_ROOT: scope %q requires a project root", name)
		}
		return ProjectMCP(root), nil
	default:
		return Scope{}, fmt.Errorf("SET_SCOPE_NAME: unknown scope %q; use user|shared|local|user-mcp|mcp", name)
	}
}

// ProjectScopes returns the scopes managed for a project root, shared first.
func ProjectScopes(root string) []Scope {
	return []Scope{ProjectShared(root), ProjectLocal(root), ProjectMCP(root)}
}

// FindProjectRoot walks up from startDir looking for a .claude directory.
// Returns (projectRoot, true) if found, or ("", false) if not.
func FindProjectRoot(startDir string) (string, bool) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false
	}
	for i := 0; i < maxAncestorSearch; i++ {
		marker := filepath.Join(dir, claudeDir)
		if info, err := os.Stat(marker); err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}
	return "", false
}
