package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claudecfg/config.toml"
	}
	return filepath.Join(home, ".claudecfg", "config.toml")
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

// ResolveBackupDir expands the configured backup directory.
func ResolveBackupDir(cfg Config) (string, error) {
	expanded, err := ExpandPath(cfg.Backup.Dir)
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}

// ResolveLogPath expands the configured audit log path. An empty string
// is returned when logging is disabled.
func ResolveLogPath(cfg Config) (string, error) {
	if !cfg.Logging.Enabled {
		return "", nil
	}
	expanded, err := ExpandPath(cfg.Logging.Path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}
