package config

import (
	"fmt"
	"time"
)

func Validate(cfg Config) error {
	if cfg.Version != SchemaVersion {
		return fmt.Errorf("CFG_VERSION: unsupported version %d", cfg.Version)
	}
	if cfg.Backup.Dir == "" {
		return fmt.Errorf("CFG_BACKUP: missing backup dir")
	}
	if cfg.Backup.Keep < 0 {
		return fmt.Errorf("CFG_BACKUP: keep must not be negative, got %d", cfg.Backup.Keep)
	}
	if cfg.Watch.Debounce == "" {
		return fmt.Errorf("CFG_WATCH: missing debounce")
	}
	d, err := time.ParseDuration(cfg.Watch.Debounce)
	if err != nil {
		return fmt.Errorf("CFG_WATCH: invalid debounce %q: %w", cfg.Watch.Debounce, err)
	}
	if d <= 0 {
		return fmt.Errorf("CFG_WATCH: debounce must be positive, got %q", cfg.Watch.Debounce)
	}
	if cfg.Logging.Enabled && cfg.Logging.Path == "" {
		return fmt.Errorf("CFG_LOGGING: logging enabled without a path")
	}
	return nil
}
