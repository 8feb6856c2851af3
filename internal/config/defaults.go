package config

const (
	SchemaVersion = 1
)

// DefaultConfig returns a fully-populated v1 config document.
func DefaultConfig() Config {
	return Config{
		Version: SchemaVersion,
		Backup: BackupConfig{
			Dir:  "~/.claudecfg/backups",
			Keep: 10,
		},
		Watch: WatchConfig{
			Debounce: "250ms",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Path:    "~/.claudecfg/audit.log",
		},
	}
}
