package config

// Config is the frozen v1 tool configuration schema, stored as TOML at
// ~/.claudecfg/config.toml. It configures the tool itself; the settings
// documents it manages are plain JSON and never touch this file.
type Config struct {
	Version int           `toml:"version"`
	Backup  BackupConfig  `toml:"backup"`
	Watch   WatchConfig   `toml:"watch"`
	Logging LoggingConfig `toml:"logging"`
}

type BackupConfig struct {
	Dir  string `toml:"dir" json:"dir"`
	Keep int    `toml:"keep" json:"keep"`
}

type WatchConfig struct {
	Debounce string `toml:"debounce" json:"debounce"`
}

type LoggingConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}
