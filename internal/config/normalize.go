package config

func Normalize(cfg Config) Config {
	if cfg.Version == 0 {
		cfg.Version = SchemaVersion
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = "~/.claudecfg/backups"
	}
	if cfg.Backup.Keep == 0 {
		cfg.Backup.Keep = 10
	}
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "250ms"
	}
	if cfg.Logging.Path == "" {
		cfg.Logging.Path = "~/.claudecfg/audit.log"
	}
	return cfg
}
