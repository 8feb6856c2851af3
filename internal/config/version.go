package config

// Set at build time via -ldflags.
var (
	Version = "1.0.0"
	Commit  = "none"
	Date    = "unknown"
)
