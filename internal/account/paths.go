// Package account resolves per-profile data directories. Each profile holds
// one account's cache database, logs and lock.
package account

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.rentsync.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".rentsync")
}

// Dir returns the profile-specific directory.
func Dir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// CacheDBPath returns the cache.db path for a profile.
func CacheDBPath(profile string) string {
	return filepath.Join(Dir(profile), "cache.db")
}

// LogPath returns the daemon log file path for a profile.
func LogPath(profile string) string {
	return filepath.Join(Dir(profile), "logs", "rentsyncd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree.
func EnsureDir(profile string) error {
	return os.MkdirAll(filepath.Join(Dir(profile), "logs"), 0700)
}
