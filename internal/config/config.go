package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents ~/.rentsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	APIBaseURL string `toml:"api_base_url"`
	APIToken   string `toml:"api_token"`
	AccountID  string `toml:"account_id"`
	UserID     string `toml:"user_id"`
	UserRole   string `toml:"user_role"` // owner or renter

	// ListenAddr is the local HTTP API bind address.
	ListenAddr string `toml:"listen_addr"`

	// PollIntervalSeconds controls the background feed poll cadence.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	// MatchToleranceSeconds is the clock-skew window for heuristic matching
	// of a pending send against a feed message.
	MatchToleranceSeconds int `toml:"match_tolerance_seconds"`
	// PageSize is the feed pagination size.
	PageSize int `toml:"page_size"`
}

// Defaults applied by Load when fields are unset.
const (
	DefaultListenAddr     = "127.0.0.1:7475"
	DefaultPollInterval   = 30 * time.Second
	DefaultMatchTolerance = time.Minute
	DefaultPageSize       = 50
)

// Load reads config from the given path and applies defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = int(DefaultPollInterval / time.Second)
	}
	if cfg.MatchToleranceSeconds <= 0 {
		cfg.MatchToleranceSeconds = int(DefaultMatchTolerance / time.Second)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &cfg, nil
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("config: api_base_url is required")
	}
	if c.AccountID == "" {
		return fmt.Errorf("config: account_id is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("config: user_id is required")
	}
	return nil
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// MatchTolerance returns the heuristic match window as a duration.
func (c *Config) MatchTolerance() time.Duration {
	return time.Duration(c.MatchToleranceSeconds) * time.Second
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
