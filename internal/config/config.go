// Package config loads replog configuration.
//
// Settings come from a YAML config file (default ~/.replog/config.yaml)
// with REPLOG_* environment variable overrides. A missing config file is
// not an error; defaults apply and env vars can fill in the rest, which
// keeps first-run friction low.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved replog configuration.
type Config struct {
	// DBPath is the local SQLite database location.
	DBPath string `mapstructure:"db_path"`

	// UserID identifies the owning user for sync queries.
	UserID string `mapstructure:"user_id"`

	Remote RemoteConfig `mapstructure:"remote"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Log    LogConfig    `mapstructure:"log"`
}

// RemoteConfig locates the backend record API.
type RemoteConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// SyncConfig tunes the sync engine and daemon.
type SyncConfig struct {
	// Interval between periodic daemon sync passes.
	Interval time.Duration `mapstructure:"interval"`

	// Concurrency bounds parallel record uploads within one phase.
	Concurrency int `mapstructure:"concurrency"`

	// Debounce is how long the daemon waits after a local write burst
	// before triggering an early pass.
	Debounce time.Duration `mapstructure:"debounce"`
}

// LogConfig configures the daemon log file rotation.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration from path. When path is empty the default
// location under the user's home directory is used.
func Load(path string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	baseDir := filepath.Join(home, ".replog")

	v.SetDefault("db_path", filepath.Join(baseDir, "replog.db"))
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.debounce", 2*time.Second)
	v.SetDefault("log.file", filepath.Join(baseDir, "daemon.log"))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetEnvPrefix("REPLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(baseDir)
		if err := v.ReadInConfig(); err != nil {
			// Defaults plus env vars are a complete configuration.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings sync commands depend on.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required (set it in config or REPLOG_USER_ID)")
	}
	if c.Remote.URL == "" {
		return fmt.Errorf("remote.url is required (set it in config or REPLOG_REMOTE_URL)")
	}
	return nil
}
