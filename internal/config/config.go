// Package config loads lai settings from ~/.lai/config.yaml and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/lai/internal/audit"
	"github.com/ppiankov/lai/internal/protocol"
)

// Environment variables read by lai.
const (
	EnvAddr    = "LAI_ADDR"
	EnvDevMode = "DEV_MODE"
)

// Config holds every tunable. Durations accept Go syntax ("30s", "1400ms").
type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	ServerTimeout  time.Duration `yaml:"server_timeout"`
	ClientTimeout  time.Duration `yaml:"client_timeout"`
	ReplyDelay     time.Duration `yaml:"reply_delay"`
	ReplyAttempts  int           `yaml:"reply_attempts"`
	Database       string        `yaml:"database"`
	AuditLog       string        `yaml:"audit_log"`
	AuditMaxBytes  int64         `yaml:"audit_max_bytes"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:     protocol.DefaultAddr,
		ServerTimeout:  protocol.ServerTimeout,
		ClientTimeout:  protocol.ClientTimeout,
		ReplyDelay:     1400 * time.Millisecond,
		ReplyAttempts:  1,
		Database:       "~/.lai/lai.db",
		AuditLog:       "~/.lai/executions.log",
		AuditMaxBytes:  audit.DefaultMaxBytes,
		CaptureTimeout: 30 * time.Second,
		RunTimeout:     10 * time.Second,
	}
}

// DefaultPath returns ~/.lai/config.yaml, or "" when there is no home
// directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".lai", "config.yaml")
}

// Load reads the YAML file at path over the defaults. Empty path means
// DefaultPath. A missing file yields defaults; invalid YAML is an error.
// LAI_ADDR overrides listen_addr. Paths starting with "~/" are expanded.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if addr := strings.TrimSpace(os.Getenv(EnvAddr)); addr != "" {
		cfg.ListenAddr = addr
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Database = ExpandHome(cfg.Database)
	cfg.AuditLog = ExpandHome(cfg.AuditLog)
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("config: listen_addr is empty")
	case c.ServerTimeout <= 0 || c.ClientTimeout <= 0:
		return fmt.Errorf("config: timeouts must be positive")
	case c.ReplyDelay < 0:
		return fmt.Errorf("config: reply_delay must not be negative")
	case c.ReplyAttempts < 1:
		return fmt.Errorf("config: reply_attempts must be at least 1")
	case c.AuditMaxBytes <= 0:
		return fmt.Errorf("config: audit_max_bytes must be positive")
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// DevModeFromEnv reports whether DEV_MODE enables development commands.
// Accepted values are 1, true and yes in any case.
func DevModeFromEnv() bool {
	return ParseDevMode(os.Getenv(EnvDevMode))
}

// ParseDevMode is the DEV_MODE value check.
func ParseDevMode(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
