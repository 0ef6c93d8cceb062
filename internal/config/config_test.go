package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Setenv(EnvAddr, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:39871", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.ServerTimeout)
	assert.Equal(t, 10*time.Second, cfg.ClientTimeout)
	assert.Equal(t, 1400*time.Millisecond, cfg.ReplyDelay)
	assert.Equal(t, 1, cfg.ReplyAttempts)
	assert.Equal(t, int64(1<<20), cfg.AuditMaxBytes)
	assert.Equal(t, 30*time.Second, cfg.CaptureTimeout)
	assert.Equal(t, 10*time.Second, cfg.RunTimeout)
	assert.True(t, filepath.IsAbs(cfg.AuditLog), "audit path should be expanded: %s", cfg.AuditLog)
	assert.Equal(t, "executions.log", filepath.Base(cfg.AuditLog))
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	t.Setenv(EnvAddr, "")
	path := writeConfig(t, "reply_delay: 2s\nreply_attempts: 5\naudit_log: /tmp/lai-audit.log\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.ReplyDelay)
	assert.Equal(t, 5, cfg.ReplyAttempts)
	assert.Equal(t, "/tmp/lai-audit.log", cfg.AuditLog)
	assert.Equal(t, "127.0.0.1:39871", cfg.ListenAddr)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "listen_addr: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv(EnvAddr, "")
	for _, body := range []string{
		"reply_attempts: 0\n",
		"server_timeout: 0s\n",
		"audit_max_bytes: -1\n",
		"reply_delay: -1s\n",
	} {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, body)
	}
}

func TestLoadAddrFromEnv(t *testing.T) {
	t.Setenv(EnvAddr, "127.0.0.1:40000")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:40000", cfg.ListenAddr)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".lai", "x"), ExpandHome("~/.lai/x"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}

func TestParseDevMode(t *testing.T) {
	cases := map[string]bool{
		"1":      true,
		"true":   true,
		"TRUE":   true,
		" yes ":  true,
		"Yes":    true,
		"":       false,
		"0":      false,
		"false":  false,
		"on":     false,
		"enable": false,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseDevMode(in), "DEV_MODE=%q", in)
	}
}

func TestDevModeFromEnv(t *testing.T) {
	t.Setenv(EnvDevMode, "yes")
	assert.True(t, DevModeFromEnv())
	t.Setenv(EnvDevMode, "")
	assert.False(t, DevModeFromEnv())
}
