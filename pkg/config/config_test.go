package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":3000", cfg.Addr)
	require.Equal(t, "./sessions", cfg.SessionsDir)
	require.Equal(t, 5*time.Minute, cfg.PairingWindow.Std())
	require.Equal(t, 10*time.Second, cfg.WebhookTimeout.Std())
	require.Equal(t, "info", cfg.LogLevel)
	require.False(t, cfg.Redis.Enabled)
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
addr: ":8080"
sessionsDir: /var/lib/chatwire/sessions
pairingWindow: "2m"
logLevel: debug
redis:
  enabled: true
  addr: redis:6379
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "/var/lib/chatwire/sessions", cfg.SessionsDir)
	require.Equal(t, 2*time.Minute, cfg.PairingWindow.Std())
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.Redis.Enabled)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)

	// Values absent from the file keep their defaults.
	require.Equal(t, 10*time.Second, cfg.WebhookTimeout.Std())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pairingWindow: \"not-a-duration\""), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}
