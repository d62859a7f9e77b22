package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3*time.Second, cfg.Monitor.SettleDelay)
	assert.Equal(t, 2*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, 3, cfg.Orchestrator.StartAttempts)
	assert.Equal(t, 1500*time.Millisecond, cfg.Orchestrator.RetryBackoff)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.FinalizeTimeout)
	assert.Equal(t, 2*time.Second, cfg.Capture.MuteInterval)
	assert.Equal(t, time.Second, cfg.Capture.FragmentInterval)
	assert.Contains(t, cfg.Orchestrator.PermanentReasons, "no_permission")
	assert.Equal(t, "badger", cfg.Store.Backend)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte(`
port: 9090
store:
  backend: memory
monitor:
  settle_delay: 250ms
orchestrator:
  permanent_reasons: [no_permission, capture_rejected]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.SettleDelay)
	assert.Equal(t, 1*time.Second, cfg.Monitor.LeaveDebounce)
	assert.Equal(t, []string{"no_permission", "capture_rejected"}, cfg.Orchestrator.PermanentReasons)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Orchestrator.StartAttempts = 0
	assert.Error(t, cfg.Validate())
}
