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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
paths:
  state_dir: /var/lib/edged
  recipe_dir: /var/lib/edged/recipes
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Lifecycle.MaxRetries)
	assert.Equal(t, RetryBackoffExponential, cfg.Lifecycle.RetryBackoff)
	assert.Equal(t, 4, cfg.Lifecycle.StepWorkers)
	assert.Equal(t, "127.0.0.1:9125", cfg.API.Listen)
	assert.Equal(t, "edged.state", cfg.Events.SubjectPrefix)
	assert.Equal(t, 120*time.Second, Duration(cfg.Lifecycle.InstallTimeout, 0))
	assert.Equal(t, 15*time.Second, Duration(cfg.Lifecycle.ShutdownTimeout, 0))
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("EDGED_TEST_STATE", "/tmp/edged-state")
	path := writeConfig(t, `
paths:
  state_dir: ${EDGED_TEST_STATE}
  recipe_dir: /var/lib/edged/recipes
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/edged-state", cfg.Paths.StateDir)
}

func TestLoadRejectsMissingStateDir(t *testing.T) {
	path := writeConfig(t, `
paths:
  recipe_dir: /var/lib/edged/recipes
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_dir")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
paths:
  state_dir: /a
  recipe_dir: /b
lifecycle:
  install_timeout: not-a-duration
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "install_timeout")
}

func TestLoadRejectsUnknownBackoffMode(t *testing.T) {
	path := writeConfig(t, `
paths:
  state_dir: /a
  recipe_dir: /b
lifecycle:
  retry_backoff: quadratic
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("garbage", time.Minute))
}
