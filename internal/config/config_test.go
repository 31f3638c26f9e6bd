package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, "ucb1", cfg.Bandit.Algorithm)
	assert.Equal(t, "memory", cfg.State.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Lifecycle.IdleDelay.Std())
	assert.Equal(t, "noop", cfg.Lifecycle.CloudDriver)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  addr: ":9000"
  webhook_secret: hunter2
bandit:
  algorithm: thompson
state:
  backend: file
  file_path: /var/lib/runnerd/state.json
lifecycle:
  idle_delay: 10m
  cloud_driver: exec
  start_cmd: ["gcloud", "compute", "instances", "start", "ci-runner"]
  stop_cmd: ["gcloud", "compute", "instances", "stop", "ci-runner"]
  managed_runners: [gcp-spot]
runners:
  - runner_key: gcp-spot
    tags: [docker, gcp]
    capabilities: [docker, gcp, nordic]
    cost_per_minute: 0.008
tag_mappings:
  heavy: [x86_64, gpu]
`
	path := filepath.Join(t.TempDir(), "runnerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "hunter2", cfg.Server.WebhookSecret)
	assert.Equal(t, "thompson", cfg.Bandit.Algorithm)
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Lifecycle.IdleDelay.Std())
	assert.Equal(t, []string{"gcp-spot"}, cfg.Lifecycle.ManagedKeys)
	require.Len(t, cfg.Runners, 1)
	assert.Equal(t, 0.008, cfg.Runners[0].CostPerMinute)
	assert.Equal(t, []string{"x86_64", "gpu"}, cfg.TagMappings["heavy"])
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RUNNERD_ADDR", ":7777")
	t.Setenv("RUNNERD_BANDIT_ALGORITHM", "epsilon_greedy")
	t.Setenv("RUNNERD_STATE_BACKEND", "file")
	t.Setenv("RUNNERD_STATE_FILE", "/tmp/state.json")
	t.Setenv("RUNNERD_IDLE_DELAY", "30m")
	t.Setenv("RUNNERD_METRICS_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, "epsilon_greedy", cfg.Bandit.Algorithm)
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, "/tmp/state.json", cfg.State.FilePath)
	assert.Equal(t, 30*time.Minute, cfg.Lifecycle.IdleDelay.Std())
	assert.False(t, cfg.Metrics.Enabled)
}

func TestValidateRejectsIncompleteBackends(t *testing.T) {
	cfg := Default()
	cfg.State.Backend = "file"
	require.Error(t, cfg.Validate())

	cfg.State.Backend = "postgres"
	require.Error(t, cfg.Validate())

	cfg.State.Backend = "object"
	require.Error(t, cfg.Validate())

	cfg.State.Backend = "redis"
	require.Error(t, cfg.Validate())

	cfg.State.Backend = "postgres"
	cfg.State.PostgresDSN = "postgres://localhost/runnerd"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadLifecycle(t *testing.T) {
	cfg := Default()
	cfg.Lifecycle.CloudDriver = "exec"
	require.Error(t, cfg.Validate())

	cfg.Lifecycle.StartCmd = []string{"true"}
	cfg.Lifecycle.StopCmd = []string{"true"}
	require.NoError(t, cfg.Validate())

	cfg.Lifecycle.CloudDriver = "terraform"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadRunners(t *testing.T) {
	cfg := Default()
	cfg.Runners = []RunnerConfig{{RunnerKey: "  "}}
	require.Error(t, cfg.Validate())

	cfg.Runners = []RunnerConfig{{RunnerKey: "r", CostPerMinute: -0.1}}
	require.Error(t, cfg.Validate())
}
