package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, 5*time.Minute, cfg.Gateway.SignatureTolerance)
	assert.Equal(t, 30*time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, 20, cfg.Jobs.BatchSize)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
  env: production
database:
  url: postgres://localhost/hustlexp
gateway:
  webhook_secret: whsec_file
  signature_tolerance: 2m
cloud_tasks:
  project_id: hustlexp-prod
  location_id: us-central1
  queue_id: jobs
  target_url: https://core.hustlexp.app/internal/jobs/run
alerts:
  primary_url: https://hooks.example.com/ops
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "production", cfg.Server.Env)
	assert.Equal(t, "postgres://localhost/hustlexp", cfg.Database.URL)
	assert.Equal(t, "whsec_file", cfg.Gateway.WebhookSecret)
	assert.Equal(t, 2*time.Minute, cfg.Gateway.SignatureTolerance)
	assert.Equal(t, "hustlexp-prod", cfg.Tasks.ProjectID)
	assert.Equal(t, "jobs", cfg.Tasks.QueueID)
	assert.Equal(t, "https://hooks.example.com/ops", cfg.Alerts.PrimaryURL)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gateway:
  webhook_secret: whsec_file
`), 0o644))

	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("PORT", "7070")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "whsec_env", cfg.Gateway.WebhookSecret)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not: a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
