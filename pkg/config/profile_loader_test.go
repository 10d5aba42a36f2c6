package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
council:
  accept_threshold: 0.7
  reject_threshold: 0.3
  fail_guard: 0.15
  max_debate_rounds: 3
  per_judge_timeout: 45s
  judges:
    - id: tech
      version: 1.2.0
      weight: 0.4
    - id: safety
      version: 1.0.0
      weight: 0.3
dispatch:
  max_concurrent: 4
  queue_capacity: 128
  per_worker_timeout: 90s
  retry_attempts: 5
policy:
  blocked_globs:
    - "**/*.pem"
  rules:
    - name: no-prod-push
      expression: 'commands.exists(c, c.contains("kubectl apply"))'
      code: DisallowedTool
      message: direct cluster mutation is not allowed
provenance:
  retention_days: 30
  algorithm: ES256
`)

	p, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, 0.7, p.Council.AcceptThreshold)
	assert.Equal(t, 3, p.Council.MaxDebateRounds)
	assert.Equal(t, 45*time.Second, p.Council.PerJudgeTimeout.Std())
	require.Len(t, p.Council.Judges, 2)
	assert.Equal(t, "tech", p.Council.Judges[0].ID)

	assert.Equal(t, 4, p.Dispatch.MaxConcurrent)
	assert.Equal(t, []string{"**/*.pem"}, p.Policy.BlockedGlobs)
	require.Len(t, p.Policy.Rules, 1)
	assert.Equal(t, "no-prod-push", p.Policy.Rules[0].Name)
	assert.Equal(t, 30, p.Provenance.RetentionDays)
	assert.Equal(t, "ES256", p.Provenance.Algorithm)
}

func TestLoadProfileRejectsOverweightJudges(t *testing.T) {
	path := writeProfile(t, `
council:
  judges:
    - id: a
      version: 1.0.0
      weight: 0.8
    - id: b
      version: 1.0.0
      weight: 0.5
`)
	_, err := LoadProfile(path)
	assert.ErrorContains(t, err, "exceeds 1")
}

func TestLoadProfileRejectsBadThreshold(t *testing.T) {
	path := writeProfile(t, `
council:
  accept_threshold: 1.4
`)
	_, err := LoadProfile(path)
	assert.ErrorContains(t, err, "accept_threshold")
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile("/nonexistent/profile.yaml")
	assert.Error(t, err)
}

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DISPATCH_QUEUE_CAPACITY", "256")
	t.Setenv("DISPATCH_WORKER_TIMEOUT", "45s")

	cfg := Load()
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 256, cfg.QueueCapacity)
	assert.Equal(t, 45*time.Second, cfg.PerWorkerTimeout)
	assert.Equal(t, "EdDSA", cfg.SigningAlgorithm)
}
