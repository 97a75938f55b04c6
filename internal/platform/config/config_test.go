package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 72*time.Hour, cfg.SLA.Window)
	assert.Equal(t, 30*time.Minute, cfg.SLA.SweepInterval)
	assert.Equal(t, 2, cfg.Claims.MaxAppeals)
	assert.Equal(t, 5*time.Second, cfg.Scoring.ScorerTimeout)
	assert.Equal(t, "INR", cfg.Claims.DefaultCurrency)
	assert.Equal(t, 30*time.Minute, cfg.Claims.ScoringStallAfter)
	assert.Equal(t, 10*time.Minute, cfg.Claims.RecoveryInterval)
	assert.Empty(t, cfg.Database.URL)
	assert.True(t, cfg.IsDev())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CAREVERIFY_SLA_WINDOW", "24h")
	t.Setenv("CAREVERIFY_CLAIMS_MAX_APPEALS", "3")
	t.Setenv("CAREVERIFY_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.SLA.Window)
	assert.Equal(t, 3, cfg.Claims.MaxAppeals)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "careverify.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sla:\n  sweep_interval: 5m\nrouting:\n  relationships_file: rel.yaml\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.SLA.SweepInterval)
	assert.Equal(t, "rel.yaml", cfg.Routing.RelationshipsFile)
}

func TestValidate_RejectsBrokenValues(t *testing.T) {
	t.Setenv("CAREVERIFY_CLAIMS_DEFAULT_PRIORITY", "9")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_priority")
}

func TestValidate_RejectsZeroStallWindow(t *testing.T) {
	t.Setenv("CAREVERIFY_CLAIMS_SCORING_STALL_AFTER", "0s")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring_stall_after")
}

func TestValidate_RateLimit(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)

	t.Setenv("CAREVERIFY_RATE_LIMIT_REQUESTS", "0")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit")

	t.Setenv("CAREVERIFY_RATE_LIMIT_ENABLED", "false")
	_, err = Load("")
	assert.NoError(t, err)
}
