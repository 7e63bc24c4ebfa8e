package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Remote.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Remote.InitialBackoff)
	assert.Equal(t, 2.0, cfg.Remote.BackoffFactor)
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, time.Second, cfg.Health.SampleWindow)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SPARKMESH_STATE_BACKEND", "redis")
	t.Setenv("SPARKMESH_REMOTE_MAX_RETRIES", "5")
	t.Setenv("SPARKMESH_HEALTH_PROCESSES", "sshd,dockerd")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.State.Backend)
	assert.Equal(t, 5, cfg.Remote.MaxRetries)
	assert.Equal(t, []string{"sshd", "dockerd"}, cfg.Health.Processes)
}

func TestLoadConfig_InvalidValue(t *testing.T) {
	t.Setenv("SPARKMESH_REMOTE_MAX_RETRIES", "many")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestPrintConfig(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	var buf bytes.Buffer
	PrintConfig(&buf, cfg)
	assert.Contains(t, buf.String(), "State Backend: file")
}
