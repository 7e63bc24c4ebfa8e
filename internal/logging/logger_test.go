package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/williamhogman/sparkmesh/internal/config"
	"go.uber.org/zap/zapcore"
)

func TestProvideLogger(t *testing.T) {
	cfg := &config.Config{Logging: config.LoggingConfig{Development: true, Level: "debug"}}
	logger, err := ProvideLogger(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	cfg.Logging = config.LoggingConfig{Level: "warn"}
	logger, err = ProvideLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestProvideLogger_BadLevel(t *testing.T) {
	_, err := ProvideLogger(&config.Config{Logging: config.LoggingConfig{Level: "chatty"}})
	assert.Error(t, err)
}
