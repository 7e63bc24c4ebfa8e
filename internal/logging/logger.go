package logging

import (
	"fmt"

	"github.com/williamhogman/sparkmesh/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ProvideLogger builds the process logger at the configured level. The
// development encoder is used when SPARKMESH_LOGGING_DEV is set.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	var zcfg zap.Config
	if cfg.Logging.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	// CLI output owns stdout; logs go to stderr
	zcfg.OutputPaths = []string{"stderr"}

	return zcfg.Build()
}

// Module provides the logger dependencies to the fx container
var Module = fx.Options(
	fx.Provide(ProvideLogger),
)
