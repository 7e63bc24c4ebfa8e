package remote

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/williamhogman/sparkmesh/internal/cluster"
	"github.com/williamhogman/sparkmesh/internal/config"
)

// ExecutorParams contains the dependencies for the SSH executor
type ExecutorParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Cluster   *cluster.ClusterConfig
	Logger    *zap.Logger
}

// OptionsFromConfig builds SSH options from process settings and a cluster
func OptionsFromConfig(cfg *config.Config, cl *cluster.ClusterConfig) SSHOptions {
	return SSHOptions{
		KeyPath:        cl.SSHKeyPath,
		Port:           cl.SSHPort,
		ConnectTimeout: cl.ConnectTimeout.Std(),
		KnownHostsFile: cfg.Remote.KnownHostsFile,
		Backoff: Backoff{
			Initial:    cfg.Remote.InitialBackoff,
			Factor:     cfg.Remote.BackoffFactor,
			Max:        cfg.Remote.MaxBackoff,
			MaxRetries: cfg.Remote.MaxRetries,
		},
	}
}

// ProvideExecutor creates the SSH executor and closes its connections on stop
func ProvideExecutor(p ExecutorParams) Executor {
	executor := NewSSHExecutor(OptionsFromConfig(p.Config, p.Cluster), p.Logger)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return executor.Close()
		},
	})

	return executor
}

// Module provides the remote executor to the fx container
var Module = fx.Options(
	fx.Provide(ProvideExecutor),
)
