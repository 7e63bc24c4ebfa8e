package main

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/williamhogman/sparkmesh/internal/cluster"
	"github.com/williamhogman/sparkmesh/internal/config"
	"github.com/williamhogman/sparkmesh/internal/logging"
	"github.com/williamhogman/sparkmesh/internal/metrics"
	"github.com/williamhogman/sparkmesh/internal/orchestrator"
	"github.com/williamhogman/sparkmesh/internal/persistence"
	"github.com/williamhogman/sparkmesh/internal/phases"
	"github.com/williamhogman/sparkmesh/internal/remote"
	"github.com/williamhogman/sparkmesh/internal/validator"
)

// Execution wires everything a run needs to reach the cluster
var Execution = fx.Options(
	remote.Module,
	persistence.Module,
	metrics.Module,
	phases.Module,
	validator.Module,
	orchestrator.Module,
)

// ReadOnly wires only the report store
var ReadOnly = fx.Options(
	persistence.Module,
)

func newApp(cl *cluster.ClusterConfig, opts ...fx.Option) *fx.App {
	return fx.New(
		fx.NopLogger,
		fx.Supply(cl),
		config.Module,
		logging.Module,
		fx.Options(opts...),
	)
}

// withApp starts app, runs fn and stops app again whatever fn returns
func withApp(ctx context.Context, app *fx.App, fn func() error) error {
	if err := app.Err(); err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.StopTimeout())
		defer cancel()
		_ = app.Stop(stopCtx)
	}()
	return fn()
}
