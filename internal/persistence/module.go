package persistence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/williamhogman/sparkmesh/internal/config"
)

// ProvideRedisClient creates a Redis client when the redis backend is
// selected. It returns nil otherwise.
func ProvideRedisClient(cfg *config.Config, lc fx.Lifecycle) (*redis.Client, error) {
	if cfg.State.Backend != "redis" {
		return nil, nil
	}
	client, err := newRedisClient(cfg.State.RedisURI)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client, nil
}

// StoreParams contains the dependencies for the report store
type StoreParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Redis     *redis.Client `optional:"true"`
	Logger    *zap.Logger
}

// ProvideStore creates the report store selected by configuration
func ProvideStore(p StoreParams) (ReportStore, error) {
	var store ReportStore
	var err error

	switch p.Config.State.Backend {
	case "redis":
		store, err = newRedisStore(p.Redis, defaultKeyPrefix, p.Config.State.History)
	case "memory":
		store = NewMemoryStore(p.Config.State.History)
	case "file", "":
		store, err = NewFileStore(p.Config.State.Dir, p.Config.State.History)
	default:
		err = fmt.Errorf("unknown state backend %q", p.Config.State.Backend)
	}
	if err != nil {
		return nil, err
	}

	p.Logger.Debug("report store ready", zap.String("backend", p.Config.State.Backend))
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

// Module provides the persistence dependencies to the fx container
var Module = fx.Options(
	fx.Provide(ProvideRedisClient),
	fx.Provide(ProvideStore),
)
