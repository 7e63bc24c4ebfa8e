package validator

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/williamhogman/sparkmesh/internal/config"
)

// LockerParams contains the dependencies for the link locker
type LockerParams struct {
	fx.In

	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

// ProvideLinkLocker shares link locks through redis when the redis state
// backend is configured, and keeps them in-process otherwise
func ProvideLinkLocker(p LockerParams) (LinkLocker, error) {
	if p.Config.State.Backend == "redis" && p.Redis != nil {
		return NewRedisLocks(p.Redis, p.Config.State.LockTTL)
	}
	return NewMemoryLocks(), nil
}

// Module provides the validator to the fx container
var Module = fx.Options(
	fx.Provide(ProvideLinkLocker),
	fx.Provide(New),
)
