package health

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/williamhogman/sparkmesh/internal/config"
)

// ProvideAggregator wires the procfs, sysfs and NVML sources into an aggregator
func ProvideAggregator(cfg *config.Config, logger *zap.Logger) (*Aggregator, error) {
	sampler, err := NewProcfsSampler(cfg.Health.DiskPath)
	if err != nil {
		return nil, err
	}
	processes, err := NewProcfsProcesses()
	if err != nil {
		return nil, err
	}

	interfaces, err := NewSysfsInterfaces()
	if err != nil {
		return nil, err
	}

	opts := Options{
		SampleWindow:      cfg.Health.SampleWindow,
		RequireGPU:        cfg.Health.RequireGPU,
		RequiredProcesses: cfg.Health.Processes,
		WatchInterfaces:   cfg.Health.Interfaces,
	}
	return NewAggregator(opts, sampler, NewNVMLSource(logger), processes, interfaces, logger), nil
}

// ProvideServiceChecker creates the local service checker
func ProvideServiceChecker(cfg *config.Config) *ServiceChecker {
	return NewServiceChecker("localhost", cfg.Health.ServiceTimeout)
}

// Module provides the health aggregator and service checker to the fx container
var Module = fx.Options(
	fx.Provide(ProvideAggregator),
	fx.Provide(ProvideServiceChecker),
)

// ServerModule adds the HTTP health endpoint
var ServerModule = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(RegisterServer),
)
