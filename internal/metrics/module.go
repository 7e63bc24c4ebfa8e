package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// ProvideRegistry creates a registry private to this process
func ProvideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ProvideRecorder registers the sparkmesh collectors on the registry
func ProvideRecorder(reg *prometheus.Registry) *Recorder {
	return NewRecorder(reg)
}

// Module provides the metrics registry and recorder to the fx container
var Module = fx.Options(
	fx.Provide(ProvideRegistry),
	fx.Provide(ProvideRecorder),
)
