package orchestrator

import "go.uber.org/fx"

// Module provides the orchestrator to the fx container
var Module = fx.Options(
	fx.Provide(New),
)
