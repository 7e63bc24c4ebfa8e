package phases

import "go.uber.org/fx"

// Module provides the default phase registry to the fx container
var Module = fx.Options(
	fx.Provide(NewDefaultRegistry),
)
