package callback

import "go.uber.org/fx"

// Module provides the callback flow dependencies
var Module = fx.Module("callback",
	fx.Provide(
		NewHandler,
	),
)
