package profile

import "go.uber.org/fx"

// Module provides profile resolution and role routing
var Module = fx.Module("profile",
	fx.Provide(
		NewResolver,
		NewRouter,
	),
)
