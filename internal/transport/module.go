package transport

import "go.uber.org/fx"

// Module provides the interceptor chain dependencies
var Module = fx.Module("transport",
	fx.Provide(
		NewChain,
	),
)
