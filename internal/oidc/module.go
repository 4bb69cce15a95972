package oidc

import "go.uber.org/fx"

// Module provides the identity provider client
var Module = fx.Module("oidc",
	fx.Provide(
		fx.Annotate(
			NewKeycloakProvider,
			fx.As(new(Provider)),
		),
	),
)
