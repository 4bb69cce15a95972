package config

import "go.uber.org/fx"

// Module provides the configuration dependencies
var Module = fx.Module("config",
	fx.Provide(
		Load,
		func(c *Config) *ProviderConfig { return &c.Provider },
		func(c *Config) *BackendConfig { return &c.Backend },
		func(c *Config) *SessionConfig { return &c.Session },
		func(c *Config) *RoutesConfig { return &c.Routes },
	),
)
