package manager

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the session state manager
var Module = fx.Module("manager",
	fx.Provide(
		NewManager,
	),
	fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				m.Close()
				return nil
			},
		})
	}),
)
