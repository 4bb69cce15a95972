package server

import (
	"context"

	"github.com/auditup/authgate/internal/transport"
	"go.uber.org/fx"
)

// Module provides the HTTP server dependencies
var Module = fx.Module("server",
	fx.Provide(
		NewLoginRedirector,
		func(l *LoginRedirector) transport.RedirectSink { return l },
		NewServer,
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return s.Stop(ctx)
			},
		})
	}),
)
