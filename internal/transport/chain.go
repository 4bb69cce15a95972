package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/auditup/authgate/internal/config"
	"github.com/auditup/authgate/internal/oidc"
	"github.com/auditup/authgate/internal/session"
	"go.uber.org/fx"
)

// Chain is the interceptor chain assembled once at bootstrap and injected
// into every component that talks HTTP. Layers, outermost first:
// supervisor, bearer injection, base transport.
type Chain struct {
	Client     *http.Client
	supervisor *Supervisor
}

// ChainParams collects the chain dependencies.
type ChainParams struct {
	fx.In

	Config   *config.Config
	Store    session.Store
	Bus      *session.Broadcaster
	Sink     RedirectSink
	Provider oidc.Provider
	LC       fx.Lifecycle `optional:"true"`
}

// NewChain builds the chain from configuration.
func NewChain(params ChainParams) *Chain {
	bearer := NewBearerTransport(
		http.DefaultTransport,
		params.Store,
		params.Sink,
		params.Config.Backend.BaseURL,
		params.Config.Backend.APIPrefix,
	)

	supervisor := NewSupervisor(bearer, SupervisorOptions{
		Store:         params.Store,
		Bus:           params.Bus,
		Sink:          params.Sink,
		TokenEndpoint: params.Provider.TokenEndpoint(),
		APIBase:       params.Config.Backend.BaseURL,
		APIPrefix:     params.Config.Backend.APIPrefix,
		GuestPrefixes: params.Config.Session.GuestPathPrefixes,
		Window:        params.Config.Session.DebounceWindow,
	})

	chain := &Chain{
		Client: &http.Client{
			Transport: supervisor,
			Timeout:   60 * time.Second,
		},
		supervisor: supervisor,
	}

	if params.LC != nil {
		params.LC.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				chain.Close()
				return nil
			},
		})
	}

	return chain
}

// Close disposes the supervisory layer.
func (c *Chain) Close() {
	c.supervisor.Close()
}
