package session

import (
	"fmt"

	"github.com/auditup/authgate/internal/config"
	"go.uber.org/fx"
)

// NewStore builds the configured store backend, decorated with change
// notification.
func NewStore(cfg *config.SessionConfig, bus *Broadcaster) (Store, error) {
	var inner Store
	switch cfg.Store {
	case config.StoreMemory, "":
		inner = NewMemoryStore(cfg.TTL)
	case config.StoreRedis:
		redisStore, err := NewRedisStore(cfg)
		if err != nil {
			return nil, err
		}
		inner = redisStore
	default:
		return nil, fmt.Errorf("unsupported session store backend: %q", cfg.Store)
	}
	return NewNotifyingStore(inner, bus), nil
}

func newCodes() *Codes {
	// Markers only need to outlive the authorization code itself.
	return NewCodes(0)
}

// Module provides the session repository dependencies
var Module = fx.Module("session",
	fx.Provide(
		NewBroadcaster,
		NewStore,
		newCodes,
		NewCookieManager,
	),
)
