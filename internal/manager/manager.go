package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/auditup/authgate/internal/logger"
	"github.com/auditup/authgate/internal/oidc"
	"github.com/auditup/authgate/internal/profile"
	"github.com/auditup/authgate/internal/session"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// State is the reactive session view exposed to the rest of the
// application.
type State struct {
	User          *profile.User `json:"user"`
	Authenticated bool          `json:"authenticated"`
	Loading       bool          `json:"loading"`
}

// Manager is the single source of truth for per-session state. It seeds
// synchronously from the store - stored credentials are trusted until a
// request proves otherwise - and re-derives its view whenever the
// broadcaster reports a change made elsewhere.
type Manager struct {
	provider oidc.Provider
	store    session.Store

	mu       sync.RWMutex
	states   map[string]State
	watchers map[string]map[int]chan State
	nextID   int

	done   chan struct{}
	cancel func()
	wg     sync.WaitGroup
}

// NewManager creates a Manager subscribed to session change events.
func NewManager(provider oidc.Provider, store session.Store, bus *session.Broadcaster) *Manager {
	m := &Manager{
		provider: provider,
		store:    store,
		states:   make(map[string]State),
		watchers: make(map[string]map[int]chan State),
		done:     make(chan struct{}),
	}

	events, cancel := bus.Subscribe()
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				m.rederive(ev.SID)
			case <-m.done:
				return
			}
		}
	}()

	return m
}

// State returns the current view for a session, seeding it from the
// store on first access. No network call is made to check authentication.
func (m *Manager) State(ctx context.Context, sid string) State {
	m.mu.RLock()
	state, ok := m.states[sid]
	m.mu.RUnlock()
	if ok {
		return state
	}
	return m.seed(ctx, sid)
}

// Refresh trades the stored refresh token for a fresh token set and
// persists the full rotated set together with the existing profile.
// Failure is always fatal: the session is logged out unconditionally and
// the refresh is never retried.
func (m *Manager) Refresh(ctx context.Context, sid string) error {
	m.setLoading(sid, true)
	defer m.setLoading(sid, false)

	snap, err := m.store.Get(ctx, sid)
	if err != nil || snap.Tokens == nil || snap.Tokens.RefreshToken == "" {
		logger.Warn("refresh requested without a refresh token", zap.String("sid", sid))
		m.logout(ctx, sid)
		return fmt.Errorf("no refresh token available: %w", oidc.ErrRefreshFailed)
	}

	tokens, err := m.provider.Refresh(ctx, snap.Tokens.RefreshToken)
	if err != nil {
		logger.Warn("token refresh failed, logging out", zap.String("sid", sid), zap.Error(err))
		m.logout(ctx, sid)
		return err
	}

	// Keycloak reissues the ID token on refresh; if a provider does not,
	// the previous one stays valid for logout hinting.
	if tokens.IDToken == "" {
		tokens.IDToken = snap.Tokens.IDToken
	}

	if err := m.store.Put(ctx, sid, &session.Snapshot{Tokens: tokens, Profile: snap.Profile}); err != nil {
		m.logout(ctx, sid)
		return fmt.Errorf("failed to persist refreshed session: %w", err)
	}

	logger.Info("session refreshed", zap.String("sid", sid))
	return nil
}

// Logout clears the stored session and the in-memory view.
func (m *Manager) Logout(ctx context.Context, sid string) {
	m.logout(ctx, sid)
}

// Watch streams state changes for a session. The returned cancel
// function releases the watcher.
func (m *Manager) Watch(sid string) (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan State, 4)
	if m.watchers[sid] == nil {
		m.watchers[sid] = make(map[int]chan State)
	}
	m.watchers[sid][id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subs, ok := m.watchers[sid]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				close(sub)
			}
			if len(subs) == 0 {
				delete(m.watchers, sid)
			}
		}
	}
	return ch, cancel
}

// RefreshLead returns how long until the access token should be
// proactively refreshed. The token is parsed without verification; the
// value is advisory scheduling input, not an authorization decision.
func RefreshLead(accessToken string, margin time.Duration) time.Duration {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	lead := time.Until(exp.Time) - margin
	if lead < 0 {
		return 0
	}
	return lead
}

// Close stops the event loop.
func (m *Manager) Close() {
	close(m.done)
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) seed(ctx context.Context, sid string) State {
	snap, err := m.store.Get(ctx, sid)
	state := State{}
	if err == nil && snap.Complete() {
		state = State{User: snap.Profile, Authenticated: true}
	}
	m.setState(sid, state)
	return state
}

func (m *Manager) rederive(sid string) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()
	m.seed(ctx, sid)
}

func (m *Manager) logout(ctx context.Context, sid string) {
	if err := m.store.Clear(ctx, sid); err != nil {
		logger.Error("failed to clear session", zap.Error(err))
	}
	m.setState(sid, State{})
}

func (m *Manager) setLoading(sid string, loading bool) {
	m.mu.Lock()
	state := m.states[sid]
	state.Loading = loading
	m.states[sid] = state
	m.mu.Unlock()
	m.notify(sid)
}

func (m *Manager) setState(sid string, state State) {
	m.mu.Lock()
	m.states[sid] = state
	m.mu.Unlock()
	m.notify(sid)
}

func (m *Manager) notify(sid string) {
	m.mu.RLock()
	state := m.states[sid]
	subs := m.watchers[sid]
	for _, ch := range subs {
		select {
		case ch <- state:
		default:
		}
	}
	m.mu.RUnlock()
}
