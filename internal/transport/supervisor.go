package transport

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auditup/authgate/internal/logger"
	"github.com/auditup/authgate/internal/session"
	"go.uber.org/zap"
)

// Supervisor is the outermost chain layer. It observes every response
// that passes through the shared client, regardless of which component
// issued the request, and enforces session teardown when no refresh path
// can recover the situation. It exists because refresh is attempted by
// call-site-specific logic while many code paths use the client directly:
// an authorization failure must never be silently swallowed.
//
// A naive redirect-on-any-401 policy would race against legitimate
// in-flight refreshes; the supervisor instead waits a debounce window and
// re-checks token presence before acting.
type Supervisor struct {
	base          http.RoundTripper
	store         session.Store
	sink          RedirectSink
	tokenEndpoint string
	apiBase       string
	apiPrefix     string
	guestPrefixes []string
	window        time.Duration

	pendingMu sync.Mutex
	pending   map[string]bool

	wg     sync.WaitGroup
	done   chan struct{}
	closed atomic.Bool
	cancel func()
}

// SupervisorOptions collects the construction parameters.
type SupervisorOptions struct {
	Store         session.Store
	Bus           *session.Broadcaster
	Sink          RedirectSink
	TokenEndpoint string
	APIBase       string
	APIPrefix     string
	GuestPrefixes []string
	Window        time.Duration
}

// NewSupervisor wraps base with the supervisory layer. A session commit
// observed on the broadcaster re-arms that session's redirect flag.
func NewSupervisor(base http.RoundTripper, opts SupervisorOptions) *Supervisor {
	if base == nil {
		base = http.DefaultTransport
	}
	s := &Supervisor{
		base:          base,
		store:         opts.Store,
		sink:          opts.Sink,
		tokenEndpoint: opts.TokenEndpoint,
		apiBase:       opts.APIBase,
		apiPrefix:     opts.APIPrefix,
		guestPrefixes: opts.GuestPrefixes,
		window:        opts.Window,
		pending:       make(map[string]bool),
		done:          make(chan struct{}),
	}

	if opts.Bus != nil {
		events, cancel := opts.Bus.Subscribe()
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					if ev.Kind == session.EventCommitted {
						s.pendingMu.Lock()
						delete(s.pending, ev.SID)
						s.pendingMu.Unlock()
					}
				case <-s.done:
					return
				}
			}
		}()
	}

	return s
}

func (s *Supervisor) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		s.observeDenied(req)
	}
	return resp, nil
}

// observeDenied applies the skip rules and schedules the delayed
// teardown check.
func (s *Supervisor) observeDenied(req *http.Request) {
	sid, ok := SessionIDFrom(req.Context())
	if !ok {
		return
	}

	location := ReturnToFrom(req.Context())

	// Externally-authenticated flows manage their own lifecycle.
	for _, prefix := range s.guestPrefixes {
		if strings.HasPrefix(location, prefix) || strings.HasPrefix(req.URL.Path, prefix) {
			return
		}
	}

	// A denial from the token endpoint is an expected signal during an
	// in-flight refresh attempt, not a terminal failure.
	if s.tokenEndpoint != "" && strings.HasPrefix(req.URL.String(), s.tokenEndpoint) {
		return
	}

	// The bearer transport owns recovery for the API namespace.
	if strings.HasPrefix(req.URL.String(), s.apiBase+s.apiPrefix) ||
		(req.URL.Host == "" && strings.HasPrefix(req.URL.Path, s.apiPrefix)) {
		return
	}

	if s.closed.Load() {
		return
	}

	logger.Debug("supervisor observed authorization failure",
		zap.String("url", req.URL.String()),
		zap.String("sid", sid),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(s.window)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.done:
			return
		}

		// Re-check after the window: a concurrent refresh that landed in
		// the meantime means no action is needed.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := s.store.Get(ctx, sid)
		if err == nil && snap.Tokens != nil &&
			(snap.Tokens.AccessToken != "" || snap.Tokens.RefreshToken != "") {
			return
		}

		// One redirect per session per failure storm; the flag is re-armed
		// by that session's next commit.
		s.pendingMu.Lock()
		if s.pending[sid] {
			s.pendingMu.Unlock()
			return
		}
		s.pending[sid] = true
		s.pendingMu.Unlock()

		logger.Info("no recovering token after debounce window, redirecting to login",
			zap.String("sid", sid),
		)
		if clearErr := s.store.Clear(ctx, sid); clearErr != nil {
			logger.Error("failed to clear session", zap.Error(clearErr))
		}
		s.sink.RedirectToLogin(sid, location)
	}()
}

// Close stops the supervisor's timers and subscription. The wrapped
// transport keeps working unwrapped semantics after close.
func (s *Supervisor) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
