package server

import (
	"sync"

	"github.com/auditup/authgate/internal/logger"
	"go.uber.org/zap"
)

// LoginRedirector collects teardown decisions from the transport chain.
// The transport signals that a session must go back to login; the server
// converts that signal into an actual navigation, either on the failing
// response itself or on the session's next state poll.
type LoginRedirector struct {
	mu      sync.Mutex
	pending map[string]string
}

// NewLoginRedirector creates an empty redirector.
func NewLoginRedirector() *LoginRedirector {
	return &LoginRedirector{pending: make(map[string]string)}
}

// RedirectToLogin records that the session must navigate to login.
func (l *LoginRedirector) RedirectToLogin(sid, returnTo string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[sid]; ok {
		return
	}
	logger.Info("login redirect queued", zap.String("sid", sid), zap.String("return_to", returnTo))
	l.pending[sid] = returnTo
}

// Consume pops a queued redirect for the session.
func (l *LoginRedirector) Consume(sid string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	returnTo, ok := l.pending[sid]
	if ok {
		delete(l.pending, sid)
	}
	return returnTo, ok
}
