package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/auditup/authgate/internal/logger"
	"github.com/auditup/authgate/internal/session"
	"go.uber.org/zap"
)

// BearerTransport decorates backend API requests with the session's
// bearer token and reacts to first-order authorization failure. It never
// attempts a silent refresh and never retries: a request that reaches
// final failure here means refresh has already had its chance upstream,
// so the stale session is cleared and the user is sent back to login.
type BearerTransport struct {
	base      http.RoundTripper
	store     session.Store
	sink      RedirectSink
	apiBase   string
	apiPrefix string
}

// NewBearerTransport wraps base with bearer injection for requests under
// apiBase+apiPrefix.
func NewBearerTransport(base http.RoundTripper, store session.Store, sink RedirectSink, apiBase, apiPrefix string) *BearerTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &BearerTransport{
		base:      base,
		store:     store,
		sink:      sink,
		apiBase:   apiBase,
		apiPrefix: apiPrefix,
	}
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sid, hasSID := SessionIDFrom(req.Context())

	out := req
	if hasSID && t.targetsAPI(req) {
		if snap, err := t.store.Get(req.Context(), sid); err == nil && snap.Tokens != nil && snap.Tokens.AccessToken != "" {
			out = req.Clone(req.Context())
			out.Header.Set("Authorization", "Bearer "+snap.Tokens.AccessToken)
		}
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && hasSID && t.targetsAPI(req) {
		returnTo := ReturnToFrom(req.Context())
		logger.Warn("api request denied, tearing down session",
			zap.String("path", req.URL.Path),
			zap.String("return_to", returnTo),
		)
		if clearErr := t.store.Clear(context.WithoutCancel(req.Context()), sid); clearErr != nil {
			logger.Error("failed to clear session", zap.Error(clearErr))
		}
		t.sink.RedirectToLogin(sid, returnTo)
	}

	return resp, nil
}

func (t *BearerTransport) targetsAPI(req *http.Request) bool {
	u := req.URL.String()
	return strings.HasPrefix(u, t.apiBase+t.apiPrefix) ||
		(req.URL.Host == "" && strings.HasPrefix(req.URL.Path, t.apiPrefix))
}
