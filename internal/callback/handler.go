package callback

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/auditup/authgate/internal/config"
	"github.com/auditup/authgate/internal/logger"
	"github.com/auditup/authgate/internal/oidc"
	"github.com/auditup/authgate/internal/profile"
	"github.com/auditup/authgate/internal/session"
	"go.uber.org/zap"
)

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
<meta http-equiv="refresh" content="{{.Delay}};url={{.LoginURL}}">
<title>Sign-in failed</title>
</head>
<body>
<p>{{.Message}}</p>
<p>You will be redirected to the sign-in page.</p>
</body>
</html>`))

// Handler drives the authorization-code callback: exchange, profile
// resolution, atomic commit, role-based redirect. It also owns the login
// and logout entry points.
type Handler struct {
	provider oidc.Provider
	resolver *profile.Resolver
	router   *profile.Router
	store    session.Store
	codes    *session.Codes
	cookies  *session.CookieManager
	cfg      *config.Config
}

// NewHandler creates a callback Handler.
func NewHandler(
	provider oidc.Provider,
	resolver *profile.Resolver,
	router *profile.Router,
	store session.Store,
	codes *session.Codes,
	cookies *session.CookieManager,
	cfg *config.Config,
) *Handler {
	return &Handler{
		provider: provider,
		resolver: resolver,
		router:   router,
		store:    store,
		codes:    codes,
		cookies:  cookies,
		cfg:      cfg,
	}
}

// HandleLogin sends the browser to the provider's authorization endpoint.
// The state parameter carries the post-login return location.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, err := h.cookies.EnsureSessionID(w, r); err != nil {
		logger.Error("failed to establish session cookie", zap.Error(err))
	}

	returnTo := r.URL.Query().Get("return_to")
	if returnTo == "" {
		returnTo = "/"
	}
	http.Redirect(w, r, h.provider.AuthCodeURL(returnTo), http.StatusFound)
}

// HandleCallback receives the provider redirect and drives the flow to a
// committed session. Invoking it twice with the same code performs
// exactly one exchange; the duplicate is a no-op.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	f := newFlow()

	if providerErr := query.Get("error"); providerErr != "" {
		_ = f.advance(PhaseErrored)
		desc := query.Get("error_description")
		if desc == "" {
			desc = providerErr
		}
		logger.Warn("provider returned an error on callback",
			zap.String("error", providerErr),
			zap.String("description", desc),
		)
		h.renderError(w, desc)
		return
	}

	code := query.Get("code")
	if code == "" {
		_ = f.advance(PhaseErrored)
		h.renderError(w, "Missing authorization code")
		return
	}

	sid, err := h.cookies.EnsureSessionID(w, r)
	if err != nil {
		_ = f.advance(PhaseErrored)
		logger.Error("failed to establish session cookie", zap.Error(err))
		h.renderError(w, "Authentication failed")
		return
	}

	// The marker is set before the exchange call is issued; a second
	// invocation racing this one must not submit the single-use code again.
	if !h.codes.MarkProcessing(code) {
		logger.Info("authorization code already being processed, skipping")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := f.advance(PhaseExchanging); err != nil {
		h.fail(w, f, code, err, "Authentication failed")
		return
	}
	tokens, err := h.provider.Exchange(r.Context(), code, h.cfg.Provider.RedirectURL)
	if err != nil {
		h.fail(w, f, code, err, exchangeMessage(err))
		return
	}
	if err := h.provider.VerifyIDToken(r.Context(), tokens.IDToken); err != nil {
		h.fail(w, f, code, err, "Authentication failed")
		return
	}

	if err := f.advance(PhaseResolvingProfile); err != nil {
		h.fail(w, f, code, err, "Authentication failed")
		return
	}
	user, err := h.resolver.Resolve(r.Context(), tokens.AccessToken)
	if err != nil {
		// A structured business rejection (such as a deactivated
		// organization) is shown verbatim, not as a protocol failure.
		var rejection *profile.BusinessRejection
		if errors.As(err, &rejection) {
			h.fail(w, f, code, err, rejection.Error())
			return
		}
		h.fail(w, f, code, err, "Authentication failed")
		return
	}

	if err := f.advance(PhaseCommitting); err != nil {
		h.fail(w, f, code, err, "Authentication failed")
		return
	}
	snap := &session.Snapshot{Tokens: tokens, Profile: user}
	if err := h.store.Put(r.Context(), sid, snap); err != nil {
		h.fail(w, f, code, err, "Authentication failed")
		return
	}
	h.cookies.SetMirror(w, tokens.AccessToken)

	if err := f.advance(PhaseRedirecting); err != nil {
		h.fail(w, f, code, err, "Authentication failed")
		return
	}
	// The location captured at login time comes back through the state
	// parameter and wins over the role landing, provided it stays in-app.
	landing := h.router.Landing(user.Role)
	if dest := safeReturnTo(query.Get("state")); dest != "" {
		landing = dest
	}
	logger.Info("session committed",
		zap.String("user_id", user.ID),
		zap.String("role", user.Role),
		zap.String("landing", landing),
	)
	http.Redirect(w, r, landing, http.StatusFound)
}

// safeReturnTo accepts only relative in-app paths as a post-login
// destination. Absolute and protocol-relative URLs are discarded, the
// root falls back to the role landing.
func safeReturnTo(state string) string {
	if state == "" || state == "/" {
		return ""
	}
	if !strings.HasPrefix(state, "/") ||
		strings.HasPrefix(state, "//") || strings.HasPrefix(state, "/\\") {
		return ""
	}
	return state
}

// HandleLogout destroys the session and hands the browser to the
// provider's end-session endpoint.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	idTokenHint := ""
	if sid, ok := h.cookies.SessionID(r); ok {
		if snap, err := h.store.Get(r.Context(), sid); err == nil && snap.Tokens != nil {
			idTokenHint = snap.Tokens.IDToken
		}
		if err := h.store.Clear(r.Context(), sid); err != nil {
			logger.Error("failed to clear session", zap.Error(err))
		}
	}
	h.cookies.Clear(w, r)
	http.Redirect(w, r, h.provider.EndSessionURL(idTokenHint), http.StatusFound)
}

// fail releases the marker so the user can retry with a fresh code, then
// renders the error page.
func (h *Handler) fail(w http.ResponseWriter, f *flow, code string, err error, message string) {
	_ = f.advance(PhaseErrored)
	h.codes.Release(code)
	logger.Error("callback failed", zap.Error(err))
	h.renderError(w, message)
}

func (h *Handler) renderError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	data := struct {
		Message  string
		Delay    int
		LoginURL string
	}{
		Message:  message,
		Delay:    int(h.cfg.Session.ErrorRedirectDelay.Seconds()),
		LoginURL: h.cfg.Routes.Login,
	}
	if err := errorPage.Execute(w, data); err != nil {
		logger.Error("failed to render error page", zap.Error(err))
	}
}

// exchangeMessage picks the user-facing message for an exchange failure,
// preferring the provider's own description.
func exchangeMessage(err error) string {
	var exchangeErr *oidc.ExchangeError
	if errors.As(err, &exchangeErr) && exchangeErr.Body != "" {
		return exchangeErr.Body
	}
	return "Authentication failed"
}
