package session

import (
	"net/http"

	"github.com/auditup/authgate/internal/config"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const sidKey = "sid"

// CookieManager binds a browser to its server-side session. The session
// id travels in an authenticated cookie; the access token is additionally
// mirrored in a readable cookie for server-side route evaluation by the
// front end.
type CookieManager struct {
	store *sessions.CookieStore
	cfg   *config.SessionConfig
}

// NewCookieManager creates a CookieManager from the session configuration.
func NewCookieManager(cfg *config.SessionConfig) *CookieManager {
	store := sessions.NewCookieStore([]byte(cfg.CookieSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.TTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &CookieManager{store: store, cfg: cfg}
}

// SessionID returns the session id carried by the request, if any.
func (m *CookieManager) SessionID(r *http.Request) (string, bool) {
	sess, err := m.store.Get(r, m.cfg.CookieName)
	if err != nil {
		return "", false
	}
	sid, ok := sess.Values[sidKey].(string)
	return sid, ok && sid != ""
}

// EnsureSessionID returns the request's session id, issuing a fresh one
// when the browser has none yet.
func (m *CookieManager) EnsureSessionID(w http.ResponseWriter, r *http.Request) (string, error) {
	sess, _ := m.store.Get(r, m.cfg.CookieName)
	if sid, ok := sess.Values[sidKey].(string); ok && sid != "" {
		return sid, nil
	}

	sid := uuid.NewString()
	sess.Values[sidKey] = sid
	if err := sess.Save(r, w); err != nil {
		return "", err
	}
	return sid, nil
}

// SetMirror writes the readable access-token mirror cookie.
func (m *CookieManager) SetMirror(w http.ResponseWriter, accessToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.MirrorCookie,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(m.cfg.TTL.Seconds()),
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear drops both the session cookie and the mirror cookie.
func (m *CookieManager) Clear(w http.ResponseWriter, r *http.Request) {
	sess, _ := m.store.Get(r, m.cfg.CookieName)
	sess.Options.MaxAge = -1
	delete(sess.Values, sidKey)
	_ = sess.Save(r, w)

	http.SetCookie(w, &http.Cookie{
		Name:   m.cfg.MirrorCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
