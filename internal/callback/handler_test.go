package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/auditup/authgate/internal/config"
	"github.com/auditup/authgate/internal/oidc"
	"github.com/auditup/authgate/internal/profile"
	"github.com/auditup/authgate/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mu            sync.Mutex
	exchangeCalls int
	redirectURIs  []string
	exchangeErr   error
	verifyErr     error
	tokens        *oidc.TokenSet
}

func (m *mockProvider) AuthCodeURL(state string) string {
	return "https://idp.example/auth?state=" + url.QueryEscape(state)
}

func (m *mockProvider) Exchange(_ context.Context, code, redirectURI string) (*oidc.TokenSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchangeCalls++
	m.redirectURIs = append(m.redirectURIs, redirectURI)
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	return m.tokens, nil
}

func (m *mockProvider) Refresh(context.Context, string) (*oidc.TokenSet, error) {
	return nil, oidc.ErrRefreshFailed
}

func (m *mockProvider) VerifyIDToken(context.Context, string) error {
	return m.verifyErr
}

func (m *mockProvider) EndSessionURL(idTokenHint string) string {
	return "https://idp.example/logout?id_token_hint=" + url.QueryEscape(idTokenHint)
}

func (m *mockProvider) TokenEndpoint() string {
	return "https://idp.example/token"
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchangeCalls
}

// recordingStore keeps snapshots in a plain map so tests can inspect
// exactly what was committed.
type recordingStore struct {
	mu    sync.Mutex
	snaps map[string]*session.Snapshot
}

func newRecordingStore() *recordingStore {
	return &recordingStore{snaps: make(map[string]*session.Snapshot)}
}

func (s *recordingStore) Get(_ context.Context, sid string) (*session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[sid]
	if !ok {
		return nil, session.ErrNotFound
	}
	return snap, nil
}

func (s *recordingStore) Put(_ context.Context, sid string, snap *session.Snapshot) error {
	if !snap.Complete() {
		return session.ErrIncompleteSnapshot
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[sid] = snap
	return nil
}

func (s *recordingStore) Clear(_ context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, sid)
	return nil
}

func (s *recordingStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

type handlerFixture struct {
	handler  *Handler
	provider *mockProvider
	store    *recordingStore
	backend  *httptest.Server
}

// newHandlerFixture wires a Handler against a mock provider and a
// backend profile endpoint answering with the given status and body.
func newHandlerFixture(t *testing.T, profileStatus int, profileBody string) *handlerFixture {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/me" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(profileStatus)
		_, _ = w.Write([]byte(profileBody))
	}))
	t.Cleanup(backend.Close)

	cfg := &config.Config{
		Provider: config.ProviderConfig{
			RedirectURL: "https://app.example/auth/callback",
		},
		Backend: config.BackendConfig{
			BaseURL:     backend.URL,
			APIPrefix:   "/api",
			ProfilePath: "/api/users/me",
		},
		Session: config.SessionConfig{
			CookieName:         "authgate_session",
			CookieSecret:       "test-secret",
			MirrorCookie:       "authgate_access_token",
			TTL:                time.Hour,
			ErrorRedirectDelay: 3 * time.Second,
		},
		Routes: config.RoutesConfig{Login: "/login"},
	}

	router, err := profile.NewRouter(&cfg.Routes)
	require.NoError(t, err)

	prov := &mockProvider{
		tokens: &oidc.TokenSet{
			AccessToken:  "A1",
			RefreshToken: "R1",
			IDToken:      "I1",
			ExpiresIn:    300,
			Expiry:       time.Now().Add(5 * time.Minute),
		},
	}
	store := newRecordingStore()

	return &handlerFixture{
		handler: NewHandler(
			prov,
			profile.NewResolver(&cfg.Backend),
			router,
			store,
			session.NewCodes(time.Minute),
			session.NewCookieManager(&cfg.Session),
			cfg,
		),
		provider: prov,
		store:    store,
		backend:  backend,
	}
}

const auditorProfile = `{
	"id": "u1",
	"email": "lead@audit.example",
	"firstName": "Nora",
	"lastName": "Vane",
	"role": "RSSI",
	"organizationId": "o1",
	"organizationName": "Acme",
	"tenantId": "t1"
}`

func callback(f *handlerFixture, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.HandleCallback(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func mirrorCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "authgate_access_token" {
			return c
		}
	}
	return nil
}

func TestHandleCallback_HappyPath(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)

	rec := callback(f, "/auth/callback?code=c1&state=%2F")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/client/dashboard", rec.Header().Get("Location"))
	assert.Equal(t, 1, f.provider.calls())
	assert.Equal(t, []string{"https://app.example/auth/callback"}, f.provider.redirectURIs)

	require.Equal(t, 1, f.store.len())
	for _, snap := range f.store.snaps {
		assert.Equal(t, "A1", snap.Tokens.AccessToken)
		assert.Equal(t, "R1", snap.Tokens.RefreshToken)
		assert.Equal(t, "u1", snap.Profile.ID)
		assert.Equal(t, "RSSI", snap.Profile.Role)
	}

	mirror := mirrorCookie(t, rec)
	require.NotNil(t, mirror)
	assert.Equal(t, "A1", mirror.Value)
	assert.False(t, mirror.HttpOnly)
}

func TestHandleCallback_ReturnsToCapturedLocation(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)

	// The location captured at login time travels through state and wins
	// over the role landing.
	rec := callback(f, "/auth/callback?code=c1&state=%2Faudits%2F42")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/audits/42", rec.Header().Get("Location"))
}

func TestHandleCallback_DiscardsUnsafeState(t *testing.T) {
	tests := []struct {
		name  string
		state string
	}{
		{"absolute url", "https%3A%2F%2Fevil.example%2Fphish"},
		{"protocol relative", "%2F%2Fevil.example"},
		{"backslash escape", "%2F%5Cevil.example"},
		{"root", "%2F"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, http.StatusOK, auditorProfile)
			rec := callback(f, "/auth/callback?code=c1&state="+tt.state)

			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/client/dashboard", rec.Header().Get("Location"))
		})
	}
}

func TestHandleCallback_DuplicateCodeExchangesOnce(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)

	first := callback(f, "/auth/callback?code=c-dup")
	second := callback(f, "/auth/callback?code=c-dup")

	assert.Equal(t, http.StatusFound, first.Code)
	assert.Equal(t, http.StatusNoContent, second.Code)
	assert.Equal(t, 1, f.provider.calls())
}

func TestHandleCallback_ProviderErrorParam(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)

	rec := callback(f, "/auth/callback?error=access_denied&error_description=User+cancelled+the+login")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "User cancelled the login")
	assert.Contains(t, rec.Body.String(), "url=/login")
	assert.Equal(t, 0, f.provider.calls())
	assert.Equal(t, 0, f.store.len())
}

func TestHandleCallback_MissingCode(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)

	rec := callback(f, "/auth/callback")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing authorization code")
	assert.Equal(t, 0, f.provider.calls())
}

func TestHandleCallback_ExchangeFailureShowsProviderMessage(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)
	f.provider.exchangeErr = &oidc.ExchangeError{
		Kind:       oidc.ErrExchangeFailed,
		StatusCode: http.StatusBadRequest,
		Body:       `{"error":"invalid_grant","error_description":"Code not valid"}`,
	}

	rec := callback(f, "/auth/callback?code=c-bad")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_grant")
	assert.Equal(t, 0, f.store.len())
	assert.Nil(t, mirrorCookie(t, rec))

	// The marker was released, so a retry with the same code reaches the
	// provider again instead of being swallowed as a duplicate.
	callback(f, "/auth/callback?code=c-bad")
	assert.Equal(t, 2, f.provider.calls())
}

func TestHandleCallback_IDTokenVerificationFailure(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)
	f.provider.verifyErr = assert.AnError

	rec := callback(f, "/auth/callback?code=c1")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authentication failed")
	assert.Equal(t, 0, f.store.len())
}

func TestHandleCallback_BusinessRejectionShownVerbatim(t *testing.T) {
	f := newHandlerFixture(t, http.StatusForbidden,
		`{"error":"ORGANIZATION_DEACTIVATED","message":"Your organization has been deactivated."}`)

	rec := callback(f, "/auth/callback?code=c1")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your organization has been deactivated.")
	assert.Equal(t, 0, f.store.len())
	assert.Nil(t, mirrorCookie(t, rec))
}

func TestHandleCallback_ProfileFailureCommitsNothing(t *testing.T) {
	f := newHandlerFixture(t, http.StatusInternalServerError, `{"error":"boom"}`)

	rec := callback(f, "/auth/callback?code=c1")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authentication failed")
	assert.Equal(t, 0, f.store.len())
	assert.Nil(t, mirrorCookie(t, rec))

	// Tokens were obtained but never committed; the marker release lets a
	// fresh attempt run the flow end to end.
	callback(f, "/auth/callback?code=c1")
	assert.Equal(t, 2, f.provider.calls())
}

func TestHandleLogin_RedirectsToAuthorizationEndpoint(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)

	rec := httptest.NewRecorder()
	f.handler.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/login?return_to=%2Faudits%2F7", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.example", loc.Host)
	assert.Equal(t, "/audits/7", loc.Query().Get("state"))

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "authgate_session" {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	assert.True(t, sessionCookie.HttpOnly)
}

func TestHandleLogin_DefaultsReturnToRoot(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)

	rec := httptest.NewRecorder()
	f.handler.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/", loc.Query().Get("state"))
}

func TestHandleLogin_RejectsNonGet(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)

	rec := httptest.NewRecorder()
	f.handler.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleLogout_WithSession(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)

	// Establish a real session first so logout has a cookie and a
	// snapshot to tear down.
	loginRec := callback(f, "/auth/callback?code=c1")
	require.Equal(t, http.StatusFound, loginRec.Code)
	require.Equal(t, 1, f.store.len())

	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	for _, c := range loginRec.Result().Cookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.HandleLogout(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/logout", loc.Path)
	assert.Equal(t, "I1", loc.Query().Get("id_token_hint"))
	assert.Equal(t, 0, f.store.len())

	mirror := mirrorCookie(t, rec)
	require.NotNil(t, mirror)
	assert.Equal(t, -1, mirror.MaxAge)
}

func TestHandleLogout_WithoutSession(t *testing.T) {
	f := newHandlerFixture(t, http.StatusOK, auditorProfile)

	rec := httptest.NewRecorder()
	f.handler.HandleLogout(rec, httptest.NewRequest(http.MethodGet, "/auth/logout", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Empty(t, loc.Query().Get("id_token_hint"))
}
