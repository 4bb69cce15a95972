// Package server assembles the gateway's HTTP surface: the auth flow
// endpoints, the session state endpoint and the API forwarder that runs
// every backend request through the interceptor chain.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/auditup/authgate/internal/callback"
	"github.com/auditup/authgate/internal/config"
	"github.com/auditup/authgate/internal/logger"
	"github.com/auditup/authgate/internal/manager"
	"github.com/auditup/authgate/internal/session"
	"github.com/auditup/authgate/internal/transport"
	"github.com/auditup/authgate/internal/utils"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// shutdownTimeout is the maximum time to wait for server shutdown
	shutdownTimeout = 5 * time.Second

	// refreshMargin is subtracted from the access token lifetime when
	// advising the front end on its next refresh.
	refreshMargin = time.Minute
)

// Server is the gateway HTTP server.
type Server struct {
	cfg      *config.Config
	callback *callback.Handler
	manager  *manager.Manager
	chain    *transport.Chain
	cookies  *session.CookieManager
	store    session.Store
	sink     *LoginRedirector

	httpServer *http.Server
}

// Params collects the server dependencies.
type Params struct {
	fx.In

	Config   *config.Config
	Callback *callback.Handler
	Manager  *manager.Manager
	Chain    *transport.Chain
	Cookies  *session.CookieManager
	Store    session.Store
	Sink     *LoginRedirector
}

// NewServer creates the gateway server.
func NewServer(params Params) *Server {
	s := &Server{
		cfg:      params.Config,
		callback: params.Callback,
		manager:  params.Manager,
		chain:    params.Chain,
		cookies:  params.Cookies,
		store:    params.Store,
		sink:     params.Sink,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", s.callback.HandleLogin)
	mux.HandleFunc("/auth/callback", s.callback.HandleCallback)
	mux.HandleFunc("/auth/logout", s.callback.HandleLogout)
	mux.HandleFunc("/auth/session", s.handleSessionState)
	mux.HandleFunc("/auth/session/stream", s.handleSessionStream)
	mux.HandleFunc("/auth/refresh", s.handleRefresh)
	mux.Handle(s.cfg.Backend.APIPrefix+"/", s.apiForwarder())

	handler := CORSWithOrigins(s.cfg.Server.AllowOrigins)(RequestLogging(mux))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler: handler,
	}
	return s
}

// Start begins serving. It returns once the listener is running.
func (s *Server) Start() {
	go func() {
		logger.Info("gateway listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// handleSessionState reports the reactive session view, plus any queued
// login redirect the supervisor decided on since the last poll.
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sid, ok := s.cookies.SessionID(r)
	if !ok {
		utils.WriteJSON(w, manager.State{})
		return
	}

	type stateResponse struct {
		manager.State
		Redirect string `json:"redirect,omitempty"`
		// RefreshIn advises the front end how many seconds to wait before
		// calling /auth/refresh.
		RefreshIn int64 `json:"refreshIn,omitempty"`
	}
	resp := stateResponse{State: s.manager.State(r.Context(), sid)}
	if returnTo, pending := s.sink.Consume(sid); pending {
		resp.Redirect = s.loginURL(returnTo)
		resp.State = manager.State{}
	}
	if resp.Authenticated {
		if snap, err := s.store.Get(r.Context(), sid); err == nil && snap.Tokens != nil {
			if lead := manager.RefreshLead(snap.Tokens.AccessToken, refreshMargin); lead > 0 {
				resp.RefreshIn = int64(lead.Seconds())
			}
		}
	}
	utils.WriteJSON(w, resp)
}

// handleSessionStream pushes state changes to the front end as
// server-sent events, starting with the current state.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sid, ok := s.cookies.SessionID(r)
	if !ok {
		utils.WriteError(w, "no_session", "No active session", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	states, cancel := s.manager.Watch(sid)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	write := func(state manager.State) bool {
		data, err := json.Marshal(state)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !write(s.manager.State(r.Context(), sid)) {
		return
	}
	for {
		select {
		case state, open := <-states:
			if !open {
				return
			}
			if !write(state) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleRefresh performs a refresh for the request's session. On success
// the mirror cookie is renewed; on failure the session is already torn
// down and the client is told where to go.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sid, ok := s.cookies.SessionID(r)
	if !ok {
		utils.WriteError(w, "no_session", "No active session", http.StatusUnauthorized)
		return
	}

	if err := s.manager.Refresh(r.Context(), sid); err != nil {
		s.cookies.Clear(w, r)
		utils.WriteError(w, "refresh_failed", "Session expired, please sign in again", http.StatusUnauthorized)
		return
	}

	if snap, err := s.store.Get(r.Context(), sid); err == nil && snap.Tokens != nil {
		s.cookies.SetMirror(w, snap.Tokens.AccessToken)
	}
	utils.WriteJSON(w, s.manager.State(r.Context(), sid))
}

// apiForwarder proxies backend API calls through the interceptor chain,
// binding the session id and originating location to each request.
func (s *Server) apiForwarder() http.Handler {
	target, err := url.Parse(s.cfg.Backend.BaseURL)
	if err != nil {
		logger.Fatal("invalid backend base URL", zap.Error(err))
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host
			pr.SetXForwarded()
		},
		Transport:      s.chain.Client.Transport,
		ModifyResponse: s.redirectOnTeardown,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("backend request failed", zap.String("path", r.URL.Path), zap.Error(err))
			utils.WriteError(w, "bad_gateway", "Backend unavailable", http.StatusBadGateway)
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if sid, ok := s.cookies.SessionID(r); ok {
			ctx = transport.WithSessionID(ctx, sid)
		}
		returnTo := r.Header.Get("X-Return-To")
		if returnTo == "" {
			returnTo = r.URL.Path
		}
		ctx = transport.WithReturnTo(ctx, returnTo)
		proxy.ServeHTTP(w, r.WithContext(ctx))
	})
}

// redirectOnTeardown converts a 401 whose session the bearer transport
// has just torn down into a navigation to the login entry point.
func (s *Server) redirectOnTeardown(resp *http.Response) error {
	if resp.StatusCode != http.StatusUnauthorized || resp.Request == nil {
		return nil
	}
	sid, ok := transport.SessionIDFrom(resp.Request.Context())
	if !ok {
		return nil
	}
	returnTo, pending := s.sink.Consume(sid)
	if !pending {
		return nil
	}

	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	resp.StatusCode = http.StatusFound
	resp.Status = http.StatusText(http.StatusFound)
	resp.Header = http.Header{}
	resp.Header.Set("Location", s.loginURL(returnTo))
	// The session is gone; the readable token mirror must not outlive it.
	clearMirror := &http.Cookie{
		Name:   s.cfg.Session.MirrorCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}
	resp.Header.Add("Set-Cookie", clearMirror.String())
	resp.Body = io.NopCloser(strings.NewReader(""))
	resp.ContentLength = 0
	return nil
}

func (s *Server) loginURL(returnTo string) string {
	login := s.cfg.Routes.Login
	if returnTo == "" {
		return login
	}
	return login + "?return_to=" + url.QueryEscape(returnTo)
}
