package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/auditup/authgate/internal/config"
	"github.com/auditup/authgate/internal/logger"
	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// KeycloakProvider talks to a Keycloak realm through its published OIDC
// discovery document.
type KeycloakProvider struct {
	cfg          *config.ProviderConfig
	oauth2Config *oauth2.Config
	verifier     *gooidc.IDTokenVerifier
	endSession   string
	limiter      *rate.Limiter
}

// NewKeycloakProvider discovers the realm endpoints and prepares the
// oauth2 client configuration.
func NewKeycloakProvider(cfg *config.ProviderConfig) (*KeycloakProvider, error) {
	provider, err := gooidc.NewProvider(context.Background(), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		logger.Warn("failed to read provider discovery extras", zap.Error(err))
	}
	endSession := extra.EndSessionEndpoint
	if endSession == "" {
		endSession = cfg.IssuerURL + "/protocol/openid-connect/logout"
	}

	limit := rate.Limit(cfg.TokenEndpointRPS)
	if cfg.TokenEndpointRPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.TokenEndpointBurst
	if burst <= 0 {
		burst = 1
	}

	oauth2Cfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	}

	return &KeycloakProvider{
		cfg:          cfg,
		oauth2Config: oauth2Cfg,
		verifier:     provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		endSession:   endSession,
		limiter:      rate.NewLimiter(limit, burst),
	}, nil
}

func (p *KeycloakProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

func (p *KeycloakProvider) Exchange(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	if !p.limiter.Allow() {
		return nil, &ExchangeError{Kind: ErrExchangeFailed, cause: errors.New("token endpoint rate limit exceeded")}
	}

	cfg := *p.oauth2Config // copy
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, wrapTokenError(ErrExchangeFailed, err)
	}
	return tokenSetFrom(token, ""), nil
}

func (p *KeycloakProvider) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if !p.limiter.Allow() {
		return nil, &ExchangeError{Kind: ErrRefreshFailed, cause: errors.New("token endpoint rate limit exceeded")}
	}

	src := p.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, wrapTokenError(ErrRefreshFailed, err)
	}
	return tokenSetFrom(token, refreshToken), nil
}

func (p *KeycloakProvider) VerifyIDToken(ctx context.Context, raw string) error {
	if _, err := p.verifier.Verify(ctx, raw); err != nil {
		return fmt.Errorf("failed to verify ID token: %w", err)
	}
	return nil
}

func (p *KeycloakProvider) EndSessionURL(idTokenHint string) string {
	u, err := url.Parse(p.endSession)
	if err != nil {
		return p.endSession
	}
	q := u.Query()
	q.Set("client_id", p.cfg.ClientID)
	if p.cfg.PostLogoutURL != "" {
		q.Set("post_logout_redirect_uri", p.cfg.PostLogoutURL)
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *KeycloakProvider) TokenEndpoint() string {
	return p.oauth2Config.Endpoint.TokenURL
}

// tokenSetFrom builds a TokenSet from an oauth2 token response. When the
// provider does not rotate the refresh token the previous one is carried
// forward so that the stored set stays complete.
func tokenSetFrom(token *oauth2.Token, previousRefresh string) *TokenSet {
	refresh := token.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	idToken, _ := token.Extra("id_token").(string)

	expiresIn := int64(0)
	if !token.Expiry.IsZero() {
		expiresIn = int64(time.Until(token.Expiry).Seconds())
	}

	return &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: refresh,
		IDToken:      idToken,
		ExpiresIn:    expiresIn,
		Expiry:       token.Expiry,
	}
}

// wrapTokenError preserves the provider's status and body so callers can
// surface the provider's own error description.
func wrapTokenError(kind error, err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		status := 0
		if retrieve.Response != nil {
			status = retrieve.Response.StatusCode
		}
		return &ExchangeError{
			Kind:       kind,
			StatusCode: status,
			Body:       string(retrieve.Body),
			cause:      err,
		}
	}
	return &ExchangeError{Kind: kind, cause: err}
}
