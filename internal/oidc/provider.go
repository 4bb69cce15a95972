package oidc

import (
	"context"
	"time"
)

// TokenSet is one complete set of session credentials. A set is replaced
// wholesale on every refresh; callers never update individual tokens.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token"`
	ExpiresIn    int64     `json:"expires_in"`
	Expiry       time.Time `json:"expiry"`
}

// Valid reports whether the set is complete. A partial set is never
// stored; either all three tokens are present or the session is torn down.
func (t *TokenSet) Valid() bool {
	return t != nil && t.AccessToken != "" && t.RefreshToken != "" && t.IDToken != ""
}

// Provider defines the operations the gateway needs from the identity
// provider. Implementations perform a single attempt per call; retrying
// is never the provider client's business.
type Provider interface {
	// AuthCodeURL returns the authorization endpoint URL the browser is
	// sent to; state carries the post-login return location.
	AuthCodeURL(state string) string

	// Exchange trades a single-use authorization code for a token set.
	// redirectURI must match the one used during authorization byte for
	// byte, per the OIDC spec.
	Exchange(ctx context.Context, code, redirectURI string) (*TokenSet, error)

	// Refresh trades a refresh token for a fresh token set. Providers
	// commonly rotate the refresh token; callers must persist the whole
	// returned set, not just the access token.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// VerifyIDToken validates the signature and standard claims of a raw
	// ID token against the provider's keys.
	VerifyIDToken(ctx context.Context, raw string) error

	// EndSessionURL returns the provider logout URL, with an optional ID
	// token hint.
	EndSessionURL(idTokenHint string) string

	// TokenEndpoint returns the provider's token endpoint URL. The
	// supervisor uses it to recognize in-flight refresh traffic.
	TokenEndpoint() string
}
