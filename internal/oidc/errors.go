package oidc

import (
	"errors"
	"fmt"
)

var (
	// ErrExchangeFailed indicates the provider rejected the authorization
	// code (expired, already used, redirect URI mismatch, revoked client).
	ErrExchangeFailed = errors.New("authorization code exchange failed")

	// ErrRefreshFailed indicates the provider rejected the refresh token.
	// Callers treat this as fatal and fall back to full logout.
	ErrRefreshFailed = errors.New("refresh token exchange failed")
)

// ExchangeError carries the provider's response alongside the failure
// class, so the callback page can show the provider's own description.
type ExchangeError struct {
	Kind       error // ErrExchangeFailed or ErrRefreshFailed
	StatusCode int
	Body       string
	cause      error
}

func (e *ExchangeError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%v: status %d: %s", e.Kind, e.StatusCode, e.Body)
	}
	if e.cause != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.cause)
	}
	return e.Kind.Error()
}

func (e *ExchangeError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Kind, e.cause}
	}
	return []error{e.Kind}
}
