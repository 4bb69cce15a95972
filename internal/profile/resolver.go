package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/auditup/authgate/internal/config"
	"github.com/auditup/authgate/internal/logger"
	"go.uber.org/zap"
)

// ErrProfileRejected indicates the backend refused to resolve a profile
// for a reason that is not a structured business rejection.
var ErrProfileRejected = errors.New("profile resolution rejected")

// BusinessRejection is a structured 403 from the backend, such as a
// deactivated organization. Its message is shown to the user verbatim; it
// does not necessarily mean the tokens are invalid.
type BusinessRejection struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *BusinessRejection) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// Resolver fetches the canonical user profile from the backend.
type Resolver struct {
	client *http.Client
	url    string
}

// NewResolver creates a Resolver against the configured backend profile
// endpoint.
func NewResolver(cfg *config.BackendConfig) *Resolver {
	return &Resolver{
		client: &http.Client{Timeout: 30 * time.Second},
		url:    cfg.BaseURL + cfg.ProfilePath,
	}
}

// Resolve fetches the profile using the access token as bearer
// credential. A 403 with a structured body is returned as a
// *BusinessRejection; any other non-2xx maps to ErrProfileRejected.
func (r *Resolver) Resolve(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("failed to close profile response body", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var user User
		if err := json.Unmarshal(body, &user); err != nil {
			return nil, fmt.Errorf("failed to decode profile response: %w", err)
		}
		return &user, nil

	case resp.StatusCode == http.StatusForbidden:
		var rejection BusinessRejection
		if err := json.Unmarshal(body, &rejection); err == nil && rejection.Code != "" {
			logger.Warn("profile resolution rejected by backend",
				zap.String("code", rejection.Code),
				zap.String("message", rejection.Message),
			)
			return nil, &rejection
		}
		return nil, fmt.Errorf("%w: status %d", ErrProfileRejected, resp.StatusCode)

	default:
		return nil, fmt.Errorf("%w: status %d", ErrProfileRejected, resp.StatusCode)
	}
}
