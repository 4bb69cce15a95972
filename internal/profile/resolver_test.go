package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/auditup/authgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantUser  *User
		wantErr   error
		wantMsg   string
		businessy bool
	}{
		{
			name:   "canonical profile",
			status: http.StatusOK,
			body: `{"id":"u1","email":"rssi@corp.example","firstName":"Ada","lastName":"Martin",
				"role":"RSSI","organizationId":"o1","organizationName":"Corp","tenantId":"t1"}`,
			wantUser: &User{
				ID: "u1", Email: "rssi@corp.example", FirstName: "Ada", LastName: "Martin",
				Role: "RSSI", OrganizationID: "o1", OrganizationName: "Corp", TenantID: "t1",
			},
		},
		{
			name:      "business rejection is surfaced verbatim",
			status:    http.StatusForbidden,
			body:      `{"error":"ORGANIZATION_INACTIVE","message":"Your organization has been deactivated"}`,
			businessy: true,
			wantMsg:   "Your organization has been deactivated",
		},
		{
			name:    "unstructured 403 is a generic rejection",
			status:  http.StatusForbidden,
			body:    `forbidden`,
			wantErr: ErrProfileRejected,
		},
		{
			name:    "server error is a generic rejection",
			status:  http.StatusInternalServerError,
			body:    `{"oops":true}`,
			wantErr: ErrProfileRejected,
		},
		{
			name:    "unauthorized is a generic rejection",
			status:  http.StatusUnauthorized,
			body:    ``,
			wantErr: ErrProfileRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resolver := NewResolver(&config.BackendConfig{
				BaseURL:     srv.URL,
				ProfilePath: "/api/users/me",
			})

			user, err := resolver.Resolve(context.Background(), "A1")
			assert.Equal(t, "Bearer A1", gotAuth)

			switch {
			case tt.wantUser != nil:
				require.NoError(t, err)
				assert.Equal(t, tt.wantUser, user)
			case tt.businessy:
				var rejection *BusinessRejection
				require.ErrorAs(t, err, &rejection)
				assert.Equal(t, tt.wantMsg, rejection.Error())
				assert.NotErrorIs(t, err, ErrProfileRejected)
			default:
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestResolver_NetworkFailure(t *testing.T) {
	resolver := NewResolver(&config.BackendConfig{
		BaseURL:     "http://127.0.0.1:1",
		ProfilePath: "/api/users/me",
	})

	_, err := resolver.Resolve(context.Background(), "A1")
	assert.Error(t, err)
}
