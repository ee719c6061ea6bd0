package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opz-funnels/internal/common/errors"
)

func newIntrospectionServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realms/opz/protocol/openid-connect/token/introspect", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "opz-funnels", r.PostForm.Get("client_id"))
		assert.Equal(t, "access_token", r.PostForm.Get("token_type_hint"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		token     string
		wantErr   bool
		wantCode  errors.ErrorCode
		retryable bool
		wantSub   string
	}{
		{
			name:    "active token",
			status:  http.StatusOK,
			body:    `{"active":true,"sub":"svc-frontend","client_id":"opz-web"}`,
			token:   "abc",
			wantSub: "svc-frontend",
		},
		{
			name:     "inactive token",
			status:   http.StatusOK,
			body:     `{"active":false}`,
			token:    "abc",
			wantErr:  true,
			wantCode: errors.ErrCodeAuthentication,
		},
		{
			name:     "missing token",
			status:   http.StatusOK,
			body:     `{"active":true}`,
			token:    "",
			wantErr:  true,
			wantCode: errors.ErrCodeAuthentication,
		},
		{
			name:      "keycloak unavailable",
			status:    http.StatusServiceUnavailable,
			body:      `down`,
			token:     "abc",
			wantErr:   true,
			wantCode:  errors.ErrCodeExternalService,
			retryable: true,
		},
		{
			name:     "keycloak rejects client",
			status:   http.StatusUnauthorized,
			body:     `{"error":"invalid_client"}`,
			token:    "abc",
			wantErr:  true,
			wantCode: errors.ErrCodeExternalService,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newIntrospectionServer(t, tt.status, tt.body)
			client := NewKeycloakClient(srv.URL+"/", "opz", "opz-funnels", "secret")

			info, err := client.ValidateToken(context.Background(), tt.token)
			if tt.wantErr {
				require.Error(t, err)
				stdErr, ok := errors.As(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantCode, stdErr.Code)
				assert.Equal(t, tt.retryable, stdErr.Retryable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, info.Sub)
		})
	}
}
