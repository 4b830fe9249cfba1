package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gdpr-guardian/internal/domain"
)

type stubValidator struct {
	claims *Claims
	err    error
}

func (v *stubValidator) Validate(context.Context, string) (*Claims, error) {
	return v.claims, v.err
}

// nextHandler records the principal it was called with.
func nextHandler() (http.Handler, func() (domain.ContextPrincipal, bool)) {
	var (
		cp    domain.ContextPrincipal
		found bool
	)
	h := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		cp, found = domain.PrincipalFromContext(r.Context())
	})
	return h, func() (domain.ContextPrincipal, bool) { return cp, found }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthenticator(t *testing.T) {
	keys := NewAPIKeys([]string{"ops-bot=s3cret", "malformed", "=nokey"})

	tests := []struct {
		name      string
		validator TokenValidator
		header    map[string]string
		wantCode  int
		wantName  string
		wantAdmin bool
		wantType  string
	}{
		{
			name:      "bearer token",
			validator: &stubValidator{claims: &Claims{Subject: "u-1", Email: "dpo@example.com", Roles: []string{AdminRole}}},
			header:    map[string]string{"Authorization": "Bearer tok"},
			wantCode:  http.StatusOK,
			wantName:  "dpo@example.com",
			wantAdmin: true,
			wantType:  "user",
		},
		{
			name:      "bearer token without admin role",
			validator: &stubValidator{claims: &Claims{Subject: "reviewer"}},
			header:    map[string]string{"Authorization": "Bearer tok"},
			wantCode:  http.StatusOK,
			wantName:  "reviewer",
			wantType:  "user",
		},
		{
			name:      "invalid bearer falls back to api key",
			validator: &stubValidator{err: errors.New("bad token")},
			header:    map[string]string{"Authorization": "Bearer tok", "X-API-Key": "s3cret"},
			wantCode:  http.StatusOK,
			wantName:  "ops-bot",
			wantAdmin: true,
			wantType:  "service_principal",
		},
		{
			name:     "unknown api key",
			header:   map[string]string{"X-API-Key": "nope"},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "no credentials",
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, got := nextHandler()
			h := Authenticator(tc.validator, keys, discardLogger())(next)

			req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tc.wantCode, rec.Code)
			p, found := got()
			if tc.wantCode != http.StatusOK {
				assert.False(t, found)
				assert.Contains(t, rec.Body.String(), "unauthorized")
				return
			}
			require.True(t, found)
			assert.Equal(t, tc.wantName, p.Name)
			assert.Equal(t, tc.wantAdmin, p.IsAdmin)
			assert.Equal(t, tc.wantType, p.Type)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequireAdmin(ok)

	tests := []struct {
		name      string
		principal *domain.ContextPrincipal
		wantCode  int
	}{
		{"admin", &domain.ContextPrincipal{Name: "dpo", IsAdmin: true}, http.StatusNoContent},
		{"reviewer", &domain.ContextPrincipal{Name: "rev"}, http.StatusForbidden},
		{"anonymous", nil, http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/v1/subjects/x/legal-hold", nil)
			if tc.principal != nil {
				req = req.WithContext(domain.WithPrincipal(req.Context(), *tc.principal))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.wantCode, rec.Code)
		})
	}
}
