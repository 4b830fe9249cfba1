package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"gdpr-guardian/internal/domain"
)

// AdminRole is the token role that may manage subject records.
const AdminRole = "dpo"

// APIKeys maps the SHA-256 hex digest of an operator API key to the
// operator's name.
type APIKeys map[string]string

// NewAPIKeys builds the lookup from "name=key" pairs.
func NewAPIKeys(pairs []string) APIKeys {
	keys := APIKeys{}
	for _, p := range pairs {
		name, key, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || name == "" || key == "" {
			continue
		}
		keys[HashKey(key)] = name
	}
	return keys
}

// HashKey returns the hex SHA-256 digest of an API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (k APIKeys) lookup(key string) (string, bool) {
	digest := HashKey(key)
	for h, name := range k {
		if subtle.ConstantTimeCompare([]byte(h), []byte(digest)) == 1 {
			return name, true
		}
	}
	return "", false
}

// Authenticator tries a bearer token first, then an X-API-Key header, and
// stores the operator as a domain.ContextPrincipal. Requests with neither
// get 401.
func Authenticator(validator TokenValidator, keys APIKeys, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if auth := r.Header.Get("Authorization"); validator != nil && strings.HasPrefix(auth, "Bearer ") {
				claims, err := validator.Validate(ctx, strings.TrimPrefix(auth, "Bearer "))
				if err == nil && claims.Name() != "" {
					p := domain.ContextPrincipal{
						Name:    claims.Name(),
						IsAdmin: slices.Contains(claims.Roles, AdminRole),
						Type:    "user",
					}
					next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(ctx, p)))
					return
				}
				logger.Debug("bearer token rejected", "error", err, "request_id", RequestIDFromContext(ctx))
			}

			if key := r.Header.Get("X-API-Key"); key != "" {
				if name, ok := keys.lookup(key); ok {
					p := domain.ContextPrincipal{Name: name, IsAdmin: true, Type: "service_principal"}
					next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(ctx, p)))
					return
				}
			}

			writeJSONError(w, http.StatusUnauthorized, "unauthorized: provide a valid bearer token or API key")
		})
	}
}

// RequireAdmin rejects authenticated operators without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := domain.PrincipalFromContext(r.Context())
		if !ok || !p.IsAdmin {
			writeJSONError(w, http.StatusForbidden, "forbidden: requires the "+AdminRole+" role")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": msg,
	})
}
