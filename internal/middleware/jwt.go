// Package middleware provides HTTP middleware for operator authentication,
// rate limiting and request correlation.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the parsed claims of a validated operator token.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string
	Email    string
	Roles    []string
}

// Name is the operator identity recorded on audit events: email when
// present, otherwise the subject.
func (c *Claims) Name() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// OIDCValidator validates tokens against an OIDC provider's JWKS.
type OIDCValidator struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCValidator discovers the provider at issuerURL. Tokens must carry
// audience in their aud claim.
func NewOIDCValidator(ctx context.Context, issuerURL, audience string) (*OIDCValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}
	cfg := &oidc.Config{ClientID: audience, SkipClientIDCheck: audience == ""}
	return &OIDCValidator{verifier: provider.Verifier(cfg)}, nil
}

// Validate verifies the token signature, issuer, audience and expiry.
func (v *OIDCValidator) Validate(ctx context.Context, token string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	c := claimsFromMap(raw)
	c.Subject = idToken.Subject
	c.Issuer = idToken.Issuer
	c.Audience = idToken.Audience
	return c, nil
}

// HS256Validator validates tokens signed with a shared secret. Intended for
// local development and the CLI.
type HS256Validator struct {
	secret   []byte
	audience string
}

// NewHS256Validator creates a shared-secret validator. A non-empty audience
// is required in every token.
func NewHS256Validator(secret, audience string) (*HS256Validator, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret), audience: audience}, nil
}

// Validate verifies an HS256 token and extracts claims.
func (v *HS256Validator) Validate(_ context.Context, token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	tok, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}
	c := claimsFromMap(raw)
	c.Subject, _ = raw["sub"].(string)
	c.Issuer, _ = raw["iss"].(string)
	if aud, err := raw.GetAudience(); err == nil {
		c.Audience = aud
	}
	return c, nil
}

func claimsFromMap(raw map[string]any) *Claims {
	c := &Claims{}
	c.Email, _ = raw["email"].(string)
	switch roles := raw["roles"].(type) {
	case string:
		c.Roles = []string{roles}
	case []any:
		for _, r := range roles {
			if s, ok := r.(string); ok {
				c.Roles = append(c.Roles, s)
			}
		}
	}
	return c
}

// SignHS256 issues a shared-secret token for an operator.
func SignHS256(secret, subject, audience string, roles []string, issued time.Time, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{"sub": subject, "iat": issued.Unix(), "exp": issued.Add(ttl).Unix()}
	if audience != "" {
		claims["aud"] = audience
	}
	if len(roles) > 0 {
		claims["roles"] = slices.Clone(roles)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
