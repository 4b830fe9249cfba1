package domain

import "context"

type principalKey struct{}

// ContextPrincipal carries the authenticated operator through request context.
type ContextPrincipal struct {
	Name    string
	IsAdmin bool
	Type    string // "user" or "service_principal"
}

// WithPrincipal stores a ContextPrincipal in the context.
func WithPrincipal(ctx context.Context, p ContextPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the ContextPrincipal from the context.
func PrincipalFromContext(ctx context.Context) (ContextPrincipal, bool) {
	p, ok := ctx.Value(principalKey{}).(ContextPrincipal)
	return p, ok
}

// ActorFromContext returns the principal name recorded on audit events,
// or "system" when the call did not originate from an authenticated request.
func ActorFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok && p.Name != "" {
		return p.Name
	}
	return "system"
}
