package auth

import "context"

// Principal is everything known about the caller of one request.
// Token is nil when the gateway runs in trusted mode.
type Principal struct {
	Token    *VerifiedToken
	Identity *UserIdentity
	// RawToken is the bearer string as received, used for delegated
	// token exchange. Never log it.
	RawToken string
}

// Subject is the owner value recorded on artifacts.
func (p *Principal) Subject() string {
	if p == nil || p.Identity == nil {
		return ""
	}

	return p.Identity.UserKey
}

type principalKey struct{}

// WithPrincipal stores p in ctx. A nil principal returns ctx unchanged.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	if p == nil {
		return ctx
	}

	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by the middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}
