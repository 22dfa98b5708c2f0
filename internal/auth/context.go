package auth

import "context"

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	if principal == nil {
		return ctx
	}
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// UserFromContext returns the principal only when it is a dashboard user.
func UserFromContext(ctx context.Context) (UserPrincipal, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return UserPrincipal{}, false
	}
	u, ok := p.(UserPrincipal)
	return u, ok
}

// AgentFromContext returns the principal only when it is a machine agent.
func AgentFromContext(ctx context.Context) (AgentPrincipal, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return AgentPrincipal{}, false
	}
	a, ok := p.(AgentPrincipal)
	return a, ok
}

// OrgScope returns the organization every tenant data operation in ctx must
// be filtered by.
func OrgScope(ctx context.Context) (string, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", ErrMissingCredential
	}
	return p.OrgID(), nil
}
