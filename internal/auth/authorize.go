package auth

import "slices"

// RequireRole admits p only when it is a dashboard user holding one of the
// allowed roles. Agents never satisfy a role requirement.
func RequireRole(p Principal, allowed ...Role) error {
	if p == nil {
		return ErrMissingCredential
	}
	user, ok := p.(UserPrincipal)
	if !ok {
		return ErrInsufficientRole
	}
	if !slices.Contains(allowed, user.Role()) {
		return ErrInsufficientRole
	}
	return nil
}
