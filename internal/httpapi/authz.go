package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"cluelyguard.com/internal/auth"
	"cluelyguard.com/internal/obs"
)

// RequireRoles admits only dashboard users holding one of roles. It must run
// after an authentication middleware.
func RequireRoles(roles ...auth.Role) func(http.Handler) http.Handler {
	allowed := append([]auth.Role(nil), roles...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := auth.PrincipalFromContext(r.Context())
			err := auth.RequireRole(p, allowed...)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, auth.ErrMissingCredential):
				obs.ObserveAuth("role", auth.Reason(err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="cluelyguard"`)
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
			default:
				obs.ObserveAuth("role", auth.Reason(err))
				obs.Logger().LogAttrs(r.Context(), slog.LevelWarn, "auth_forbidden",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("reason", auth.Reason(err)),
					slog.String("path", r.URL.Path),
					slog.String("principal", string(p.Kind())),
					slog.String("org_id", p.OrgID()),
				)
				writeError(w, r, http.StatusForbidden, "forbidden")
			}
		})
	}
}
