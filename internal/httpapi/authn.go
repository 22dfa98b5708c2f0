package httpapi

import (
	"log/slog"
	"net/http"
	"strings"

	"cluelyguard.com/internal/auth"
	"cluelyguard.com/internal/obs"
)

const (
	authHeader   = "Authorization"
	apiKeyHeader = "X-API-Key"
	bearer       = "Bearer "
)

// SessionAuth resolves a UserPrincipal from the signed session cookie or,
// when no cookie is sent, from the Authorization bearer header. A cookie that
// is present but invalid is rejected without falling back to the header.
func (a *API) SessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := a.sessionToken(r)
		if err != nil {
			a.unauthorized(w, r, SchemeSession, err, "")
			return
		}
		claims, err := a.tokens.Verify(token)
		if err != nil {
			a.unauthorized(w, r, SchemeSession, err, "")
			return
		}
		user, err := claims.Principal()
		if err != nil {
			a.unauthorized(w, r, SchemeSession, err, "")
			return
		}
		obs.ObserveAuth(string(SchemeSession), auth.Reason(nil))
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), user)))
	})
}

// APIKeyAuth resolves an AgentPrincipal from the X-API-Key header.
func (a *API) APIKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		agent, err := a.apiKeys.Validate(r.Context(), raw)
		if err != nil {
			fp := ""
			if raw != "" {
				fp = auth.Fingerprint(raw)
			}
			a.unauthorized(w, r, SchemeAPIKey, err, fp)
			return
		}
		obs.ObserveAuth(string(SchemeAPIKey), auth.Reason(nil))
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), agent)))
	})
}

func (a *API) sessionToken(r *http.Request) (string, error) {
	token, ok, err := a.cookies.Token(r)
	if err != nil {
		return "", err
	}
	if ok {
		return token, nil
	}
	return extractBearerToken(r.Header.Get(authHeader))
}

// unauthorized logs the concrete reason and answers with a body that does
// not reveal it.
func (a *API) unauthorized(w http.ResponseWriter, r *http.Request, scheme Scheme, err error, fingerprint string) {
	reason := auth.Reason(err)
	obs.ObserveAuth(string(scheme), reason)
	attrs := []slog.Attr{
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.String("scheme", string(scheme)),
		slog.String("reason", reason),
		slog.String("path", r.URL.Path),
		slog.String("remote_ip", clientIP(r)),
	}
	if fingerprint != "" {
		attrs = append(attrs, slog.String("key_fingerprint", fingerprint))
	}
	obs.Logger().LogAttrs(r.Context(), slog.LevelWarn, "auth_failed", attrs...)

	w.Header().Set("WWW-Authenticate", `Bearer realm="cluelyguard"`)
	writeError(w, r, http.StatusUnauthorized, "unauthorized")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.ErrMissingCredential
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", auth.ErrMalformedCredential
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", auth.ErrMissingCredential
	}
	return token, nil
}
