package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"cluelyguard.com/internal/auth"
)

// SessionCookieName carries the session token for browser clients.
const SessionCookieName = "jwt_token"

// SessionCookies signs the session token into the jwt_token cookie. The cookie
// MAC covers the cookie name and timestamp, so a bare bearer token is not a
// valid cookie value.
type SessionCookies struct {
	codec  *securecookie.SecureCookie
	maxAge time.Duration
}

// NewSessionCookies builds a cookie codec keyed by the cookie secret.
func NewSessionCookies(secrets *auth.SecretMaterial, maxAge time.Duration) (*SessionCookies, error) {
	if secrets == nil || len(secrets.CookieKey()) == 0 {
		return nil, fmt.Errorf("%w: cookie key unavailable", auth.ErrMisconfiguredSecret)
	}
	if maxAge <= 0 {
		maxAge = auth.TokenTTL
	}
	codec := securecookie.New(secrets.CookieKey(), nil)
	codec.MaxAge(int(maxAge / time.Second))
	codec.SetSerializer(securecookie.JSONEncoder{})
	return &SessionCookies{codec: codec, maxAge: maxAge}, nil
}

// Set writes the signed cookie for token.
func (c *SessionCookies) Set(w http.ResponseWriter, token string) error {
	value, err := c.codec.Encode(SessionCookieName, token)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}
	http.SetCookie(w, c.cookie(value, int(c.maxAge/time.Second)))
	return nil
}

// Clear expires the cookie in the browser.
func (c *SessionCookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1))
}

// Token returns the session token carried by r's cookie. ok is false when no
// cookie was sent.
func (c *SessionCookies) Token(r *http.Request) (token string, ok bool, err error) {
	ck, err := r.Cookie(SessionCookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && ck.Value == "") {
		return "", false, nil
	}
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", auth.ErrMalformedCredential, err)
	}
	if err := c.codec.Decode(SessionCookieName, ck.Value, &token); err != nil {
		if errors.Is(err, securecookie.ErrMacInvalid) {
			return "", true, fmt.Errorf("%w: cookie: %v", auth.ErrSignatureInvalid, err)
		}
		return "", true, fmt.Errorf("%w: cookie: %v", auth.ErrMalformedCredential, err)
	}
	return token, true, nil
}

func (c *SessionCookies) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}
