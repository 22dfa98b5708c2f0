package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the lifetime of a dashboard session token.
const TokenTTL = 24 * time.Hour

// Claims is the canonical session token payload. Timestamps are unix seconds.
type Claims struct {
	Subject   string `json:"sub"`
	OrgID     string `json:"org_id"`
	Role      Role   `json:"role"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

var _ jwt.Claims = Claims{}

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c Claims) GetIssuer() (string, error)              { return "", nil }
func (c Claims) GetSubject() (string, error)             { return c.Subject, nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// Principal converts verified claims into a UserPrincipal.
func (c Claims) Principal() (UserPrincipal, error) {
	return NewUserPrincipal(c.Subject, c.OrgID, c.Role, time.Unix(c.IssuedAt, 0), time.Unix(c.ExpiresAt, 0))
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) TokenOption {
	return func(c *TokenCodec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// TokenCodec signs and verifies HS256 session tokens. It is safe for
// concurrent use.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenCodec builds a codec bound to the JWT secret in m.
func NewTokenCodec(m *SecretMaterial, opts ...TokenOption) (*TokenCodec, error) {
	if m == nil || len(m.jwtKey()) < MinJWTSecretLen {
		return nil, fmt.Errorf("%w: jwt secret unavailable", ErrMisconfiguredSecret)
	}
	c := &TokenCodec{
		secret: m.jwtKey(),
		ttl:    TokenTTL,
		now:    time.Now,
		// Expiry is checked below against the injected clock, so the
		// library's own claim validation is switched off.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
			jwt.WithStrictDecoding(),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the lifetime applied to issued tokens.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue signs a token for subject in orgID with role.
func (c *TokenCodec) Issue(subject, orgID string, role Role) (string, Claims, error) {
	subject = strings.TrimSpace(subject)
	orgID = strings.TrimSpace(orgID)
	if subject == "" {
		return "", Claims{}, errors.New("auth: subject is required")
	}
	if orgID == "" {
		return "", Claims{}, errors.New("auth: org id is required")
	}
	if !role.Valid() {
		return "", Claims{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	now := c.now().UTC()
	claims := Claims{
		Subject:   subject,
		OrgID:     orgID,
		Role:      role,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(c.ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks the signature before trusting any claim, then validates the
// claim shape and expiry.
func (c *TokenCodec) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMissingCredential
	}

	var claims Claims
	_, err := c.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return Claims{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenMalformed) && signatureUndecodable(token):
		return Claims{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	if err := validateClaims(claims); err != nil {
		return Claims{}, err
	}
	if claims.ExpiresAt <= c.now().Unix() {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// signatureUndecodable reports whether token has a well-formed header and
// payload but a signature segment that is not strict base64url. A tampered
// signature often lands here rather than on a MAC mismatch.
func signatureUndecodable(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	strict := base64.RawURLEncoding.Strict()
	for _, seg := range parts[:2] {
		raw, err := strict.DecodeString(seg)
		if err != nil || !json.Valid(raw) {
			return false
		}
	}
	_, err := strict.DecodeString(parts[2])
	return err != nil
}

func validateClaims(claims Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return fmt.Errorf("%w: subject missing", ErrMalformedCredential)
	}
	if strings.TrimSpace(claims.OrgID) == "" {
		return fmt.Errorf("%w: org_id missing", ErrMalformedCredential)
	}
	if !claims.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrMalformedCredential, claims.Role)
	}
	if claims.IssuedAt <= 0 || claims.ExpiresAt <= 0 {
		return fmt.Errorf("%w: timestamps missing", ErrMalformedCredential)
	}
	if claims.ExpiresAt <= claims.IssuedAt {
		return fmt.Errorf("%w: expiry precedes issued-at", ErrMalformedCredential)
	}
	return nil
}
