package auth

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"
)

// Mode selects how strictly secret material is enforced at boot.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

const (
	EnvJWTSecret    = "JWT_SECRET"
	EnvCookieSecret = "COOKIE_SECRET"

	MinJWTSecretLen    = 32
	MinCookieSecretLen = 64
)

// ParseMode maps an APP_ENV value to a Mode. Unknown values are rejected so a
// typo never silently downgrades production.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "production", "prod":
		return ModeProduction, nil
	case "development", "dev":
		return ModeDevelopment, nil
	default:
		return "", fmt.Errorf("auth: unknown app environment %q", s)
	}
}

// SecretMaterial holds the signing keys for one process. It is built once at
// startup and only read afterwards.
type SecretMaterial struct {
	jwtSecret    []byte
	cookieSecret []byte
	ephemeral    []string
}

// LoadSecrets reads the signing secrets through lookup (os.LookupEnv in
// production code). A missing secret is only tolerated in development, where
// it is replaced by random bytes for the lifetime of the process. A secret
// that is set but too short is rejected in every mode.
func LoadSecrets(lookup func(string) (string, bool), mode Mode) (*SecretMaterial, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	m := &SecretMaterial{}

	jwtSecret, generated, err := loadSecret(lookup, EnvJWTSecret, MinJWTSecretLen, mode)
	if err != nil {
		return nil, err
	}
	m.jwtSecret = jwtSecret
	if generated {
		m.ephemeral = append(m.ephemeral, EnvJWTSecret)
	}

	// The 64 byte cookie floor only binds production; development accepts a
	// key as long as the JWT floor.
	cookieMin := MinCookieSecretLen
	if mode == ModeDevelopment {
		cookieMin = MinJWTSecretLen
	}
	cookieSecret, generated, err := loadSecret(lookup, EnvCookieSecret, cookieMin, mode)
	if err != nil {
		return nil, err
	}
	m.cookieSecret = cookieSecret
	if generated {
		m.ephemeral = append(m.ephemeral, EnvCookieSecret)
	}
	return m, nil
}

func loadSecret(lookup func(string) (string, bool), name string, minLen int, mode Mode) ([]byte, bool, error) {
	raw, ok := lookup(name)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		if mode != ModeDevelopment {
			return nil, false, fmt.Errorf("%w: %s is not set", ErrMisconfiguredSecret, name)
		}
		buf := make([]byte, minLen)
		if _, err := rand.Read(buf); err != nil {
			return nil, false, fmt.Errorf("auth: generate %s: %w", name, err)
		}
		return buf, true, nil
	}
	if len(raw) < minLen {
		return nil, false, fmt.Errorf("%w: %s must be at least %d bytes", ErrMisconfiguredSecret, name, minLen)
	}
	return []byte(raw), false, nil
}

// NewSecretMaterial builds material from explicit keys, applying the
// production length rules. Intended for tests and CLI helpers.
func NewSecretMaterial(jwtSecret, cookieSecret []byte) (*SecretMaterial, error) {
	if len(jwtSecret) < MinJWTSecretLen {
		return nil, fmt.Errorf("%w: jwt secret must be at least %d bytes", ErrMisconfiguredSecret, MinJWTSecretLen)
	}
	if len(cookieSecret) < MinCookieSecretLen {
		return nil, fmt.Errorf("%w: cookie secret must be at least %d bytes", ErrMisconfiguredSecret, MinCookieSecretLen)
	}
	return &SecretMaterial{
		jwtSecret:    append([]byte(nil), jwtSecret...),
		cookieSecret: append([]byte(nil), cookieSecret...),
	}, nil
}

// Ephemeral reports whether any secret was generated at boot. Sessions signed
// with ephemeral material do not survive a restart.
func (m *SecretMaterial) Ephemeral() bool { return len(m.ephemeral) > 0 }

// EphemeralNames lists the variables that were generated instead of loaded.
func (m *SecretMaterial) EphemeralNames() []string {
	return append([]string(nil), m.ephemeral...)
}

// CookieKey returns the cookie signing key. Callers must not mutate it.
func (m *SecretMaterial) CookieKey() []byte { return m.cookieSecret }

func (m *SecretMaterial) jwtKey() []byte { return m.jwtSecret }
