package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	// DefaultAPIKeyPrefix is used when API_KEY_PREFIX is unset.
	DefaultAPIKeyPrefix = "org"

	// MinAPIKeySecretLen is the shortest secret segment accepted.
	MinAPIKeySecretLen = 16

	// GeneratedSecretLen is the length of secrets minted by GenerateAPIKey.
	GeneratedSecretLen = 32

	apiKeySegments = 4
	apiKeySep      = "_"
)

const secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// KeyRegistry confirms that a well-formed key is still recognized. A nil
// error admits the key; ErrUnknownAPIKey rejects it.
type KeyRegistry interface {
	Lookup(ctx context.Context, agent AgentPrincipal) error
}

// KeyRegistryFunc adapts a function to KeyRegistry.
type KeyRegistryFunc func(ctx context.Context, agent AgentPrincipal) error

func (f KeyRegistryFunc) Lookup(ctx context.Context, agent AgentPrincipal) error {
	return f(ctx, agent)
}

// APIKeyOption configures an APIKeyValidator.
type APIKeyOption func(*APIKeyValidator)

// WithRegistry consults reg after the structural checks pass. Each lookup is
// bounded by timeout and never retried.
func WithRegistry(reg KeyRegistry, timeout time.Duration) APIKeyOption {
	return func(v *APIKeyValidator) {
		v.registry = reg
		if timeout > 0 {
			v.timeout = timeout
		}
	}
}

// APIKeyValidator parses agent keys of the form <prefix>_<org>_<agent>_<secret>.
type APIKeyValidator struct {
	prefix   string
	registry KeyRegistry
	timeout  time.Duration
}

// NewAPIKeyValidator returns a validator expecting keys that start with prefix.
func NewAPIKeyValidator(prefix string, opts ...APIKeyOption) (*APIKeyValidator, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultAPIKeyPrefix
	}
	if strings.Contains(prefix, apiKeySep) {
		return nil, fmt.Errorf("auth: api key prefix %q must not contain %q", prefix, apiKeySep)
	}
	v := &APIKeyValidator{prefix: prefix, timeout: 2 * time.Second}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Prefix returns the configured key prefix.
func (v *APIKeyValidator) Prefix() string { return v.prefix }

// Validate resolves raw into an AgentPrincipal. Segment positions are fixed:
// org is the second segment and agent the third.
func (v *APIKeyValidator) Validate(ctx context.Context, raw string) (AgentPrincipal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AgentPrincipal{}, ErrMissingCredential
	}
	parts := strings.Split(raw, apiKeySep)
	if len(parts) != apiKeySegments {
		return AgentPrincipal{}, fmt.Errorf("%w: expected %d segments, got %d", ErrMalformedAPIKey, apiKeySegments, len(parts))
	}
	for i, part := range parts {
		if part == "" {
			return AgentPrincipal{}, fmt.Errorf("%w: segment %d is empty", ErrMalformedAPIKey, i)
		}
	}
	if parts[0] != v.prefix {
		return AgentPrincipal{}, ErrPrefixMismatch
	}
	if len(parts[3]) < MinAPIKeySecretLen {
		return AgentPrincipal{}, fmt.Errorf("%w: secret too short", ErrMalformedAPIKey)
	}

	agent, err := NewAgentPrincipal(parts[1], parts[2], Fingerprint(raw))
	if err != nil {
		return AgentPrincipal{}, fmt.Errorf("%w: %v", ErrMalformedAPIKey, err)
	}
	if v.registry != nil {
		if err := v.lookup(ctx, agent); err != nil {
			return AgentPrincipal{}, err
		}
	}
	return agent, nil
}

func (v *APIKeyValidator) lookup(ctx context.Context, agent AgentPrincipal) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	err := v.registry.Lookup(ctx, agent)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownAPIKey):
		return err
	default:
		// Timeouts land here too.
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
}

// Fingerprint returns a short, non-reversible identifier for a raw key that is
// safe to log.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

// GenerateAPIKey mints a new key for agent in org using a random secret.
func GenerateAPIKey(prefix, org, agent string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultAPIKeyPrefix
	}
	for name, seg := range map[string]string{"prefix": prefix, "org": org, "agent": agent} {
		if strings.TrimSpace(seg) == "" {
			return "", fmt.Errorf("auth: %s is required", name)
		}
		if strings.Contains(seg, apiKeySep) {
			return "", fmt.Errorf("auth: %s %q must not contain %q", name, seg, apiKeySep)
		}
	}
	secret, err := randomSecret(GeneratedSecretLen)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{prefix, org, agent, secret}, apiKeySep), nil
}

func randomSecret(n int) (string, error) {
	limit := big.NewInt(int64(len(secretAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("auth: generate api key secret: %w", err)
		}
		b.WriteByte(secretAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
