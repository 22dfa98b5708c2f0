package auth

import "errors"

var (
	ErrMissingCredential   = errors.New("auth: missing credential")
	ErrMalformedCredential = errors.New("auth: malformed credential")
	ErrExpiredToken        = errors.New("auth: token expired")
	ErrSignatureInvalid    = errors.New("auth: signature invalid")
	ErrMalformedAPIKey     = errors.New("auth: malformed api key")
	ErrPrefixMismatch      = errors.New("auth: api key prefix mismatch")
	ErrUnknownAPIKey       = errors.New("auth: unknown api key")
	ErrRegistryUnavailable = errors.New("auth: key registry unavailable")
	ErrInsufficientRole    = errors.New("auth: insufficient role")
	ErrUnknownRole         = errors.New("auth: unknown role")
	ErrMisconfiguredSecret = errors.New("auth: misconfigured secret")
)

// Reason maps an authentication error to a stable, low-cardinality label used
// in logs and metrics. It is never sent to the caller.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrMalformedCredential):
		return "malformed_credential"
	case errors.Is(err, ErrPrefixMismatch):
		return "prefix_mismatch"
	case errors.Is(err, ErrMalformedAPIKey):
		return "malformed_api_key"
	case errors.Is(err, ErrUnknownAPIKey):
		return "unknown_api_key"
	case errors.Is(err, ErrRegistryUnavailable):
		return "registry_unavailable"
	case errors.Is(err, ErrInsufficientRole):
		return "insufficient_role"
	case errors.Is(err, ErrUnknownRole):
		return "unknown_role"
	case errors.Is(err, ErrMisconfiguredSecret):
		return "misconfigured_secret"
	default:
		return "internal"
	}
}
