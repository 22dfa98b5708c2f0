package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testSecrets(t *testing.T) *SecretMaterial {
	t.Helper()
	m, err := NewSecretMaterial(
		[]byte(strings.Repeat("j", MinJWTSecretLen)),
		[]byte(strings.Repeat("c", MinCookieSecretLen)),
	)
	if err != nil {
		t.Fatalf("NewSecretMaterial: %v", err)
	}
	return m
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestCodec(t *testing.T, clock *fakeClock) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(testSecrets(t), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return codec
}

func TestTokenRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)

	token, issued, err := codec.Issue("user-1", "acme", RoleViewer)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.ExpiresAt-issued.IssuedAt != int64(TokenTTL/time.Second) {
		t.Fatalf("unexpected lifetime: iat=%d exp=%d", issued.IssuedAt, issued.ExpiresAt)
	}

	claims, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims != issued {
		t.Fatalf("claims mismatch: got %+v want %+v", claims, issued)
	}

	p, err := claims.Principal()
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	if p.UserID() != "user-1" || p.OrgID() != "acme" || p.Role() != RoleViewer {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestTokenExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)

	token, _, err := codec.Issue("user-1", "acme", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.now = clock.now.Add(TokenTTL - time.Second)
	if _, err := codec.Verify(token); err != nil {
		t.Fatalf("token should still be valid one second before expiry: %v", err)
	}

	clock.now = clock.now.Add(time.Second)
	if _, err := codec.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken at exp, got %v", err)
	}

	clock.now = clock.now.Add(time.Hour)
	if _, err := codec.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken after exp, got %v", err)
	}
}

func TestTokenFlippedSignatureByte(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	codec := newTestCodec(t, clock)

	token, _, err := codec.Issue("user-1", "acme", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	sig[0] ^= 0x01
	flipped := []string{parts[0], parts[1], base64.RawURLEncoding.EncodeToString(sig)}

	if _, err := codec.Verify(strings.Join(flipped, ".")); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestTokenFlippedSignatureCharacter(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	codec := newTestCodec(t, clock)

	token, _, err := codec.Issue("user-1", "acme", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	for i := range parts[2] {
		for _, mask := range []byte{0x01, 0x20} {
			seg := []byte(parts[2])
			seg[i] ^= mask
			tampered := parts[0] + "." + parts[1] + "." + string(seg)
			if _, err := codec.Verify(tampered); !errors.Is(err, ErrSignatureInvalid) {
				t.Fatalf("char %d (%q -> %q): expected ErrSignatureInvalid, got %v", i, parts[2][i], seg[i], err)
			}
		}
	}
}

func TestTokenMalformedSegmentsStayMalformed(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	codec := newTestCodec(t, clock)

	token, _, err := codec.Issue("user-1", "acme", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	cases := map[string]string{
		"header not base64":  "!!!." + parts[1] + "." + parts[2],
		"payload not base64": parts[0] + ".!!!." + parts[2],
		"two segments":       parts[0] + "." + parts[1],
	}
	for name, tok := range cases {
		if _, err := codec.Verify(tok); !errors.Is(err, ErrMalformedCredential) {
			t.Fatalf("%s: expected ErrMalformedCredential, got %v", name, err)
		}
	}
}

func TestTokenTamperedPayloadRejected(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	codec := newTestCodec(t, clock)

	token, _, err := codec.Issue("user-1", "acme", RoleViewer)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	forged := base64.RawURLEncoding.EncodeToString([]byte(
		`{"sub":"user-1","org_id":"acme","role":"admin","iat":1,"exp":99999999999}`))
	parts[1] = forged

	if _, err := codec.Verify(strings.Join(parts, ".")); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for forged payload, got %v", err)
	}
}

func TestTokenWrongSecretRejected(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	codec := newTestCodec(t, clock)

	other, err := NewSecretMaterial(
		[]byte(strings.Repeat("x", MinJWTSecretLen)),
		[]byte(strings.Repeat("c", MinCookieSecretLen)),
	)
	if err != nil {
		t.Fatalf("NewSecretMaterial: %v", err)
	}
	foreign, err := NewTokenCodec(other, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	token, _, err := foreign.Issue("user-1", "acme", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := codec.Verify(token); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestTokenRejectsOtherAlgorithms(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	codec := newTestCodec(t, clock)

	claims := Claims{Subject: "user-1", OrgID: "acme", Role: RoleAdmin, IssuedAt: clock.now.Unix(), ExpiresAt: clock.now.Add(time.Hour).Unix()}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := codec.Verify(none); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected alg=none to be rejected as signature invalid, got %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(codec.secret)
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}
	if _, err := codec.Verify(hs512); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected HS512 to be rejected, got %v", err)
	}
}

func TestTokenMalformed(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	codec := newTestCodec(t, clock)

	cases := map[string]string{
		"garbage":     "not-a-token",
		"two parts":   "a.b",
		"bad base64":  "!!!.???.***",
		"json header": "eyJhbGciOiJIUzI1NiJ9.bm90IGpzb24.c2ln",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := codec.Verify(token); !errors.Is(err, ErrMalformedCredential) {
				t.Fatalf("expected ErrMalformedCredential, got %v", err)
			}
		})
	}

	if _, err := codec.Verify("   "); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential for blank token, got %v", err)
	}
}

func TestTokenClaimShapeValidated(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	codec := newTestCodec(t, clock)
	iat := clock.now.Unix()

	cases := map[string]Claims{
		"missing sub":    {OrgID: "acme", Role: RoleAdmin, IssuedAt: iat, ExpiresAt: iat + 60},
		"missing org":    {Subject: "u", Role: RoleAdmin, IssuedAt: iat, ExpiresAt: iat + 60},
		"unknown role":   {Subject: "u", OrgID: "acme", Role: Role("owner"), IssuedAt: iat, ExpiresAt: iat + 60},
		"exp before iat": {Subject: "u", OrgID: "acme", Role: RoleAdmin, IssuedAt: iat + 120, ExpiresAt: iat + 60},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(codec.secret)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if _, err := codec.Verify(token); !errors.Is(err, ErrMalformedCredential) {
				t.Fatalf("expected ErrMalformedCredential, got %v", err)
			}
		})
	}
}

func TestIssueRejectsInvalidInput(t *testing.T) {
	codec := newTestCodec(t, &fakeClock{now: time.Now()})

	if _, _, err := codec.Issue("", "acme", RoleAdmin); err == nil {
		t.Fatalf("expected error for empty subject")
	}
	if _, _, err := codec.Issue("u", " ", RoleAdmin); err == nil {
		t.Fatalf("expected error for empty org")
	}
	if _, _, err := codec.Issue("u", "acme", Role("root")); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestNewTokenCodecRequiresSecret(t *testing.T) {
	if _, err := NewTokenCodec(nil); !errors.Is(err, ErrMisconfiguredSecret) {
		t.Fatalf("expected ErrMisconfiguredSecret, got %v", err)
	}
}
