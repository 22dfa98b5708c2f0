package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustUser(t *testing.T, role Role) UserPrincipal {
	t.Helper()
	now := time.Now()
	u, err := NewUserPrincipal("user-1", "acme", role, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("NewUserPrincipal: %v", err)
	}
	return u
}

func TestRequireRole(t *testing.T) {
	admin := mustUser(t, RoleAdmin)
	viewer := mustUser(t, RoleViewer)
	agent, err := NewAgentPrincipal("acme", "agent7", "fp")
	if err != nil {
		t.Fatalf("NewAgentPrincipal: %v", err)
	}

	if err := RequireRole(admin, RoleAdmin); err != nil {
		t.Fatalf("admin should pass admin guard: %v", err)
	}
	if err := RequireRole(viewer, RoleAdmin, RoleViewer); err != nil {
		t.Fatalf("viewer should pass dashboard guard: %v", err)
	}
	if err := RequireRole(viewer, RoleAdmin); !errors.Is(err, ErrInsufficientRole) {
		t.Fatalf("expected ErrInsufficientRole for viewer, got %v", err)
	}
	if err := RequireRole(agent, RoleAdmin, RoleViewer); !errors.Is(err, ErrInsufficientRole) {
		t.Fatalf("expected ErrInsufficientRole for agent, got %v", err)
	}
	if err := RequireRole(nil, RoleAdmin); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential for nil principal, got %v", err)
	}
	if err := RequireRole(admin); !errors.Is(err, ErrInsufficientRole) {
		t.Fatalf("empty allow list must deny, got %v", err)
	}
}

func TestPrincipalInvariants(t *testing.T) {
	now := time.Now()
	if _, err := NewUserPrincipal("u", "", RoleAdmin, now, now.Add(time.Minute)); err == nil {
		t.Fatalf("expected error for empty org")
	}
	if _, err := NewUserPrincipal("u", "acme", RoleAdmin, now, now); err == nil {
		t.Fatalf("expected error when expiry equals issued-at")
	}
	if _, err := NewUserPrincipal("u", "acme", Role("root"), now, now.Add(time.Minute)); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if _, err := NewAgentPrincipal("", "agent", "fp"); err == nil {
		t.Fatalf("expected error for empty org")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, err := OrgScope(ctx); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential without principal, got %v", err)
	}

	user := mustUser(t, RoleViewer)
	ctx = ContextWithPrincipal(ctx, user)
	org, err := OrgScope(ctx)
	if err != nil || org != "acme" {
		t.Fatalf("OrgScope = %q, %v", org, err)
	}
	if _, ok := UserFromContext(ctx); !ok {
		t.Fatalf("expected user principal in context")
	}
	if _, ok := AgentFromContext(ctx); ok {
		t.Fatalf("user context must not yield an agent")
	}

	agent, _ := NewAgentPrincipal("globex", "agent9", "fp")
	actx := ContextWithPrincipal(context.Background(), agent)
	if a, ok := AgentFromContext(actx); !ok || a.AgentID() != "agent9" {
		t.Fatalf("expected agent principal, got %+v ok=%v", a, ok)
	}
	if SubjectID(agent) != "agent9" || SubjectID(user) != "user-1" {
		t.Fatalf("unexpected subject ids")
	}
}

func TestReasonLabels(t *testing.T) {
	cases := map[error]string{
		nil:                    "ok",
		ErrExpiredToken:        "expired_token",
		ErrSignatureInvalid:    "signature_invalid",
		ErrPrefixMismatch:      "prefix_mismatch",
		ErrRegistryUnavailable: "registry_unavailable",
		errors.New("boom"):     "internal",
	}
	for err, want := range cases {
		if got := Reason(err); got != want {
			t.Fatalf("Reason(%v) = %q, want %q", err, got, want)
		}
	}
}
