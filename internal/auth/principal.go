package auth

import (
	"errors"
	"strings"
	"time"
)

// PrincipalKind discriminates the Principal variants.
type PrincipalKind string

const (
	KindUser  PrincipalKind = "user"
	KindAgent PrincipalKind = "agent"
)

// Principal is the authenticated identity resolved for a single request.
// The set of implementations is closed: UserPrincipal and AgentPrincipal.
// Consumers switch on the concrete type instead of inspecting which
// middleware ran.
type Principal interface {
	Kind() PrincipalKind
	OrgID() string
	sealed()
}

// UserPrincipal is a dashboard user resolved from a session token.
type UserPrincipal struct {
	userID    string
	orgID     string
	role      Role
	issuedAt  time.Time
	expiresAt time.Time
}

// NewUserPrincipal validates the invariants of a user principal.
func NewUserPrincipal(userID, orgID string, role Role, issuedAt, expiresAt time.Time) (UserPrincipal, error) {
	userID = strings.TrimSpace(userID)
	orgID = strings.TrimSpace(orgID)
	if userID == "" {
		return UserPrincipal{}, errors.New("auth: user id is required")
	}
	if orgID == "" {
		return UserPrincipal{}, errors.New("auth: org id is required")
	}
	if !role.Valid() {
		return UserPrincipal{}, ErrUnknownRole
	}
	if !expiresAt.After(issuedAt) {
		return UserPrincipal{}, errors.New("auth: expiry must follow issued-at")
	}
	return UserPrincipal{
		userID:    userID,
		orgID:     orgID,
		role:      role,
		issuedAt:  issuedAt.UTC(),
		expiresAt: expiresAt.UTC(),
	}, nil
}

func (p UserPrincipal) Kind() PrincipalKind  { return KindUser }
func (p UserPrincipal) OrgID() string        { return p.orgID }
func (p UserPrincipal) UserID() string       { return p.userID }
func (p UserPrincipal) Role() Role           { return p.role }
func (p UserPrincipal) IssuedAt() time.Time  { return p.issuedAt }
func (p UserPrincipal) ExpiresAt() time.Time { return p.expiresAt }
func (UserPrincipal) sealed()                {}

// AgentPrincipal is a machine agent resolved from an API key.
type AgentPrincipal struct {
	orgID          string
	agentID        string
	keyFingerprint string
}

// NewAgentPrincipal validates the invariants of an agent principal.
func NewAgentPrincipal(orgID, agentID, keyFingerprint string) (AgentPrincipal, error) {
	if strings.TrimSpace(orgID) == "" {
		return AgentPrincipal{}, errors.New("auth: org id is required")
	}
	if strings.TrimSpace(agentID) == "" {
		return AgentPrincipal{}, errors.New("auth: agent id is required")
	}
	return AgentPrincipal{orgID: orgID, agentID: agentID, keyFingerprint: keyFingerprint}, nil
}

func (p AgentPrincipal) Kind() PrincipalKind    { return KindAgent }
func (p AgentPrincipal) OrgID() string          { return p.orgID }
func (p AgentPrincipal) AgentID() string        { return p.agentID }
func (p AgentPrincipal) KeyFingerprint() string { return p.keyFingerprint }
func (AgentPrincipal) sealed()                  {}

// SubjectID returns the user or agent identifier of p.
func SubjectID(p Principal) string {
	switch v := p.(type) {
	case UserPrincipal:
		return v.UserID()
	case AgentPrincipal:
		return v.AgentID()
	default:
		return ""
	}
}
