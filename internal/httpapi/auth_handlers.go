package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"cluelyguard.com/internal/audit"
	"cluelyguard.com/internal/auth"
	"cluelyguard.com/internal/obs"
)

// Demo account. There is no user store; this is the only login that works.
const (
	demoEmail    = "demo@cluelyguard.com"
	demoPassword = "demo123456"
	demoOrgID    = "demo-org-001"
	demoRole     = auth.RoleAdmin

	minPasswordLen = 8
	maxAgentIDLen  = 64
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userInfo struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	OrgID string `json:"org_id"`
	Role  string `json:"role"`
}

type loginResponse struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	User      *userInfo  `json:"user"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type meResponse struct {
	User      userInfo  `json:"user"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type createAPIKeyRequest struct {
	AgentID string `json:"agent_id"`
}

type createAPIKeyResponse struct {
	APIKey         string `json:"api_key"`
	OrgID          string `json:"org_id"`
	AgentID        string `json:"agent_id"`
	KeyFingerprint string `json:"key_fingerprint"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, decodeStatus(err), loginResponse{Message: "Invalid request format"})
		return
	}
	if err := validateLogin(req); err != nil {
		obs.Logger().LogAttrs(r.Context(), slog.LevelWarn, "login validation failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadRequest, loginResponse{Message: "Invalid request format"})
		return
	}

	if !demoCredentials(req.Email, req.Password) {
		_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{"email": req.Email})
		writeJSON(w, http.StatusUnauthorized, loginResponse{Message: "Invalid email or password"})
		return
	}

	userID := uuid.NewString()
	token, claims, err := a.tokens.Issue(userID, demoOrgID, demoRole)
	if err != nil {
		obs.Logger().Error("token issuance failed", "request_id", RequestIDFromContext(r.Context()), "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, loginResponse{Message: "Authentication failed"})
		return
	}
	if err := a.cookies.Set(w, token); err != nil {
		obs.Logger().Error("session cookie encoding failed", "request_id", RequestIDFromContext(r.Context()), "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, loginResponse{Message: "Authentication failed"})
		return
	}

	expiresAt := time.Unix(claims.ExpiresAt, 0).UTC()
	if user, err := claims.Principal(); err == nil {
		ctx := auth.ContextWithPrincipal(r.Context(), user)
		_ = audit.LogEvent(ctx, audit.EventLoginSucceeded, map[string]any{
			"email":      req.Email,
			"expires_at": expiresAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		Message: "Login successful",
		User: &userInfo{
			ID:    userID,
			Email: req.Email,
			OrgID: demoOrgID,
			Role:  demoRole.String(),
		},
		ExpiresAt: &expiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.cookies.Clear(w)
	_ = audit.LogEvent(r.Context(), audit.EventLogout, nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		User: userInfo{
			ID:    user.UserID(),
			OrgID: user.OrgID(),
			Role:  user.Role().String(),
		},
		IssuedAt:  user.IssuedAt(),
		ExpiresAt: user.ExpiresAt(),
	})
}

// handleCreateAPIKey mints a key for an agent in the caller's organization.
// The key is shown once and not stored.
func (a *API) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.OrgScope(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, decodeStatus(err), err.Error())
		return
	}
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" || len(agentID) > maxAgentIDLen || strings.Contains(agentID, "_") {
		writeError(w, r, http.StatusBadRequest, "agent_id must be 1-64 characters without '_'")
		return
	}

	key, err := auth.GenerateAPIKey(a.apiKeys.Prefix(), orgID, agentID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fp := auth.Fingerprint(key)
	_ = audit.LogEvent(r.Context(), audit.EventAPIKeyIssued, map[string]any{
		"agent_id":        agentID,
		"key_fingerprint": fp,
	})
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		APIKey:         key,
		OrgID:          orgID,
		AgentID:        agentID,
		KeyFingerprint: fp,
	})
}

func validateLogin(req loginRequest) error {
	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != req.Email {
		return errors.New("invalid email format")
	}
	if len(req.Password) < minPasswordLen {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}

func demoCredentials(email, password string) bool {
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(demoEmail)) == 1
	passwordOK := subtle.ConstantTimeCompare([]byte(password), []byte(demoPassword)) == 1
	return emailOK && passwordOK
}

// decodeJSON reads exactly one JSON value. The body size limit is applied by
// the MaxBodyBytes middleware.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func decodeStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
