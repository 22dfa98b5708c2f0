package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cluelyguard.com/internal/auth"
)

// Scheme names how a route group authenticates its callers.
type Scheme string

const (
	SchemeNone    Scheme = "none"
	SchemeSession Scheme = "session"
	SchemeAPIKey  Scheme = "api_key"
)

// Route is a single endpoint relative to its group prefix.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}

// RouteGroup binds a path prefix to one authentication scheme and, for
// session groups, the roles allowed in.
type RouteGroup struct {
	Name   string
	Prefix string
	Scheme Scheme
	Roles  []auth.Role
	Routes []Route
}

// routeTable is the single place that decides which credential and which
// roles each endpoint requires.
func (a *API) routeTable() []RouteGroup {
	return []RouteGroup{
		{
			Name:   "public",
			Prefix: "/",
			Scheme: SchemeNone,
			Routes: []Route{
				{http.MethodGet, "/healthz", a.Healthz},
				{http.MethodGet, "/readyz", a.Ready},
				{http.MethodGet, "/version", a.Version},
				{http.MethodGet, "/openapi.yaml", a.OpenAPISpec},
				{http.MethodGet, "/metrics", a.Metrics},
				{http.MethodPost, "/auth/login", a.handleLogin},
				{http.MethodPost, "/auth/logout", a.handleLogout},
			},
		},
		{
			Name:   "dashboard",
			Prefix: "/v1",
			Scheme: SchemeSession,
			Roles:  []auth.Role{auth.RoleAdmin, auth.RoleViewer},
			Routes: []Route{
				{http.MethodGet, "/me", a.handleMe},
				{http.MethodGet, "/detections", a.handleListDetections},
				{http.MethodGet, "/agents", a.handleListAgents},
				{http.MethodGet, "/alerts", a.handleListAlerts},
			},
		},
		{
			Name:   "admin",
			Prefix: "/v1/admin",
			Scheme: SchemeSession,
			Roles:  []auth.Role{auth.RoleAdmin},
			Routes: []Route{
				{http.MethodPost, "/api-keys", a.handleCreateAPIKey},
			},
		},
		{
			Name:   "ingest",
			Prefix: "/ingest",
			Scheme: SchemeAPIKey,
			Routes: []Route{
				{http.MethodPost, "/batch", a.handleIngestBatch},
			},
		},
		{
			Name:   "realtime",
			Prefix: "/realtime",
			Scheme: SchemeSession,
			Roles:  []auth.Role{auth.RoleAdmin, auth.RoleViewer},
			Routes: []Route{
				{http.MethodGet, "/dashboard", a.handleRealtimeDashboard},
				{http.MethodGet, "/events", a.handleRealtimeEvents},
			},
		},
	}
}

// ValidateRouteTable rejects tables that would leave a route without the
// protection its group claims.
func ValidateRouteTable(groups []RouteGroup) error {
	var errs []error
	prefixes := make(map[string]string, len(groups))
	endpoints := make(map[string]string)

	for _, g := range groups {
		if g.Name == "" {
			errs = append(errs, errors.New("route group without a name"))
		}
		if !strings.HasPrefix(g.Prefix, "/") {
			errs = append(errs, fmt.Errorf("group %q: prefix %q must start with /", g.Name, g.Prefix))
		}
		if other, dup := prefixes[g.Prefix]; dup {
			errs = append(errs, fmt.Errorf("group %q: prefix %q already used by %q", g.Name, g.Prefix, other))
		}
		prefixes[g.Prefix] = g.Name

		switch g.Scheme {
		case SchemeSession:
			if len(g.Roles) == 0 {
				errs = append(errs, fmt.Errorf("group %q: session groups must declare at least one role", g.Name))
			}
			for _, r := range g.Roles {
				if !r.Valid() {
					errs = append(errs, fmt.Errorf("group %q: unknown role %q", g.Name, r))
				}
			}
		case SchemeAPIKey, SchemeNone:
			if len(g.Roles) > 0 {
				errs = append(errs, fmt.Errorf("group %q: %s groups cannot declare roles", g.Name, g.Scheme))
			}
		default:
			errs = append(errs, fmt.Errorf("group %q: unknown scheme %q", g.Name, g.Scheme))
		}

		if len(g.Routes) == 0 {
			errs = append(errs, fmt.Errorf("group %q: no routes", g.Name))
		}
		for _, rt := range g.Routes {
			if !strings.HasPrefix(rt.Pattern, "/") {
				errs = append(errs, fmt.Errorf("group %q: pattern %q must start with /", g.Name, rt.Pattern))
			}
			if rt.Handler == nil {
				errs = append(errs, fmt.Errorf("group %q: %s %s has no handler", g.Name, rt.Method, rt.Pattern))
			}
			key := rt.Method + " " + joinPath(g.Prefix, rt.Pattern)
			if other, dup := endpoints[key]; dup {
				errs = append(errs, fmt.Errorf("group %q: %s already registered by %q", g.Name, key, other))
			}
			endpoints[key] = g.Name
		}
	}
	return errors.Join(errs...)
}

// mountRoutes validates groups and registers them on r, each behind its
// scheme's middleware.
func (a *API) mountRoutes(r chi.Router, groups []RouteGroup) error {
	if err := ValidateRouteTable(groups); err != nil {
		return fmt.Errorf("invalid route table: %w", err)
	}
	for _, g := range groups {
		g := g
		r.Group(func(gr chi.Router) {
			switch g.Scheme {
			case SchemeSession:
				gr.Use(a.SessionAuth, RequireRoles(g.Roles...))
			case SchemeAPIKey:
				gr.Use(a.APIKeyAuth)
			}
			for _, rt := range g.Routes {
				gr.Method(rt.Method, joinPath(g.Prefix, rt.Pattern), rt.Handler)
			}
		})
	}
	return nil
}

func joinPath(prefix, pattern string) string {
	return strings.TrimRight(prefix, "/") + pattern
}
