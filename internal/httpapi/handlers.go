package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cluelyguard.com/api/spec"
	"cluelyguard.com/internal/auth"
	"cluelyguard.com/internal/detections"
	"cluelyguard.com/internal/obs"
	"cluelyguard.com/internal/stream"
)

const (
	serviceName         = "cluelyguard-api"
	defaultMaxBodyBytes = 1 << 20
	readyTimeout        = 2 * time.Second
)

// ReadyProbe reports whether dependencies are reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API's collaborators.
type Options struct {
	Secrets      *auth.SecretMaterial
	Tokens       *auth.TokenCodec
	APIKeys      *auth.APIKeyValidator
	Detections   *detections.Store
	Stream       *stream.Stream
	Ready        ReadyProbe
	CORSOrigins  []string
	MaxBodyBytes int64
	Build        obs.BuildInfo
}

// API is the HTTP layer.
type API struct {
	router       chi.Router
	readyProbe   ReadyProbe
	build        obs.BuildInfo
	tokens       *auth.TokenCodec
	apiKeys      *auth.APIKeyValidator
	cookies      *SessionCookies
	detections   *detections.Store
	stream       *stream.Stream
	corsOrigins  []string
	maxBodyBytes int64
}

// New builds the router. It fails when the route table is inconsistent or a
// required collaborator is missing, so a misconfigured server never starts.
func New(opts Options) (*API, error) {
	if opts.Tokens == nil {
		return nil, errors.New("httpapi: token codec is required")
	}
	if opts.APIKeys == nil {
		return nil, errors.New("httpapi: api key validator is required")
	}
	cookies, err := NewSessionCookies(opts.Secrets, opts.Tokens.TTL())
	if err != nil {
		return nil, err
	}
	a := &API{
		readyProbe:   opts.Ready,
		build:        opts.Build,
		tokens:       opts.Tokens,
		apiKeys:      opts.APIKeys,
		cookies:      cookies,
		detections:   opts.Detections,
		stream:       opts.Stream,
		corsOrigins:  opts.CORSOrigins,
		maxBodyBytes: opts.MaxBodyBytes,
	}
	if a.detections == nil {
		a.detections = detections.NewStore(0)
	}
	if a.stream == nil {
		a.stream = stream.New()
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = defaultMaxBodyBytes
	}
	if a.build.Version == "" {
		a.build = obs.CurrentBuild()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	r.Use(CORS(opts.CORSOrigins))
	r.Use(MaxBodyBytes(a.maxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	if err := a.mountRoutes(r, a.routeTable()); err != nil {
		return nil, err
	}
	a.router = r
	return a, nil
}

// Handler returns the http.Handler for the server.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.build.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Logger().Warn("readiness check failed", "error", err.Error())
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.build)
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

func (a *API) Metrics(w http.ResponseWriter, r *http.Request) {
	obs.Handler().ServeHTTP(w, r)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
