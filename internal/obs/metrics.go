package obs

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by scheme and outcome.",
		},
		[]string{"scheme", "outcome"},
	)

	ingestEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Detection events received from agents.",
		},
		[]string{"result"},
	)

	readiness = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when dependencies passed the last readiness check.",
	})
)

// Init registers the service metrics in the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, authOutcomes, ingestEvents, readiness, buildInfo)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuth counts one authentication attempt. Outcome is "ok" or a
// failure label from auth.Reason.
func ObserveAuth(scheme, outcome string) {
	authOutcomes.WithLabelValues(scheme, outcome).Inc()
}

// ObserveIngest counts accepted and rejected ingest events.
func ObserveIngest(accepted, rejected int) {
	if accepted > 0 {
		ingestEvents.WithLabelValues("accepted").Add(float64(accepted))
	}
	if rejected > 0 {
		ingestEvents.WithLabelValues("rejected").Add(float64(rejected))
	}
}

// SetReady publishes the outcome of the latest readiness check.
func SetReady(ok bool) {
	if ok {
		readiness.Set(1)
		return
	}
	readiness.Set(0)
}

// Instrument records in-flight, count and latency per route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := CanonicalPath(r.URL.Path)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

var knownPaths = map[string]struct{}{
	"/":                   {},
	"/healthz":            {},
	"/readyz":             {},
	"/version":            {},
	"/metrics":            {},
	"/openapi.yaml":       {},
	"/auth/login":         {},
	"/auth/logout":        {},
	"/v1/me":              {},
	"/v1/detections":      {},
	"/v1/agents":          {},
	"/v1/alerts":          {},
	"/v1/admin/api-keys":  {},
	"/ingest/batch":       {},
	"/realtime/dashboard": {},
	"/realtime/events":    {},
}

// CanonicalPath bounds label cardinality for requests that never reached a
// route, such as 401s rejected before dispatch or unknown paths.
func CanonicalPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack lets websocket upgrades pass through the instrumentation.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("obs: response writer does not support hijacking")
	}
	if !w.wroteHeader {
		w.code = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return h.Hijack()
}
