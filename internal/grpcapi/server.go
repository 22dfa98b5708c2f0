// Package grpcapi serves the agent-facing gRPC listener: the standard health
// service, whose status follows the readiness probe, behind API-key
// interceptors.
package grpcapi

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"cluelyguard.com/internal/auth"
	"cluelyguard.com/internal/obs"
)

// ServiceName is the health service name reported alongside "".
const ServiceName = "cluelyguard.v1.Ingest"

// APIKeyMetadata is the metadata key carrying the agent API key.
const APIKeyMetadata = "x-api-key"

const healthMethodPrefix = "/grpc.health.v1.Health/"

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Server wraps a grpc.Server with health reporting.
type Server struct {
	grpc      *grpc.Server
	health    *health.Server
	readiness ReadinessChecker
}

// New builds the server. Every call except the server-wide health check must
// carry a valid API key.
func New(keys *auth.APIKeyValidator, readiness ReadinessChecker) *Server {
	s := &Server{
		health:    health.NewServer(),
		readiness: readiness,
	}
	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryAPIKeyInterceptor(keys)),
		grpc.ChainStreamInterceptor(StreamAPIKeyInterceptor(keys)),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setServing(false)
	return s
}

// Serve accepts connections on lis until Stop or GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop marks the server not serving and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// CheckReadiness runs the probe once and updates the health status.
func (s *Server) CheckReadiness(ctx context.Context) bool {
	ok := true
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			obs.Logger().Warn("grpc readiness check failed", "error", err.Error())
			ok = false
		}
	}
	s.setServing(ok)
	obs.SetReady(ok)
	return ok
}

// WatchReadiness re-checks readiness every interval until ctx ends.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	check := func() {
		cctx, cancel := context.WithTimeout(ctx, interval/2)
		defer cancel()
		s.CheckReadiness(cctx)
	}
	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func (s *Server) setServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// UnaryAPIKeyInterceptor authenticates unary calls with the x-api-key
// metadata and stores the AgentPrincipal in the handler context.
func UnaryAPIKeyInterceptor(keys *auth.APIKeyValidator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if anonymousHealthCheck(info.FullMethod, req) {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, keys, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAPIKeyInterceptor is the streaming counterpart of
// UnaryAPIKeyInterceptor.
func StreamAPIKeyInterceptor(keys *auth.APIKeyValidator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
			// The watched service is only known once the request arrives.
			return handler(srv, &healthWatchStream{ServerStream: ss, keys: keys, method: info.FullMethod})
		}
		ctx, err := authenticate(ss.Context(), keys, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// anonymousHealthCheck admits the server-wide health check ("") without a
// key so load balancers can probe. Per-service health requires a key.
func anonymousHealthCheck(method string, req any) bool {
	if !strings.HasPrefix(method, healthMethodPrefix) {
		return false
	}
	hc, ok := req.(*healthpb.HealthCheckRequest)
	return ok && hc.GetService() == ""
}

// healthWatchStream authenticates a Watch call when its request names a
// service.
type healthWatchStream struct {
	grpc.ServerStream
	keys   *auth.APIKeyValidator
	method string
	ctx    context.Context
}

func (s *healthWatchStream) Context() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return s.ServerStream.Context()
}

func (s *healthWatchStream) RecvMsg(m any) error {
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	if anonymousHealthCheck(s.method, m) {
		return nil
	}
	ctx, err := authenticate(s.ServerStream.Context(), s.keys, s.method)
	if err != nil {
		return err
	}
	s.ctx = ctx
	return nil
}

func authenticate(ctx context.Context, keys *auth.APIKeyValidator, method string) (context.Context, error) {
	if keys == nil {
		return nil, status.Error(codes.Internal, "api key validation not configured")
	}
	var raw string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(APIKeyMetadata); len(vals) > 0 {
			raw = strings.TrimSpace(vals[0])
		}
	}
	agent, err := keys.Validate(ctx, raw)
	if err != nil {
		reason := auth.Reason(err)
		obs.ObserveAuth("grpc_api_key", reason)
		attrs := []slog.Attr{
			slog.String("reason", reason),
			slog.String("method", method),
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			attrs = append(attrs, slog.String("peer_addr", p.Addr.String()))
		}
		if raw != "" {
			attrs = append(attrs, slog.String("key_fingerprint", auth.Fingerprint(raw)))
		}
		obs.Logger().LogAttrs(ctx, slog.LevelWarn, "auth_failed", attrs...)
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	obs.ObserveAuth("grpc_api_key", auth.Reason(nil))
	return auth.ContextWithPrincipal(ctx, agent), nil
}
