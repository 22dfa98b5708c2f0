package grpcapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"cluelyguard.com/internal/auth"
)

const bufSize = 1024 * 1024

func testValidator(t *testing.T) *auth.APIKeyValidator {
	t.Helper()
	v, err := auth.NewAPIKeyValidator(auth.DefaultAPIKeyPrefix)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func startBufGRPC(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		srv.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	})
	return conn
}

type readinessFunc func(context.Context) error

func (f readinessFunc) Check(ctx context.Context) error { return f(ctx) }

func TestHealthFollowsReadiness(t *testing.T) {
	srv := New(testValidator(t), readinessFunc(func(context.Context) error { return nil }))
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := healthpb.NewHealthClient(conn)

	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without a key, got %v", err)
	}

	key, err := auth.GenerateAPIKey(auth.DefaultAPIKeyPrefix, "acme", "agent7")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, APIKeyMetadata, key)

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before the first check, got %s", resp.GetStatus())
	}

	if !srv.CheckReadiness(ctx) {
		t.Fatal("expected readiness to pass")
	}
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}
}

func TestHealthReportsFailure(t *testing.T) {
	srv := New(testValidator(t), readinessFunc(func(context.Context) error { return errors.New("boom") }))
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if srv.CheckReadiness(ctx) {
		t.Fatal("expected readiness to fail")
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %s", resp.GetStatus())
	}
}

func TestUnaryInterceptorAdmitsValidKey(t *testing.T) {
	keys := testValidator(t)
	key, err := auth.GenerateAPIKey(auth.DefaultAPIKeyPrefix, "acme", "agent7")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(APIKeyMetadata, key))

	var got auth.AgentPrincipal
	handler := func(ctx context.Context, req any) (any, error) {
		got, _ = auth.AgentFromContext(ctx)
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/cluelyguard.v1.Ingest/Submit"}
	if _, err := UnaryAPIKeyInterceptor(keys)(ctx, nil, info, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if got.OrgID() != "acme" || got.AgentID() != "agent7" {
		t.Fatalf("unexpected principal: org=%q agent=%q", got.OrgID(), got.AgentID())
	}
}

func TestUnaryInterceptorRejects(t *testing.T) {
	keys := testValidator(t)
	cases := map[string]context.Context{
		"no metadata":  context.Background(),
		"empty key":    metadata.NewIncomingContext(context.Background(), metadata.Pairs(APIKeyMetadata, "")),
		"wrong prefix": metadata.NewIncomingContext(context.Background(), metadata.Pairs(APIKeyMetadata, "corp_acme_agent7_abcdefghijklmnopqrstuvwxyz123456")),
		"malformed":    metadata.NewIncomingContext(context.Background(), metadata.Pairs(APIKeyMetadata, "org_acme_agent7")),
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/cluelyguard.v1.Ingest/Submit"}
	for name, ctx := range cases {
		t.Run(name, func(t *testing.T) {
			called := false
			handler := func(context.Context, any) (any, error) {
				called = true
				return nil, nil
			}
			_, err := UnaryAPIKeyInterceptor(keys)(ctx, nil, info, handler)
			if status.Code(err) != codes.Unauthenticated {
				t.Fatalf("expected Unauthenticated, got %v", err)
			}
			if called {
				t.Fatal("handler must not run")
			}
		})
	}
}

func TestUnaryInterceptorHealth(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	called := false
	handler := func(context.Context, any) (any, error) {
		called = true
		return nil, nil
	}
	intercept := UnaryAPIKeyInterceptor(testValidator(t))

	if _, err := intercept(context.Background(), &healthpb.HealthCheckRequest{}, info, handler); err != nil {
		t.Fatalf("server-wide check: %v", err)
	}
	if !called {
		t.Fatal("expected server-wide health check to run without a key")
	}

	called = false
	_, err := intercept(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName}, info, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated for %s without a key, got %v", ServiceName, err)
	}
	if called {
		t.Fatal("handler must not run")
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

type watchStream struct {
	fakeStream
	req *healthpb.HealthCheckRequest
}

func (w watchStream) RecvMsg(m any) error {
	*m.(*healthpb.HealthCheckRequest) = healthpb.HealthCheckRequest{Service: w.req.GetService()}
	return nil
}

func TestStreamInterceptorHealthWatch(t *testing.T) {
	keys := testValidator(t)
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}
	recv := func(srv any, stream grpc.ServerStream) error {
		return stream.RecvMsg(new(healthpb.HealthCheckRequest))
	}

	anon := watchStream{fakeStream: fakeStream{ctx: context.Background()}, req: &healthpb.HealthCheckRequest{}}
	if err := StreamAPIKeyInterceptor(keys)(nil, anon, info, recv); err != nil {
		t.Fatalf("server-wide watch: %v", err)
	}

	scoped := watchStream{fakeStream: fakeStream{ctx: context.Background()}, req: &healthpb.HealthCheckRequest{Service: ServiceName}}
	if err := StreamAPIKeyInterceptor(keys)(nil, scoped, info, recv); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	key, err := auth.GenerateAPIKey(auth.DefaultAPIKeyPrefix, "acme", "agent7")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	scoped.ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs(APIKeyMetadata, key))
	if err := StreamAPIKeyInterceptor(keys)(nil, scoped, info, recv); err != nil {
		t.Fatalf("watch with key: %v", err)
	}
}

func TestStreamInterceptorWrapsContext(t *testing.T) {
	keys := testValidator(t)
	key, err := auth.GenerateAPIKey(auth.DefaultAPIKeyPrefix, "acme", "agent7")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ss := fakeStream{ctx: metadata.NewIncomingContext(context.Background(), metadata.Pairs(APIKeyMetadata, key))}
	info := &grpc.StreamServerInfo{FullMethod: "/cluelyguard.v1.Ingest/Stream"}

	var orgID string
	err = StreamAPIKeyInterceptor(keys)(nil, ss, info, func(srv any, stream grpc.ServerStream) error {
		var scopeErr error
		orgID, scopeErr = auth.OrgScope(stream.Context())
		return scopeErr
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if orgID != "acme" {
		t.Fatalf("expected org acme, got %q", orgID)
	}

	ss = fakeStream{ctx: context.Background()}
	err = StreamAPIKeyInterceptor(keys)(nil, ss, info, func(any, grpc.ServerStream) error { return nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}
