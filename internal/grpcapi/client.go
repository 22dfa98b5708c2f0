package grpcapi

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client is the agent side of the gRPC listener. Every call it makes carries
// the agent's API key.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial creates a client for target. Without options the transport is
// insecure, which is only appropriate for local listeners.
func Dial(target, apiKey string, opts ...grpc.DialOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("grpcapi: api key required")
	}
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{key: apiKey}))
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Conn exposes the underlying connection for additional service stubs.
func (c *Client) Conn() *grpc.ClientConn { return c.conn }

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Ready reports whether the server's ingest service is SERVING. The check is
// keyed, so a rejected key surfaces as codes.Unauthenticated.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

type apiKeyCredentials struct {
	key string
}

func (c apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{APIKeyMetadata: c.key}, nil
}

// RequireTransportSecurity is false so agents can reach a plaintext listener
// behind a TLS-terminating proxy.
func (apiKeyCredentials) RequireTransportSecurity() bool { return false }
