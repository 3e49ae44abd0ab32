// Package grpcclient provides a client for the recorder's gRPC health service
package grpcclient

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/trace"
)

// Client wraps the health service client
type Client struct {
	conn   *grpc.ClientConn
	Health healthpb.HealthClient
}

// New creates a new health client. Extra options are appended to the
// defaults.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    DefaultKeepaliveTime,
			Timeout: DefaultKeepaliveTimeout,
		}),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeUnavailable, "dial %s", addr)
	}

	return &Client{
		conn:   conn,
		Health: healthpb.NewHealthClient(conn),
	}, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Check returns the serving status of one service
func (c *Client) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	ctx, cancel := context.WithTimeout(trace.InjectGRPC(ctx), HealthCheckTimeout)
	defer cancel()

	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, apperrors.FromGRPCError(err)
	}
	return resp.GetStatus(), nil
}

// CheckAll returns the status of the overall server and both streams
func (c *Client) CheckAll(ctx context.Context) (map[string]healthpb.HealthCheckResponse_ServingStatus, error) {
	out := make(map[string]healthpb.HealthCheckResponse_ServingStatus, 3)
	for _, svc := range []string{ServiceOverall, ServiceMic, ServiceSystem} {
		st, err := c.Check(ctx, svc)
		if err != nil && !apperrors.IsCode(err, apperrors.CodeNotFound) {
			return nil, err
		}
		out[svc] = st
	}
	return out, nil
}

// Watch streams status changes for one service until ctx is cancelled
func (c *Client) Watch(ctx context.Context, service string, onStatus func(healthpb.HealthCheckResponse_ServingStatus)) error {
	stream, err := c.Health.Watch(trace.InjectGRPC(ctx), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return apperrors.FromGRPCError(err)
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperrors.FromGRPCError(err)
		}
		onStatus(resp.GetStatus())
	}
}
