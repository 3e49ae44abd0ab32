// Package trace - gRPC server interceptors for trace extraction.
package trace

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor continues the caller's trace, or starts one, and
// echoes the trace IDs back in the response header.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, tc := extractMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.New(tc.ToMap()))

		start := time.Now()
		resp, err := handler(ctx, req)
		Logger(ctx).Debug("grpc call", "method", info.FullMethod,
			"code", status.Code(err).String(), "duration", time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor does the same for streaming calls such as health
// Watch.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, tc := extractMetadata(ss.Context())
		_ = ss.SetHeader(metadata.New(tc.ToMap()))

		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		slog.Debug("grpc stream closed", "method", info.FullMethod, "trace_id", tc.TraceID,
			"code", status.Code(err).String())
		return err
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

// extractMetadata reads trace context from incoming gRPC metadata.
func extractMetadata(ctx context.Context) (context.Context, Context) {
	m := make(map[string]string, 3)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, k := range []string{TraceIDKey, SpanIDKey, SessionIDKey} {
			if v := md.Get(k); len(v) > 0 {
				m[k] = v[0]
			}
		}
	}
	tc := FromMap(m)
	return WithContext(ctx, tc), tc
}

// InjectGRPC attaches the trace context to outgoing gRPC metadata, starting
// a new trace when ctx carries none.
func InjectGRPC(ctx context.Context) context.Context {
	ctx, tc := EnsureContext(ctx)
	kv := make([]string, 0, 8)
	for k, v := range NewChild(tc).ToMap() {
		kv = append(kv, k, v)
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}
