package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/mosmo/internal/logging"
)

// RunIDMetadataKey carries a caller-chosen run ID.
const RunIDMetadataKey = "x-run-id"

// RunIDUnaryServerInterceptor ensures a run_id is present on the context,
// sourcing it from inbound metadata if provided, and attaches a per-call
// logger annotated with run_id and method.
func RunIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, RunIDMetadataKey); incoming != "" {
				ctx = logging.ContextWithRunID(ctx, incoming)
			}
		}

		ctx, callLog := logging.WithRunLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, callLog)

		return handler(ctx, req)
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
