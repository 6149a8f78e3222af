// Package observability instruments the token server: gRPC health
// interceptors and the metrics/health HTTP endpoints.
package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"concierge-widget/internal/observability/metrics"
)

// splitMethod turns "/grpc.health.v1.Health/Check" into its service and
// method parts.
func splitMethod(full string) (service, method string) {
	full = strings.TrimPrefix(full, "/")
	if i := strings.LastIndex(full, "/"); i >= 0 {
		return full[:i], full[i+1:]
	}
	return "unknown", full
}

func peerAddr(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

// UnaryServerInterceptor records every unary call, in practice health
// Check polls from the orchestrator. Successful checks log at debug so
// polling does not flood the log; failures are warnings.
func UnaryServerInterceptor(m *metrics.Metrics, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		code := status.Code(err)
		m.RecordGRPCRequest(info.FullMethod, code.String(), duration.Seconds())

		service, method := splitMethod(info.FullMethod)
		ev := logger.Debug()
		if code != codes.OK {
			ev = logger.Warn().Err(err)
		}
		ev.Str("grpcService", service).
			Str("method", method).
			Str("peer", peerAddr(ctx)).
			Str("code", code.String()).
			Dur("duration", duration).
			Msg("Health check served")

		return resp, err
	}
}

// StreamServerInterceptor records health Watch streams, the only streams
// the token server serves. A watcher staying connected for the life of the
// process is normal, so only the close is logged at info.
func StreamServerInterceptor(m *metrics.Metrics, logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		var ctx context.Context
		if ss != nil {
			ctx = ss.Context()
		}
		service, method := splitMethod(info.FullMethod)
		l := logger.With().
			Str("grpcService", service).
			Str("method", method).
			Str("peer", peerAddr(ctx)).
			Logger()
		l.Debug().Msg("Health watcher connected")

		start := time.Now()
		err := handler(srv, ss)

		duration := time.Since(start)
		code := status.Code(err)
		m.RecordGRPCRequest(info.FullMethod, code.String(), duration.Seconds())

		l.Info().
			Str("code", code.String()).
			Dur("watched", duration).
			Bool("clean", err == nil).
			Msg("Health watcher disconnected")

		return err
	}
}
