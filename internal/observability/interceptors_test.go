package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"concierge-widget/internal/observability/metrics"
)

const healthCheck = "/grpc.health.v1.Health/Check"

// logLines decodes every JSON log line written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestUnaryServerInterceptor(t *testing.T) {
	m := metrics.NewMetrics(nil)
	ic := UnaryServerInterceptor(m, zerolog.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: healthCheck}

	resp, err := ic(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "resp", nil
	})
	if err != nil || resp != "resp" {
		t.Fatalf("unexpected result %v, %v", resp, err)
	}

	_, err = ic(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}

	if got := testutil.ToFloat64(m.GRPCRequests.WithLabelValues(info.FullMethod, "OK")); got != 1 {
		t.Errorf("expected 1 OK call, got %v", got)
	}
	if got := testutil.ToFloat64(m.GRPCRequests.WithLabelValues(info.FullMethod, "Unavailable")); got != 1 {
		t.Errorf("expected 1 Unavailable call, got %v", got)
	}
}

func TestUnaryServerInterceptor_LogsCaller(t *testing.T) {
	var buf bytes.Buffer
	ic := UnaryServerInterceptor(metrics.NewMetrics(nil), zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 5000},
	})
	ic(ctx, "req", &grpc.UnaryServerInfo{FullMethod: healthCheck}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	got := lines[0]
	want := map[string]string{
		"level":       "warn",
		"grpcService": "grpc.health.v1.Health",
		"method":      "Check",
		"peer":        "10.0.0.7:5000",
		"code":        "NotFound",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %q", k, got[k], v)
		}
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func TestStreamServerInterceptor(t *testing.T) {
	m := metrics.NewMetrics(nil)
	var buf bytes.Buffer
	ic := StreamServerInterceptor(m, zerolog.New(&buf).Level(zerolog.InfoLevel))
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	ss := fakeStream{ctx: peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000},
	})}
	want := errors.New("boom")
	err := ic(nil, ss, info, func(srv interface{}, ss grpc.ServerStream) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if got := testutil.ToFloat64(m.GRPCRequests.WithLabelValues(info.FullMethod, "Unknown")); got != 1 {
		t.Errorf("expected 1 Unknown call, got %v", got)
	}

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected only the disconnect at info, got %d lines", len(lines))
	}
	if lines[0]["method"] != "Watch" || lines[0]["peer"] != "127.0.0.1:9000" || lines[0]["clean"] != false {
		t.Errorf("unexpected watcher log: %v", lines[0])
	}
}

func TestStreamServerInterceptor_NilStream(t *testing.T) {
	ic := StreamServerInterceptor(metrics.NewMetrics(nil), zerolog.Nop())
	err := ic(nil, nil, &grpc.StreamServerInfo{FullMethod: "Watch"}, func(srv interface{}, ss grpc.ServerStream) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		full, service, method string
	}{
		{"/grpc.health.v1.Health/Check", "grpc.health.v1.Health", "Check"},
		{"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo", "grpc.reflection.v1.ServerReflection", "ServerReflectionInfo"},
		{"Watch", "unknown", "Watch"},
	}
	for _, tt := range tests {
		service, method := splitMethod(tt.full)
		if service != tt.service || method != tt.method {
			t.Errorf("splitMethod(%q) = %q, %q; want %q, %q", tt.full, service, method, tt.service, tt.method)
		}
	}
}
