package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"concierge-widget/internal/observability/metrics"
)

func newTestFetcher(endpoint string, opts ...Option) *Fetcher {
	opts = append([]Option{WithMetrics(metrics.NewMetrics(prometheus.NewRegistry()))}, opts...)
	return NewFetcher(endpoint, "wss://media.example.test", opts...)
}

func TestFetch_Success(t *testing.T) {
	var gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = r.URL.Query().Get("name")
		w.Write([]byte("  tok-123\n"))
	}))
	defer srv.Close()

	cred, err := newTestFetcher(srv.URL+"/api/getToken").Fetch(context.Background(), "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotName != "admin" {
		t.Errorf("expected name=admin, got %q", gotName)
	}
	if cred.Token != "tok-123" {
		t.Errorf("expected trimmed token, got %q", cred.Token)
	}
	if cred.ServerURL != "wss://media.example.test" {
		t.Errorf("expected configured server url, got %q", cred.ServerURL)
	}
}

func TestFetch_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
		},
		{
			name: "whitespace body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(" \n\t"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			cred, err := newTestFetcher(srv.URL).Fetch(context.Background(), "admin")
			if !errors.Is(err, ErrCredentialUnavailable) {
				t.Errorf("expected ErrCredentialUnavailable, got %v", err)
			}
			if cred.Token != "" {
				t.Errorf("expected no token, got %q", cred.Token)
			}
		})
	}
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher(url).Fetch(context.Background(), "admin")
	if !errors.Is(err, ErrCredentialUnavailable) {
		t.Errorf("expected ErrCredentialUnavailable, got %v", err)
	}
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := newTestFetcher(srv.URL, WithTimeout(50*time.Millisecond)).Fetch(context.Background(), "admin")
	if !errors.Is(err, ErrCredentialUnavailable) {
		t.Errorf("expected ErrCredentialUnavailable, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("fetch did not honor timeout")
	}
}

func TestFetch_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestFetcher(srv.URL).Fetch(ctx, "admin")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestFetch_MissingServerURL(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte("tok"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, "", WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))
	_, err := f.Fetch(context.Background(), "admin")
	if !errors.Is(err, ErrCredentialUnavailable) {
		t.Errorf("expected ErrCredentialUnavailable, got %v", err)
	}
	if called {
		t.Error("endpoint should not be called without a server url")
	}
}
