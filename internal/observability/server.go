package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"concierge-widget/internal/observability/logging"
)

// ReadyFunc reports whether the process can serve. A nil error means ready.
type ReadyFunc func() error

// Server exposes /metrics, /healthz and /readyz next to the widget or the
// token endpoint.
type Server struct {
	server *http.Server
	addr   string
	logger zerolog.Logger
}

// NewServer creates the endpoint server. A nil ready reports ready
// unconditionally; otherwise /readyz answers 503 with the reason.
func NewServer(addr string, ready ReadyFunc) *Server {
	logger := logging.WithComponent("observability").With().Str("addr", addr).Logger()
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Readiness check failed")
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return &Server{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Msg("Serving metrics and health endpoints")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics and health endpoints failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Stopping metrics and health endpoints")
	return s.server.Shutdown(ctx)
}
