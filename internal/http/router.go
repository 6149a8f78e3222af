package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"concierge-widget/internal/app"
	"concierge-widget/internal/tokens"
)

// TokenIssuer mints a session token for an identity.
type TokenIssuer interface {
	Issue(identity string) (string, error)
}

// NewRouter constructs the HTTP router for the token server. mirror may be
// nil, in which case /ws is not mounted.
func NewRouter(application *app.Application, issuer TokenIssuer, mirror http.Handler) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if application.StartupTime.IsZero() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/api/getToken", tokenHandler(application, issuer))

	if mirror != nil {
		r.Handle("/ws", mirror)
	}

	return r
}

// tokenHandler answers with the raw token as text/plain, the shape the
// widget's credential fetcher expects.
func tokenHandler(application *app.Application, issuer TokenIssuer) http.HandlerFunc {
	logger := application.Logger.With().Str("handler", "getToken").Logger()

	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}

		token, err := issuer.Issue(name)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, tokens.ErrMissingKeys) {
				status = http.StatusServiceUnavailable
			}
			logger.Error().Err(err).Str("identity", name).Msg("Token issue failed")
			http.Error(w, "token unavailable", status)
			return
		}

		logger.Info().Str("identity", name).Msg("Token issued")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(token))
	}
}
