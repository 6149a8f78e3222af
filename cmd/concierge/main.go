// Command concierge runs the assistant widget in a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"concierge-widget/internal/app"
	"concierge-widget/internal/config"
	"concierge-widget/internal/credential"
	"concierge-widget/internal/events"
	"concierge-widget/internal/mirror"
	"concierge-widget/internal/models"
	"concierge-widget/internal/observability"
	"concierge-widget/internal/observability/metrics"
	"concierge-widget/internal/service/session"
	"concierge-widget/internal/store"
	"concierge-widget/internal/transport/livekit"
	"concierge-widget/internal/transport/mock"
	"concierge-widget/internal/ui"
	"concierge-widget/internal/widget"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	transportName := pflag.String("transport", "livekit", "session transport: livekit or mock")
	headless := pflag.Bool("headless", false, "log the conversation instead of showing the terminal UI")
	mirrorAddr := pflag.String("mirror-addr", "", "serve the live view over WebSocket on this address (e.g. :8090)")
	offline := pflag.Bool("offline", false, "skip the credential endpoint and use --token")
	token := pflag.String("token", "", "pre-minted session token for --offline")
	logFile := pflag.String("log-file", "concierge.log", "log destination while the terminal UI is shown")
	pflag.StringVar(&cfg.Widget.LocalIdentity, "identity", cfg.Widget.LocalIdentity, "local participant identity")
	pflag.StringVar(&cfg.Widget.RemoteIdentity, "agent", cfg.Widget.RemoteIdentity, "agent participant identity")
	pflag.StringVar(&cfg.Widget.CredentialEndpoint, "credential-endpoint", cfg.Widget.CredentialEndpoint, "token endpoint URL")
	pflag.StringVar(&cfg.Widget.ServerURL, "server-url", cfg.Widget.ServerURL, "LiveKit server URL")
	pflag.Parse()

	var out io.Writer = os.Stdout
	if !*headless {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	a := app.New("concierge", cfg, out)
	if err := a.Start(); err != nil {
		a.Logger.Fatal().Err(err).Msg("Startup failed")
	}
	defer a.Shutdown()

	if err := run(a, runOptions{
		transport:  *transportName,
		headless:   *headless,
		mirrorAddr: *mirrorAddr,
		offline:    *offline,
		token:      *token,
	}); err != nil {
		a.Logger.Error().Err(err).Msg("Concierge exited with error")
		os.Exit(1)
	}
}

type runOptions struct {
	transport  string
	headless   bool
	mirrorAddr string
	offline    bool
	token      string
}

func run(a *app.Application, opts runOptions) error {
	cfg := a.Cfg
	m := metrics.DefaultMetrics

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Service.MetricsAddr != "" {
		obs := observability.NewServer(cfg.Service.MetricsAddr, nil)
		obs.Start()
		defer shutdown(obs.Shutdown)
	}

	var transport session.Transport
	switch opts.transport {
	case "livekit":
		transport = livekit.New()
	case "mock":
		transport = mock.New(cfg.Widget.RemoteIdentity)
	default:
		return fmt.Errorf("unknown transport %q", opts.transport)
	}

	var creds session.CredentialSource
	if opts.offline {
		tok := opts.token
		if tok == "" && opts.transport == "mock" {
			tok = "offline"
		}
		creds = credential.Static{Token: tok, ServerURL: cfg.Widget.ServerURL}
	} else {
		creds = credential.NewFetcher(cfg.Widget.CredentialEndpoint, cfg.Widget.ServerURL,
			credential.WithTimeout(cfg.Timeouts.Credential),
			credential.WithMetrics(m))
	}

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	}, events.WithMetrics(m))
	defer publisher.Close()

	wopts := []widget.Option{
		widget.WithEventSink(publisher),
		widget.WithBarCount(cfg.Widget.BarCount),
		widget.WithMetrics(m),
	}
	if cfg.Archive.Path != "" {
		st, err := store.Open(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer st.Close()
		wopts = append(wopts, widget.WithArchive(st))
	}

	w := widget.New(session.Config{
		LocalIdentity:      cfg.Widget.LocalIdentity,
		RemoteIdentity:     cfg.Widget.RemoteIdentity,
		CredentialEndpoint: cfg.Widget.CredentialEndpoint,
		ServerURL:          cfg.Widget.ServerURL,
		CredentialTimeout:  cfg.Timeouts.Credential,
		JoinTimeout:        cfg.Timeouts.Join,
	}, creds, transport, wopts...)
	defer w.Wait()
	defer w.Close()

	if opts.mirrorAddr != "" {
		hub := mirror.NewHub()
		go hub.Run(ctx)
		unsubscribe := w.Subscribe(func(v widget.View) {
			if err := hub.Broadcast(v); err != nil {
				log.Debug().Err(err).Msg("Mirror broadcast dropped")
			}
		})
		defer unsubscribe()

		r := chi.NewRouter()
		r.Handle("/ws", hub)
		srv := &http.Server{Addr: opts.mirrorAddr, Handler: r}
		go func() {
			a.Logger.Info().Str("addr", opts.mirrorAddr).Msg("Serving live view mirror")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error().Err(err).Msg("Mirror server error")
			}
		}()
		defer shutdown(srv.Shutdown)
	}

	if opts.headless {
		return runHeadless(ctx, w, a.Logger)
	}
	return ui.Run(ctx, w)
}

// runHeadless opens the widget once and logs final entries until ctx ends
// or the session ends.
func runHeadless(ctx context.Context, w *widget.Widget, logger zerolog.Logger) error {
	logged := make(map[string]bool)
	ended := make(chan struct{}, 1)
	unsubscribe := w.Subscribe(func(v widget.View) {
		for _, seg := range v.Log {
			if !seg.IsFinal || logged[seg.ID] {
				continue
			}
			logged[seg.ID] = true
			logger.Info().
				Str("speaker", string(seg.Speaker)).
				Time("at", seg.FirstReceivedTime).
				Msg(seg.Text)
		}
		if v.Phase == widget.PhaseEnded || v.Phase == widget.PhaseUnavailable {
			select {
			case ended <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := w.Open(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ended:
			v := w.View()
			logger.Warn().Str("state", v.State).Str("error", v.Error).Msg(v.Message)
			return nil
		case <-ticker.C:
			if w.View().SessionState == models.StateConnected {
				w.Tick()
			}
		}
	}
}

func shutdown(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Msg("Shutdown incomplete")
	}
}
