// Command viewer reads the transcript topics, rebuilds each conversation
// log and pushes it to browsers over WebSocket.
package main

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"concierge-widget/internal/app"
	"concierge-widget/internal/config"
	"concierge-widget/internal/events"
	"concierge-widget/internal/mirror"
	"concierge-widget/internal/viewer"
)

//go:embed static/*
var staticFiles embed.FS

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	port := pflag.String("port", "8081", "HTTP server port")
	brokers := pflag.String("brokers", strings.Join(cfg.Kafka.Brokers, ","), "Kafka brokers (comma-separated)")
	pflag.StringVar(&cfg.Kafka.TopicPartial, "topic-partial", cfg.Kafka.TopicPartial, "partial transcript topic")
	pflag.StringVar(&cfg.Kafka.TopicFinal, "topic-final", cfg.Kafka.TopicFinal, "final transcript topic")
	since := pflag.Duration("since", time.Hour, "replay events this far back")
	pflag.Parse()

	a := app.New("viewer", cfg, nil)
	logger := a.Logger
	if err := a.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Startup failed")
	}
	defer a.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := mirror.NewHub()
	go hub.Run(ctx)

	board := viewer.NewBoard(hub, viewer.DefaultMaxActivations, nil)

	var wg sync.WaitGroup
	for _, topic := range []string{cfg.Kafka.TopicPartial, cfg.Kafka.TopicFinal} {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			err := events.Consume(ctx, events.ReaderConfig{
				Brokers: strings.Split(*brokers, ","),
				Topic:   topic,
				Since:   *since,
			}, board.Handle)
			if err != nil {
				logger.Error().Err(err).Str("topic", topic).Msg("Consumer stopped")
			}
		}(topic)
	}

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		logger.Fatal().Err(err).Msg("Static files missing")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/ws", hub)
	r.Handle("/*", http.FileServer(http.FS(staticFS)))

	srv := &http.Server{Addr: ":" + *port, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("addr", "http://localhost:"+*port).
		Str("brokers", *brokers).
		Str("topicPartial", cfg.Kafka.TopicPartial).
		Str("topicFinal", cfg.Kafka.TopicFinal).
		Msg("Transcript viewer starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("Server error")
	}
	stop()
	wg.Wait()
}
