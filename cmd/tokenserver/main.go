// Command tokenserver is the development credential endpoint: it mints
// LiveKit tokens at GET /api/getToken?name=<identity>.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"concierge-widget/internal/app"
	"concierge-widget/internal/config"
	apihttp "concierge-widget/internal/http"
	"concierge-widget/internal/observability"
	"concierge-widget/internal/observability/logging"
	"concierge-widget/internal/observability/metrics"
	"concierge-widget/internal/tokens"
)

// healthService is the gRPC health service name reported alongside "".
const healthService = "concierge.TokenService"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	pflag.StringVar(&cfg.Service.HTTPPort, "http-port", cfg.Service.HTTPPort, "HTTP port for the token endpoint")
	pflag.StringVar(&cfg.Service.GRPCPort, "grpc-port", cfg.Service.GRPCPort, "gRPC port for health checks")
	pflag.StringVar(&cfg.Service.MetricsAddr, "metrics-addr", cfg.Service.MetricsAddr, "observability server address")
	pflag.StringVar(&cfg.LiveKit.Room, "room", cfg.LiveKit.Room, "room granted by issued tokens")
	pflag.Parse()

	a := app.New("tokenserver", cfg, nil)
	logger := a.Logger

	if cfg.LiveKit.APIKey == "" || cfg.LiveKit.APISecret == "" {
		logger.Warn().Msg("LIVEKIT_API_KEY/LIVEKIT_API_SECRET not set; token requests will fail")
	}

	m := metrics.DefaultMetrics
	issuer := tokens.NewIssuer(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.Room, cfg.LiveKit.TokenTTL, m)

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m, logging.WithComponent("grpc"))),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m, logging.WithComponent("grpc"))),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(server)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           apihttp.NewRouter(a, issuer, nil),
		ReadHeaderTimeout: 5 * time.Second,
	}

	obs := observability.NewServer(cfg.Service.MetricsAddr, func() error {
		if a.StartupTime.IsZero() {
			return errors.New("starting")
		}
		return nil
	})

	if err := a.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Startup failed")
	}
	obs.Start()

	go func() {
		logger.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := server.Serve(lis); err != nil {
			logger.Fatal().Err(err).Msg("gRPC serve failed")
		}
	}()
	go func() {
		logger.Info().Str("port", cfg.Service.HTTPPort).Str("room", issuer.Room()).Msg("Token endpoint started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("Shutting down token server")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := obs.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Observability shutdown incomplete")
	}
	server.GracefulStop()
	a.Shutdown()
}
