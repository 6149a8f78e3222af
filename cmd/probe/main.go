// Command probe checks a running token server: gRPC health first, then one
// credential fetch the way the widget performs it.
package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"concierge-widget/internal/app"
	"concierge-widget/internal/config"
	"concierge-widget/internal/credential"
	"concierge-widget/internal/tokens"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	grpcAddr := pflag.String("grpc-addr", "localhost:"+cfg.Service.GRPCPort, "token server gRPC address")
	service := pflag.String("service", "", "health service name to check")
	pflag.StringVar(&cfg.Widget.CredentialEndpoint, "endpoint", cfg.Widget.CredentialEndpoint, "credential endpoint URL")
	pflag.StringVar(&cfg.Widget.LocalIdentity, "identity", cfg.Widget.LocalIdentity, "identity to request a token for")
	pflag.Parse()

	a := app.New("probe", cfg, nil)
	logger := a.Logger

	conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Fatal().Err(err).Str("addr", *grpcAddr).Msg("Failed to create gRPC client")
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: *service})
	if err != nil {
		logger.Error().Err(err).Str("addr", *grpcAddr).Msg("Health check failed")
		os.Exit(1)
	}
	logger.Info().Str("status", resp.GetStatus().String()).Msg("Health check")
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		os.Exit(1)
	}

	f := credential.NewFetcher(cfg.Widget.CredentialEndpoint, cfg.Widget.ServerURL,
		credential.WithTimeout(cfg.Timeouts.Credential))
	cred, err := f.Fetch(context.Background(), cfg.Widget.LocalIdentity)
	if err != nil {
		logger.Error().Err(err).Msg("Credential fetch failed")
		os.Exit(1)
	}

	event := logger.Info().
		Str("identity", cfg.Widget.LocalIdentity).
		Int("tokenBytes", len(cred.Token)).
		Str("serverUrl", cred.ServerURL)

	// With the signing secret at hand the token is verified too.
	if cfg.LiveKit.APIKey != "" && cfg.LiveKit.APISecret != "" {
		issuer := tokens.NewIssuer(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.Room, cfg.LiveKit.TokenTTL, nil)
		claims, err := issuer.Verify(cred.Token)
		if err != nil {
			logger.Error().Err(err).Msg("Token verification failed")
			os.Exit(1)
		}
		if claims.Video != nil {
			event = event.Str("room", claims.Video.Room)
		}
		if claims.ExpiresAt != nil {
			event = event.Time("expires", claims.ExpiresAt.Time)
		}
	}
	event.Msg("Credential fetched")
}
