// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Service       ServiceConfig
	Widget        WidgetConfig
	Timeouts      TimeoutConfig
	LiveKit       LiveKitConfig
	Kafka         KafkaConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
}

// ServiceConfig identifies the process and its listeners.
type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	GRPCPort    string
	MetricsAddr string
}

// WidgetConfig is the session configuration handed to the session manager.
type WidgetConfig struct {
	LocalIdentity      string
	RemoteIdentity     string
	CredentialEndpoint string
	ServerURL          string
	BarCount           int
}

// TimeoutConfig bounds the credential fetch and the session join.
type TimeoutConfig struct {
	Credential time.Duration
	Join       time.Duration
}

// LiveKitConfig is used by the dev credential endpoint to mint tokens.
type LiveKitConfig struct {
	APIKey    string
	APISecret string
	Room      string
	TokenTTL  time.Duration
}

// KafkaConfig configures transcript event publishing.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// ArchiveConfig configures the conversation archive. An empty path disables it.
type ArchiveConfig struct {
	Path string
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. Unparseable values fall
// back to defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-concierge-widget")

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
		Widget: WidgetConfig{
			LocalIdentity:      envOrDefault("WIDGET_LOCAL_IDENTITY", "guest"),
			RemoteIdentity:     envOrDefault("WIDGET_REMOTE_IDENTITY", "concierge-agent"),
			CredentialEndpoint: envOrDefault("WIDGET_CREDENTIAL_ENDPOINT", "http://localhost:8080/api/getToken"),
			ServerURL:          envOrDefault("LIVEKIT_URL", "ws://localhost:7880"),
			BarCount:           envOrDefaultInt("WIDGET_BAR_COUNT", 5),
		},
		Timeouts: TimeoutConfig{
			Credential: envOrDefaultDuration("CREDENTIAL_TIMEOUT", 10*time.Second),
			Join:       envOrDefaultDuration("JOIN_TIMEOUT", 15*time.Second),
		},
		LiveKit: LiveKitConfig{
			APIKey:    os.Getenv("LIVEKIT_API_KEY"),
			APISecret: os.Getenv("LIVEKIT_API_SECRET"),
			Room:      envOrDefault("LIVEKIT_ROOM", "concierge"),
			TokenTTL:  envOrDefaultDuration("LIVEKIT_TOKEN_TTL", time.Hour),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "concierge.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "concierge.transcript.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Archive: ArchiveConfig{
			Path: os.Getenv("ARCHIVE_PATH"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
