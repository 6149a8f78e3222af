// Package events streams transcript updates to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"concierge-widget/internal/observability/metrics"
	"concierge-widget/internal/schema"
)

// Publisher writes transcript events to a partial and a final topic.
// Without brokers it runs in log-only mode.
type Publisher struct {
	writer       *kafka.Writer
	principal    string
	topicPartial string
	topicFinal   string
	enabled      bool
	validator    *schema.Validator
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// New creates a publisher. A nil or disabled config, or one without brokers,
// yields a log-only publisher.
func New(cfg *Config, opts ...Option) *Publisher {
	p := &Publisher{
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
		logger:    log.With().Str("component", "events").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg == nil {
		p.logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}
	p.principal = cfg.Principal
	p.topicPartial = cfg.TopicPartial
	p.topicFinal = cfg.TopicFinal

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	// Topic is set per message so one writer serves both topics.
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.enabled = true

	p.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishPartial publishes to the partial topic. Messages with the same key
// land on the same partition, so per-activation order is kept.
func (p *Publisher) PublishPartial(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.topicPartial, "partial", key, event)
}

// PublishFinal publishes to the final topic.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.topicFinal, "final", key, event)
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Rejected invalid event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || p.writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}
