package events

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"concierge-widget/internal/models"
	"concierge-widget/internal/observability/metrics"
	"concierge-widget/internal/schema"
)

func newTestPublisher(cfg *Config) *Publisher {
	return New(cfg, WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPublisher(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.Enabled() {
				t.Error("expected publisher to be disabled")
			}
			if p.writer != nil {
				t.Error("expected nil writer when disabled")
			}
		})
	}
}

func TestNew_Enabled(t *testing.T) {
	p := newTestPublisher(&Config{
		Enabled:      true,
		Brokers:      []string{"localhost:9092"},
		TopicPartial: "concierge.partial",
		TopicFinal:   "concierge.final",
	})
	defer p.Close()

	if !p.Enabled() {
		t.Error("expected publisher to be enabled")
	}
	if p.writer == nil {
		t.Fatal("expected writer")
	}
	if p.writer.Topic != "" {
		t.Errorf("writer must not pin a topic, got %q", p.writer.Topic)
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:      false,
		Brokers:      []string{"localhost:9092"},
		TopicPartial: "test.partial",
		TopicFinal:   "test.final",
		Principal:    "test-principal",
	}

	p := newTestPublisher(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicPartial != "test.partial" {
		t.Errorf("expected topic partial 'test.partial', got %s", p.topicPartial)
	}
	if p.topicFinal != "test.final" {
		t.Errorf("expected topic final 'test.final', got %s", p.topicFinal)
	}
}

func TestPublisher_Disabled(t *testing.T) {
	p := newTestPublisher(&Config{Enabled: false})
	event := map[string]string{"text": "test"}

	if err := p.PublishPartial(context.Background(), "key", event); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if err := p.PublishFinal(context.Background(), "key", event); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_InvalidJSON(t *testing.T) {
	p := newTestPublisher(&Config{Enabled: false})

	// channels cannot be marshaled
	event := make(chan int)

	if err := p.PublishPartial(context.Background(), "key", event); err == nil {
		t.Error("expected error for unmarshalable partial event")
	}
	if err := p.PublishFinal(context.Background(), "key", event); err == nil {
		t.Error("expected error for unmarshalable final event")
	}
}

func TestPublisher_Close_NoWriter(t *testing.T) {
	p := newTestPublisher(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}

	var zero Publisher
	if err := zero.Close(); err != nil {
		t.Errorf("expected no error closing zero publisher, got %v", err)
	}
}

func TestPublisher_RejectsInvalidTranscriptEvent(t *testing.T) {
	p := newTestPublisher(&Config{Enabled: false})

	bad := models.TranscriptPartial{EventType: models.EventTypePartial, SegmentID: "seg-1", Speaker: "agent", Timestamp: 1}
	err := p.PublishPartial(context.Background(), "act-1", bad)
	if !errors.Is(err, schema.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent for missing activation id, got %v", err)
	}
}
