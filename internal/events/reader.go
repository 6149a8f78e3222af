package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"concierge-widget/internal/models"
)

// TranscriptEvent is the union of partial and final events as read back
// from either topic.
type TranscriptEvent struct {
	EventType    string `json:"eventType"`
	ActivationID string `json:"activationId"`
	SegmentID    string `json:"segmentId"`
	Speaker      string `json:"speaker"`
	Timestamp    int64  `json:"timestamp"`
	Text         string `json:"text"`
	Position     int    `json:"position,omitempty"`
}

// Decode parses a message value into an event.
func Decode(value []byte) (TranscriptEvent, error) {
	var ev TranscriptEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return ev, err
	}
	switch ev.EventType {
	case models.EventTypePartial, models.EventTypeFinal:
	default:
		return ev, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	if ev.ActivationID == "" || ev.SegmentID == "" {
		return ev, fmt.Errorf("event without activation or segment id")
	}
	return ev, nil
}

// Segment converts the event to a transcript segment. The event timestamp
// stands in for the first received time; the merge engine keeps the first
// one it sees for a segment.
func (ev TranscriptEvent) Segment() models.TranscriptSegment {
	return models.TranscriptSegment{
		ID:                ev.SegmentID,
		Speaker:           models.Speaker(ev.Speaker),
		Text:              ev.Text,
		FirstReceivedTime: time.UnixMilli(ev.Timestamp),
		IsFinal:           ev.EventType == models.EventTypeFinal,
	}
}

// ReaderConfig selects the topic to consume.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	// Since positions the reader this far back in time; zero reads new
	// messages only.
	Since time.Duration
}

// Consume reads cfg.Topic from partition 0 and calls fn for every valid
// event until ctx is done. Read errors are logged and retried.
func Consume(ctx context.Context, cfg ReaderConfig, fn func(TranscriptEvent)) error {
	logger := log.With().Str("component", "events").Str("topic", cfg.Topic).Logger()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   cfg.Brokers,
		Topic:     cfg.Topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if cfg.Since > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-cfg.Since)); err != nil {
			logger.Warn().Err(err).Msg("Could not rewind reader")
		}
	} else {
		reader.SetOffset(kafka.LastOffset)
	}

	logger.Info().Dur("since", cfg.Since).Msg("Consuming transcript events")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn().Err(err).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := Decode(msg.Value)
		if err != nil {
			logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping malformed event")
			continue
		}
		fn(ev)
	}
}
