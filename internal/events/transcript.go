package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"concierge-widget/internal/models"
	"concierge-widget/internal/observability/logging"
)

// Sink is the publishing side LogPublisher writes to.
type Sink interface {
	PublishPartial(ctx context.Context, key string, event any) error
	PublishFinal(ctx context.Context, key string, event any) error
}

type published struct {
	text  string
	final bool
}

// LogPublisher turns successive conversation logs into transcript events:
// a partial event whenever a non-final segment's text changes and exactly
// one final event per segment. Events are written from a single goroutine
// in the order the logs were observed.
type LogPublisher struct {
	sink         Sink
	activationID string
	timeout      time.Duration
	logger       zerolog.Logger

	mu     sync.Mutex
	seen   map[string]published
	queue  chan any
	closed bool
	done   chan struct{}
}

const publishQueueSize = 256

// NewLogPublisher starts a publisher for one activation. Events are keyed by
// activationID.
func NewLogPublisher(sink Sink, activationID string) *LogPublisher {
	lp := &LogPublisher{
		sink:         sink,
		activationID: activationID,
		timeout:      5 * time.Second,
		logger:       log.With().Str("component", "events").Str("activationId", activationID).Logger(),
		seen:         make(map[string]published),
		queue:        make(chan any, publishQueueSize),
		done:         make(chan struct{}),
	}
	go lp.run()
	return lp
}

// Observe diffs entries against what was already published and queues the
// resulting events. It has the shape of a transcript listener.
func (lp *LogPublisher) Observe(entries []models.TranscriptSegment) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.closed {
		return
	}

	now := time.Now().UnixMilli()
	for i, s := range entries {
		prev, ok := lp.seen[s.ID]
		if ok && prev.final {
			continue
		}
		if ok && !s.IsFinal && prev.text == s.Text {
			continue
		}
		lp.seen[s.ID] = published{text: s.Text, final: s.IsFinal}

		var ev any
		if s.IsFinal {
			ev = models.TranscriptFinal{
				EventType:    models.EventTypeFinal,
				ActivationID: lp.activationID,
				SegmentID:    s.ID,
				Speaker:      string(s.Speaker),
				Timestamp:    now,
				Text:         s.Text,
				Position:     i,
			}
		} else {
			ev = models.TranscriptPartial{
				EventType:    models.EventTypePartial,
				ActivationID: lp.activationID,
				SegmentID:    s.ID,
				Speaker:      string(s.Speaker),
				Timestamp:    now,
				Text:         s.Text,
			}
		}

		select {
		case lp.queue <- ev:
		default:
			logger := logging.WithSegment(lp.activationID, string(s.Speaker), s.ID)
			logger.Warn().Msg("Publish queue full, dropping transcript event")
		}
	}
}

func (lp *LogPublisher) run() {
	defer close(lp.done)
	for ev := range lp.queue {
		ctx, cancel := context.WithTimeout(context.Background(), lp.timeout)
		var err error
		switch e := ev.(type) {
		case models.TranscriptFinal:
			err = lp.sink.PublishFinal(ctx, lp.activationID, e)
		case models.TranscriptPartial:
			err = lp.sink.PublishPartial(ctx, lp.activationID, e)
		}
		cancel()
		if err != nil {
			lp.logger.Warn().Err(err).Msg("Transcript event not published")
		}
	}
}

// Close stops accepting logs and waits until queued events are written.
func (lp *LogPublisher) Close() {
	lp.mu.Lock()
	if lp.closed {
		lp.mu.Unlock()
		<-lp.done
		return
	}
	lp.closed = true
	close(lp.queue)
	lp.mu.Unlock()
	<-lp.done
}
