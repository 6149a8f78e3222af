// Package viewer rebuilds conversation logs from the transcript event
// stream, one merge engine per activation.
package viewer

import (
	"sync"

	"github.com/rs/zerolog"

	"concierge-widget/internal/events"
	"concierge-widget/internal/models"
	"concierge-widget/internal/observability/logging"
	"concierge-widget/internal/observability/metrics"
	"concierge-widget/internal/service/transcript"
)

// DefaultMaxActivations bounds how many conversations are kept in memory.
const DefaultMaxActivations = 50

// Broadcaster receives every rebuilt log.
type Broadcaster interface {
	Broadcast(v any) error
}

// Update is the payload broadcast after each applied event.
type Update struct {
	ActivationID string                     `json:"activationId"`
	Log          []models.TranscriptSegment `json:"log"`
}

type conversation struct {
	engine      *transcript.Engine
	unsubscribe func()
}

// Board tracks conversations by activation ID. Safe for concurrent use by
// the partial and final consumers.
type Board struct {
	out     Broadcaster
	max     int
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu    sync.Mutex
	convs map[string]*conversation
	order []string
}

// NewBoard creates a board. max <= 0 means DefaultMaxActivations.
func NewBoard(out Broadcaster, max int, m *metrics.Metrics) *Board {
	if max <= 0 {
		max = DefaultMaxActivations
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Board{
		out:     out,
		max:     max,
		metrics: m,
		logger:  logging.WithComponent("viewer"),
		convs:   make(map[string]*conversation),
	}
}

// Handle applies one event to its activation's log.
func (b *Board) Handle(ev events.TranscriptEvent) {
	seg := ev.Segment()
	if !seg.Speaker.Valid() {
		b.logger.Warn().Str("speaker", ev.Speaker).Str("segmentId", ev.SegmentID).Msg("Event with unknown speaker")
		return
	}

	engine := b.engine(ev.ActivationID)
	if err := engine.Apply(seg); err != nil {
		// Redelivery and out-of-order partials after a final land here.
		b.logger.Debug().Err(err).Str("activationId", ev.ActivationID).Str("segmentId", ev.SegmentID).Msg("Event not applied")
	}
}

// Log returns the current log of an activation.
func (b *Board) Log(activationID string) ([]models.TranscriptSegment, bool) {
	b.mu.Lock()
	c, ok := b.convs[activationID]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	return c.engine.Log(), true
}

// Activations returns the tracked activation IDs, oldest first.
func (b *Board) Activations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

func (b *Board) engine(id string) *transcript.Engine {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.convs[id]; ok {
		return c.engine
	}

	engine := transcript.NewEngine(transcript.WithMetrics(b.metrics))
	unsubscribe := engine.Subscribe(func(log []models.TranscriptSegment) {
		if err := b.out.Broadcast(Update{ActivationID: id, Log: log}); err != nil {
			b.logger.Warn().Err(err).Str("activationId", id).Msg("Broadcast failed")
		}
	})
	b.convs[id] = &conversation{engine: engine, unsubscribe: unsubscribe}
	b.order = append(b.order, id)

	for len(b.order) > b.max {
		oldest := b.order[0]
		b.order = b.order[1:]
		if c, ok := b.convs[oldest]; ok {
			c.unsubscribe()
			delete(b.convs, oldest)
		}
	}

	b.logger.Info().Str("activationId", id).Int("tracked", len(b.order)).Msg("New conversation")
	return engine
}
