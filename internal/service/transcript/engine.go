package transcript

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"concierge-widget/internal/models"
	"concierge-widget/internal/observability/metrics"
	"concierge-widget/internal/service/segment"
)

// ErrUnknownSpeaker is returned for segments without a valid speaker.
var ErrUnknownSpeaker = errors.New("unknown speaker")

// Listener receives every new conversation log. The slice is shared between
// listeners and must be treated as read-only.
type Listener func(log []models.TranscriptSegment)

type subscription struct {
	id int
	fn Listener
}

// Engine keeps the derived conversation log for two independently updated
// segment sequences. Every accepted change recomputes the whole log and
// replaces it in one step; listeners never see a partially merged state.
type Engine struct {
	mu        sync.Mutex
	user      *Source
	agent     *Source
	seq       *segment.Generator
	log       []models.TranscriptSegment
	version   uint64
	listeners []subscription
	nextID    int

	notifyMu sync.Mutex
	notified uint64

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine with two empty sources.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		user:    NewSource(models.SpeakerUser),
		agent:   NewSource(models.SpeakerAgent),
		seq:     segment.New(),
		log:     []models.TranscriptSegment{},
		metrics: metrics.DefaultMetrics,
		logger:  log.With().Str("component", "transcript").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply routes each segment to its speaker's source. If anything changed,
// the log is recomputed once and listeners are notified. Rejected segments
// are skipped and reported in the returned error; accepted ones still apply.
func (e *Engine) Apply(segs ...models.TranscriptSegment) error {
	var errs []error

	e.mu.Lock()
	changed := false
	for _, seg := range segs {
		src := e.source(seg.Speaker)
		if src == nil {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownSpeaker, seg.Speaker))
			e.metrics.RecordSegmentRejected(string(seg.Speaker), "unknown_speaker")
			continue
		}

		update, err := src.Apply(seg, e.seq.Sequence)
		if err != nil {
			errs = append(errs, err)
			e.metrics.RecordSegmentRejected(string(src.Speaker()), rejectReason(err))
			e.logger.Warn().
				Err(err).
				Str("speaker", string(src.Speaker())).
				Str("segmentId", seg.ID).
				Msg("Segment update rejected")
			continue
		}
		if update == UpdateNone {
			continue
		}
		e.metrics.RecordSegmentApplied(string(src.Speaker()), update.String())
		changed = true
	}

	if !changed {
		e.mu.Unlock()
		return errors.Join(errs...)
	}

	version, snapshot, listeners := e.recomputeLocked()
	e.mu.Unlock()

	e.notify(version, snapshot, listeners)
	return errors.Join(errs...)
}

// Log returns a copy of the current conversation log.
func (e *Engine) Log() []models.TranscriptSegment {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.TranscriptSegment, len(e.log))
	copy(out, e.log)
	return out
}

// Sources returns copies of the user and agent sequences.
func (e *Engine) Sources() (user, agent []models.TranscriptSegment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.user.Segments(), e.agent.Segments()
}

// Subscribe registers l for log updates and returns a function removing it.
func (e *Engine) Subscribe(l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, subscription{id: id, fn: l})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.listeners {
			if s.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// Reset discards both sources and publishes an empty log.
// Used when a new activation starts.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.user = NewSource(models.SpeakerUser)
	e.agent = NewSource(models.SpeakerAgent)
	version, snapshot, listeners := e.recomputeLocked()
	e.mu.Unlock()

	e.notify(version, snapshot, listeners)
}

func (e *Engine) source(s models.Speaker) *Source {
	switch s {
	case models.SpeakerUser:
		return e.user
	case models.SpeakerAgent:
		return e.agent
	default:
		return nil
	}
}

func (e *Engine) recomputeLocked() (uint64, []models.TranscriptSegment, []subscription) {
	e.log = Merge(e.user.Segments(), e.agent.Segments())
	e.version++
	e.metrics.RecordLogRecompute(len(e.log))

	listeners := make([]subscription, len(e.listeners))
	copy(listeners, e.listeners)
	return e.version, e.log, listeners
}

// notify delivers snapshot unless a newer version was already delivered.
func (e *Engine) notify(version uint64, snapshot []models.TranscriptSegment, listeners []subscription) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	if version <= e.notified {
		return
	}
	e.notified = version
	for _, s := range listeners {
		s.fn(snapshot)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, segment.ErrEmptySegmentID):
		return "empty_id"
	case errors.Is(err, segment.ErrRevisionAfterFinal), errors.Is(err, segment.ErrSegmentFinal):
		return "after_final"
	default:
		return "other"
	}
}
