// Package presence picks the remote participant's camera track out of the
// live set of publications.
package presence

import (
	"sync"

	"github.com/rs/zerolog"

	"concierge-widget/internal/models"
	"concierge-widget/internal/observability/logging"
	"concierge-widget/internal/observability/metrics"
)

// Select returns the first remote camera publication owned by identity.
// ok is false when there is none; callers render a placeholder.
func Select(tracks []models.TrackPublication, identity string) (pub models.TrackPublication, ok bool) {
	if identity == "" {
		return models.TrackPublication{}, false
	}
	for _, t := range tracks {
		if t.Local || t.Kind != models.TrackKindVideo || t.Source != models.SourceCamera {
			continue
		}
		if t.ParticipantIdentity == identity || t.ParticipantName == identity {
			return t, true
		}
	}
	return models.TrackPublication{}, false
}

// Selection is the outcome of one evaluation.
type Selection struct {
	Track   models.TrackPublication
	Present bool
}

// Selector re-evaluates Select on every track set change and reports when
// the selected publication changes.
type Selector struct {
	identity string
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu        sync.Mutex
	current   Selection
	listeners []func(Selection)
}

// NewSelector creates a Selector for the remote identity.
func NewSelector(identity string, m *metrics.Metrics) *Selector {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Selector{
		identity: identity,
		metrics:  m,
		logger:   logging.WithComponent("presence").With().Str("remoteIdentity", identity).Logger(),
	}
}

// OnChange registers fn for selection changes.
func (s *Selector) OnChange(fn func(Selection)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Current returns the latest selection.
func (s *Selector) Current() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update evaluates tracks and returns the new selection and whether it
// differs from the previous one.
func (s *Selector) Update(tracks []models.TrackPublication) (Selection, bool) {
	pub, ok := Select(tracks, s.identity)
	next := Selection{Track: pub, Present: ok}

	s.mu.Lock()
	if next == s.current {
		s.mu.Unlock()
		return next, false
	}
	prev := s.current
	s.current = next
	listeners := append(([]func(Selection))(nil), s.listeners...)
	s.mu.Unlock()

	s.metrics.RecordTrackSelection(next.Present)
	switch {
	case next.Present:
		s.logger.Info().Str("trackSid", next.Track.SID).Msg("Remote video selected")
	case prev.Present:
		s.logger.Info().Str("trackSid", prev.Track.SID).Msg("Remote video gone, showing placeholder")
	}

	for _, fn := range listeners {
		fn(next)
	}
	return next, true
}

// Reset clears the selection without notifying.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = Selection{}
}
