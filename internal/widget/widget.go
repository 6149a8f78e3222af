// Package widget composes the session manager, transcript engine, track
// selector and activity visualizer into the assistant widget.
package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"concierge-widget/internal/events"
	"concierge-widget/internal/models"
	"concierge-widget/internal/observability/logging"
	"concierge-widget/internal/observability/metrics"
	"concierge-widget/internal/service/presence"
	"concierge-widget/internal/service/session"
	"concierge-widget/internal/service/transcript"
	"concierge-widget/internal/service/visualizer"
)

var (
	// ErrNotRetryable is returned by Retry outside the unavailable and ended phases.
	ErrNotRetryable = errors.New("nothing to retry")
	// ErrAlreadyOpen is returned by Open while an activation is running.
	ErrAlreadyOpen = errors.New("widget already open")
)

// Archiver stores the final conversation of an activation.
type Archiver interface {
	SaveConversation(ctx context.Context, activationID string, startedAt time.Time, entries []models.TranscriptSegment) error
}

// Widget is the assistant widget. Open and Retry block for the duration of
// the credential fetch and join; Close may be called concurrently to cancel.
type Widget struct {
	cfg      session.Config
	manager  *session.Manager
	engine   *transcript.Engine
	selector *presence.Selector
	barCount int
	archive  Archiver
	sink     events.Sink
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu         sync.Mutex
	view       View
	version    uint64
	startedAt  time.Time
	publisher  *events.LogPublisher
	finished   bool
	agent      agentInfo
	step       int
	cancel     context.CancelFunc
	listeners  map[int]func(View)
	nextListen int

	notifyMu sync.Mutex
	notified uint64

	wg sync.WaitGroup
}

type agentInfo struct {
	state   string
	level   float32
	present bool
}

// Option configures a Widget.
type Option func(*Widget)

// WithArchive stores every finished conversation in a.
func WithArchive(a Archiver) Option {
	return func(w *Widget) { w.archive = a }
}

// WithEventSink publishes transcript events to s.
func WithEventSink(s events.Sink) Option {
	return func(w *Widget) { w.sink = s }
}

// WithBarCount sets the number of visualizer bars.
func WithBarCount(n int) Option {
	return func(w *Widget) { w.barCount = n }
}

// WithMetrics sets the metrics sink for the widget and its components.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Widget) { w.metrics = m }
}

// WithLogger sets the widget logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Widget) { w.logger = l }
}

// New builds a closed widget.
func New(cfg session.Config, creds session.CredentialSource, transport session.Transport, opts ...Option) *Widget {
	w := &Widget{
		cfg:       cfg,
		barCount:  visualizer.DefaultBarCount,
		metrics:   metrics.DefaultMetrics,
		logger:    log.With().Str("component", "widget").Logger(),
		listeners: make(map[int]func(View)),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.manager = session.NewManager(cfg, creds, transport,
		session.WithMetrics(w.metrics),
		session.WithLogger(w.logger.With().Str("component", "session").Logger()))
	w.engine = transcript.NewEngine(
		transcript.WithMetrics(w.metrics),
		transcript.WithLogger(w.logger.With().Str("component", "transcript").Logger()))
	w.selector = presence.NewSelector(cfg.RemoteIdentity, w.metrics)

	w.view = View{
		Phase:        PhaseClosed,
		SessionState: models.StateIdle,
		State:        models.StateIdle.String(),
		Log:          []models.TranscriptSegment{},
		AgentState:   visualizer.StateDisconnected,
		Activity:     visualizer.Render(visualizer.Input{}, w.barCount),
	}

	w.manager.OnStateChange(w.onState)
	w.manager.OnSnapshot(w.onSnapshot)
	w.manager.OnTranscript(w.onTranscript)
	w.engine.Subscribe(w.onLog)

	return w
}

// Manager exposes the session manager.
func (w *Widget) Manager() *session.Manager {
	return w.manager
}

// View returns the current view.
func (w *Widget) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view
}

// Subscribe registers fn for every view change and returns a function
// removing it. A panicking listener is logged and skipped.
//
// Listeners run while view delivery is serialized, so fn must not call
// Open, Retry, Close or Tick synchronously; those emit a view and would
// deadlock. Hand such calls off to another goroutine. View is safe.
func (w *Widget) Subscribe(fn func(View)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextListen++
	id := w.nextListen
	w.listeners[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	}
}

// Open starts a new activation: fetch the credential, then join.
func (w *Widget) Open(ctx context.Context) error {
	w.mu.Lock()
	switch w.view.Phase {
	case PhaseAwaitingCredential, PhaseSession:
		w.mu.Unlock()
		return ErrAlreadyOpen
	}
	// Wait for the previous activation's archive and flush.
	w.mu.Unlock()
	w.wg.Wait()
	w.mu.Lock()
	switch w.view.Phase {
	case PhaseAwaitingCredential, PhaseSession:
		w.mu.Unlock()
		return ErrAlreadyOpen
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if w.cancel != nil {
		w.cancel()
	}
	w.cancel = cancel

	id := uuid.NewString()
	w.startedAt = time.Now()
	w.finished = false
	w.agent = agentInfo{}
	w.step = 0
	if w.sink != nil {
		w.publisher = events.NewLogPublisher(w.sink, id)
	} else {
		w.publisher = nil
	}
	w.view = View{
		ActivationID: id,
		Phase:        PhaseAwaitingCredential,
		SessionState: models.StateIdle,
		Message:      MessageConnecting,
		Log:          []models.TranscriptSegment{},
	}
	w.refreshLocked()
	w.mu.Unlock()
	w.emit()

	logger := logging.WithActivation(id)
	logger.Info().Str("identity", w.cfg.LocalIdentity).Msg("Widget opened")

	w.selector.Reset()
	w.engine.Reset()

	w.mu.Lock()
	stale := w.view.ActivationID != id || w.view.Phase != PhaseAwaitingCredential
	w.mu.Unlock()
	if stale {
		logger.Info().Msg("Widget closed before the session started")
		return session.ErrActivationCanceled
	}

	err := w.manager.Activate(ctx)
	if err == nil {
		return nil
	}

	w.mu.Lock()
	if w.view.ActivationID != id || w.view.Phase == PhaseClosed {
		// Close won; it owns the view and the archive.
		w.mu.Unlock()
		return err
	}
	switch {
	case errors.Is(err, session.ErrSessionTransport):
		w.view.Phase = PhaseEnded
		w.view.Message = MessageEnded
		w.setErrLocked(err)
	default:
		w.view.Phase = PhaseUnavailable
		w.view.Message = MessageUnavailable
		w.setErrLocked(err)
	}
	w.refreshLocked()
	w.mu.Unlock()
	w.emit()

	logger.Warn().Err(err).Msg("Widget activation failed")
	w.finish(id)
	return err
}

// Retry is the explicit retry offered after a failure or a dropped session.
func (w *Widget) Retry(ctx context.Context) error {
	if !w.View().CanRetry() {
		return ErrNotRetryable
	}
	return w.Open(ctx)
}

// Close is the user's close/cancel control. It cancels a pending fetch or
// join, tears the session down and hides the widget. Safe to call at any time.
func (w *Widget) Close() {
	w.mu.Lock()
	if w.view.Phase == PhaseClosed {
		w.mu.Unlock()
		return
	}
	id := w.view.ActivationID
	cancel := w.cancel
	w.cancel = nil
	w.view.Phase = PhaseClosed
	w.view.Message = ""
	w.refreshLocked()
	w.mu.Unlock()

	// Cancel before tearing down so an Open that has not reached the
	// manager yet cannot start a session behind the closed view.
	if cancel != nil {
		cancel()
	}
	w.manager.Deactivate()
	w.emit()
	w.finish(id)
}

// Tick advances the visualizer animation.
func (w *Widget) Tick() {
	w.mu.Lock()
	w.step++
	w.refreshLocked()
	w.mu.Unlock()
	w.emit()
}

// Wait blocks until background archive and publish work has finished.
func (w *Widget) Wait() {
	w.wg.Wait()
}

func (w *Widget) onState(from, to models.SessionState, err error) {
	w.mu.Lock()
	w.view.SessionState = to
	switch to {
	case models.StateConnecting, models.StateConnected:
		if w.view.Phase == PhaseAwaitingCredential {
			w.view.Phase = PhaseSession
			w.view.Message = ""
		}
	case models.StateDisconnected:
		if w.view.Phase == PhaseSession || w.view.Phase == PhaseAwaitingCredential {
			w.view.Phase = PhaseEnded
			w.view.Message = MessageEnded
		}
		if err != nil {
			w.setErrLocked(err)
		}
		w.agent = agentInfo{}
	}
	id := w.view.ActivationID
	w.refreshLocked()
	w.mu.Unlock()
	w.emit()

	if to == models.StateDisconnected {
		w.finish(id)
	}
}

func (w *Widget) onSnapshot(s session.Snapshot) {
	sel, _ := w.selector.Update(s.Tracks)
	agent := findAgent(s, w.cfg.RemoteIdentity)

	w.mu.Lock()
	w.view.Video = sel
	w.agent = agent
	w.refreshLocked()
	w.mu.Unlock()
	w.emit()
}

func (w *Widget) onTranscript(segs []models.TranscriptSegment) {
	if err := w.engine.Apply(segs...); err != nil {
		w.logger.Warn().Err(err).Int("segments", len(segs)).Msg("Some transcript updates were rejected")
	}
}

func (w *Widget) onLog(entries []models.TranscriptSegment) {
	w.mu.Lock()
	w.view.Log = entries
	pub := w.publisher
	w.refreshLocked()
	w.mu.Unlock()

	if pub != nil {
		pub.Observe(entries)
	}
	w.emit()
}

func (w *Widget) setErrLocked(err error) {
	w.view.Err = err
	if err != nil {
		w.view.Error = err.Error()
	} else {
		w.view.Error = ""
	}
}

// refreshLocked recomputes derived fields and bumps the view version.
func (w *Widget) refreshLocked() {
	w.view.State = w.view.SessionState.String()
	w.view.AgentState = visualizer.StateFor(w.view.SessionState, w.agent.state)
	w.view.Activity = visualizer.Render(visualizer.Input{
		State:   w.view.AgentState,
		Level:   w.agent.level,
		Present: w.agent.present && w.view.Phase == PhaseSession,
		Step:    w.step,
	}, w.barCount)
	if w.view.Phase == PhaseSession && !w.view.Video.Present && w.view.SessionState == models.StateConnected {
		w.view.Message = MessageWaiting
	} else if w.view.Message == MessageWaiting {
		w.view.Message = ""
	}
	w.version++
}

// emit delivers the latest view unless a newer one was already delivered.
func (w *Widget) emit() {
	w.mu.Lock()
	version, view := w.version, w.view
	listeners := make([]func(View), 0, len(w.listeners))
	for _, fn := range w.listeners {
		listeners = append(listeners, fn)
	}
	w.mu.Unlock()

	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()
	if version <= w.notified {
		return
	}
	w.notified = version
	for _, fn := range listeners {
		w.safeCall(fn, view)
	}
}

func (w *Widget) safeCall(fn func(View), v View) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("Widget listener panicked")
		}
	}()
	fn(v)
}

// finish archives the log and flushes transcript events for activation id,
// once, in the background.
func (w *Widget) finish(id string) {
	w.mu.Lock()
	if w.finished || w.view.ActivationID != id || id == "" {
		w.mu.Unlock()
		return
	}
	w.finished = true
	pub := w.publisher
	w.publisher = nil
	started := w.startedAt
	entries := w.view.Log
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		logger := logging.WithActivation(id)

		if pub != nil {
			pub.Close()
		}
		if w.archive != nil && len(entries) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := w.archive.SaveConversation(ctx, id, started, entries); err != nil {
				logger.Error().Err(err).Msg("Failed to archive conversation")
				return
			}
			logger.Info().Int("entries", len(entries)).Msg("Conversation archived")
		}
	}()
}

// findAgent picks the assistant among remote participants: the configured
// identity first, then anyone publishing an agent state.
func findAgent(s session.Snapshot, remote string) agentInfo {
	var agent *models.ParticipantHandle
	for i := range s.Participants {
		p := &s.Participants[i]
		if p.Local || p.Identity == s.LocalIdentity {
			continue
		}
		if p.Identity == remote || p.Name == remote {
			agent = p
			break
		}
		if _, ok := p.Attributes[models.AgentStateAttribute]; ok && agent == nil {
			agent = p
		}
	}
	if agent == nil {
		return agentInfo{}
	}

	info := agentInfo{
		state: agent.Attributes[models.AgentStateAttribute],
		level: agent.AudioLevel,
	}
	for _, t := range s.Tracks {
		if t.ParticipantIdentity == agent.Identity && t.Kind == models.TrackKindAudio && !t.Local && t.Subscribed {
			info.present = true
			break
		}
	}
	return info
}
