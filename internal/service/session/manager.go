// Package session owns the lifecycle of one real-time media session per
// widget activation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"concierge-widget/internal/models"
	"concierge-widget/internal/observability/metrics"
	"concierge-widget/internal/service/presence"
)

var (
	// ErrSessionTransport wraps join failures and mid-session transport errors.
	ErrSessionTransport = errors.New("session transport error")
	// ErrAlreadyActive is returned by Activate while an activation is in progress.
	ErrAlreadyActive = errors.New("session already active")
	// ErrActivationCanceled is returned when Deactivate wins against a pending activation.
	ErrActivationCanceled = errors.New("activation canceled")
)

const (
	DefaultCredentialTimeout = 10 * time.Second
	DefaultJoinTimeout       = 15 * time.Second
)

// Config is the explicit session configuration.
type Config struct {
	LocalIdentity      string
	RemoteIdentity     string
	CredentialEndpoint string
	ServerURL          string
	CredentialTimeout  time.Duration
	JoinTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.CredentialTimeout <= 0 {
		c.CredentialTimeout = DefaultCredentialTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	return c
}

// Snapshot is the read-only view of the session handed to observers.
type Snapshot struct {
	State         models.SessionState
	LocalIdentity string
	Participants  []models.ParticipantHandle
	Tracks        []models.TrackPublication
}

// StateListener observes state transitions.
type StateListener func(from, to models.SessionState, err error)

// SnapshotListener observes participant and track changes.
type SnapshotListener func(Snapshot)

// TranscriptListener receives segments already tagged with their speaker.
type TranscriptListener func(segs []models.TranscriptSegment)

// Manager drives idle -> connecting -> connected -> disconnected for one
// activation at a time. It is the only component that mutates the session.
//
// Listener calls are queued under the state lock and delivered in order from
// outside it, so observers may call back into the Manager.
type Manager struct {
	cfg       Config
	creds     CredentialSource
	transport Transport
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu          sync.Mutex
	state       models.SessionState
	err         error
	gen         uint64
	pendingGen  uint64 // generation of the activation still fetching, 0 if none
	cancel      context.CancelFunc
	conn        Conn
	connectedAt time.Time

	stateListeners      []StateListener
	snapshotListeners   []SnapshotListener
	transcriptListeners []TranscriptListener

	pending    []func()
	delivering bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(mgr *Manager) { mgr.logger = l }
}

// NewManager creates a Manager in the idle state.
func NewManager(cfg Config, creds CredentialSource, transport Transport, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		creds:     creds,
		transport: transport,
		metrics:   metrics.DefaultMetrics,
		logger:    log.With().Str("component", "session").Logger(),
		state:     models.StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the session configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// State returns the current session state.
func (m *Manager) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that ended or blocked the latest activation.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Pending reports whether a credential fetch is in flight.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingGen != 0
}

// OnStateChange registers l for state transitions.
func (m *Manager) OnStateChange(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateListeners = append(m.stateListeners, l)
}

// OnSnapshot registers l for participant and track changes.
func (m *Manager) OnSnapshot(l SnapshotListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotListeners = append(m.snapshotListeners, l)
}

// OnTranscript registers l for transcription segments.
func (m *Manager) OnTranscript(l TranscriptListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcriptListeners = append(m.transcriptListeners, l)
}

// Snapshot returns the current participants and tracks.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()
	return m.snapshot(conn, state)
}

func (m *Manager) snapshot(conn Conn, state models.SessionState) Snapshot {
	s := Snapshot{State: state, LocalIdentity: m.cfg.LocalIdentity}
	if conn != nil {
		s.Participants = conn.Participants()
		s.Tracks = conn.Tracks()
	}
	return s
}

// Activate fetches a credential and joins the session. It blocks until the
// session is connected, the attempt fails, or Deactivate cancels it.
//
// A credential failure leaves the state idle and returns an error wrapping
// the fetcher's error. A join failure moves to disconnected and returns
// ErrSessionTransport. A ctx that is already done returns
// ErrActivationCanceled without touching the state.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	if m.pendingGen != 0 || m.state == models.StateConnecting || m.state == models.StateConnected {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		m.metrics.RecordActivation("canceled")
		return fmt.Errorf("%w: %w", ErrActivationCanceled, err)
	}
	if m.state == models.StateDisconnected {
		m.transitionLocked(models.StateIdle)
	}
	m.err = nil
	m.gen++
	gen := m.gen
	m.pendingGen = gen
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()
	m.flush()

	defer cancel()

	logger := m.logger.With().Uint64("activation", gen).Logger()
	logger.Info().Str("identity", m.cfg.LocalIdentity).Msg("Requesting session credential")

	fetchCtx, fetchCancel := context.WithTimeout(ctx, m.cfg.CredentialTimeout)
	cred, err := m.creds.Fetch(fetchCtx, m.cfg.LocalIdentity)
	fetchCancel()

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		logger.Info().Msg("Credential result discarded, activation canceled")
		m.metrics.RecordActivation("canceled")
		return ErrActivationCanceled
	}
	m.pendingGen = 0
	if err != nil {
		m.err = err
		m.mu.Unlock()
		logger.Error().Err(err).Msg("Credential unavailable")
		m.metrics.RecordActivation("unavailable")
		return err
	}
	m.transitionLocked(models.StateConnecting)
	m.mu.Unlock()
	m.flush()

	opts := JoinOptions{
		LocalIdentity: m.cfg.LocalIdentity,
		PublishAudio:  true,
		PublishVideo:  false,
		AutoSubscribe: false,
	}
	joinCtx, joinCancel := context.WithTimeout(ctx, m.cfg.JoinTimeout)
	conn, err := m.transport.Join(joinCtx, cred, opts, &handler{m: m, gen: gen})
	joinCancel()

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		logger.Info().Msg("Join result discarded, activation canceled")
		m.metrics.RecordActivation("canceled")
		return ErrActivationCanceled
	}
	if err != nil {
		m.err = fmt.Errorf("%w: join: %v", ErrSessionTransport, err)
		m.transitionLocked(models.StateDisconnected)
		resErr := m.err
		m.mu.Unlock()
		m.flush()
		logger.Error().Err(err).Str("serverUrl", cred.ServerURL).Msg("Session join failed")
		m.metrics.RecordActivation("transport_error")
		return resErr
	}
	m.conn = conn
	m.connectedAt = time.Now()
	m.transitionLocked(models.StateConnected)
	m.mu.Unlock()
	m.flush()

	m.metrics.RecordActivation("connected")
	m.metrics.RecordSessionStart()
	logger.Info().Str("serverUrl", cred.ServerURL).Msg("Session connected")

	m.refresh(gen)
	return nil
}

// Retry starts a fresh activation after a failed or ended one. Anything
// still running is torn down first.
func (m *Manager) Retry(ctx context.Context) error {
	if m.State() != models.StateIdle || m.Pending() {
		m.Deactivate()
	}
	return m.Activate(ctx)
}

// Deactivate tears down the current activation. Pending fetch or join
// results are discarded, remote subscriptions are released and the
// connection is closed before listeners see disconnected. Calling it again
// is a no-op.
func (m *Manager) Deactivate() {
	m.teardown(0, nil)
}

// teardown ends activation gen (0 means whatever is current) with cause.
func (m *Manager) teardown(gen uint64, cause error) {
	m.mu.Lock()
	if gen != 0 && gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.state == models.StateDisconnected && m.pendingGen == 0 {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.pendingGen = 0
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	wasConnected := m.state == models.StateConnected
	connectedAt := m.connectedAt
	if cause != nil {
		m.err = cause
	}
	notify := m.setStateLocked(models.StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		for _, t := range conn.Tracks() {
			if t.Local || !t.Subscribed {
				continue
			}
			if err := conn.SetSubscribed(t.SID, false); err != nil {
				m.logger.Warn().Err(err).Str("trackSid", t.SID).Msg("Failed to release subscription")
			}
		}
		conn.Close()
	}

	m.mu.Lock()
	if notify != nil {
		m.pending = append(m.pending, notify)
	}
	m.enqueueSnapshotLocked(Snapshot{State: models.StateDisconnected, LocalIdentity: m.cfg.LocalIdentity})
	m.mu.Unlock()
	m.flush()

	if wasConnected {
		m.metrics.RecordSessionEnd(time.Since(connectedAt).Seconds())
	}
	ev := m.logger.Info()
	if cause != nil {
		ev = m.logger.Error().Err(cause)
	}
	ev.Bool("wasConnected", wasConnected).Msg("Session disconnected")
}

// refresh subscribes remote audio and the remote participant's camera of a
// connected session and publishes a snapshot.
func (m *Manager) refresh(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != models.StateConnected || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	tracks := conn.Tracks()
	for _, t := range tracks {
		if t.Local || t.Subscribed || t.Kind != models.TrackKindAudio {
			continue
		}
		if err := conn.SetSubscribed(t.SID, true); err != nil {
			m.logger.Warn().Err(err).Str("trackSid", t.SID).Msg("Failed to subscribe remote audio")
		}
	}
	// Without auto-subscribe nothing renders until the camera is requested.
	if cam, ok := presence.Select(tracks, m.cfg.RemoteIdentity); ok && !cam.Subscribed {
		if err := conn.SetSubscribed(cam.SID, true); err != nil {
			m.logger.Warn().Err(err).Str("trackSid", cam.SID).Msg("Failed to subscribe remote video")
		}
	}

	snap := m.snapshot(conn, models.StateConnected)

	m.mu.Lock()
	if gen != m.gen || m.state != models.StateConnected {
		m.mu.Unlock()
		return
	}
	m.enqueueSnapshotLocked(snap)
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) transcribe(gen uint64, identity string, segs []models.TranscriptSegment) {
	if len(segs) == 0 {
		return
	}
	speaker := models.SpeakerAgent
	if identity == m.cfg.LocalIdentity {
		speaker = models.SpeakerUser
	}
	tagged := make([]models.TranscriptSegment, len(segs))
	for i, s := range segs {
		s.Speaker = speaker
		tagged[i] = s
	}

	m.mu.Lock()
	if gen != m.gen || m.state != models.StateConnected {
		m.mu.Unlock()
		return
	}
	listeners := append([]TranscriptListener(nil), m.transcriptListeners...)
	m.pending = append(m.pending, func() {
		for _, l := range listeners {
			l(tagged)
		}
	})
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) transitionLocked(to models.SessionState) {
	if notify := m.setStateLocked(to); notify != nil {
		m.pending = append(m.pending, notify)
	}
}

// setStateLocked changes the state and returns the listener notification,
// or nil if the state did not change.
func (m *Manager) setStateLocked(to models.SessionState) func() {
	from := m.state
	if from == to {
		return nil
	}
	m.state = to
	err := m.err
	m.metrics.RecordStateTransition(from.String(), to.String())
	m.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Session state changed")

	listeners := append([]StateListener(nil), m.stateListeners...)
	return func() {
		for _, l := range listeners {
			l(from, to, err)
		}
	}
}

func (m *Manager) enqueueSnapshotLocked(s Snapshot) {
	listeners := append([]SnapshotListener(nil), m.snapshotListeners...)
	m.pending = append(m.pending, func() {
		for _, l := range listeners {
			l(s)
		}
	})
}

// flush delivers queued listener calls in the order they were queued.
// Only one goroutine delivers at a time; a nested or concurrent flush leaves
// its calls to the active deliverer.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.pending) > 0 {
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		for _, fn := range batch {
			m.call(fn)
		}
		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

func (m *Manager) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("Session listener panicked")
		}
	}()
	fn()
}

// handler binds transport callbacks to one activation.
type handler struct {
	m   *Manager
	gen uint64
}

func (h *handler) OnParticipantsChanged() {
	h.m.refresh(h.gen)
}

func (h *handler) OnTranscription(identity string, segs []models.TranscriptSegment) {
	h.m.transcribe(h.gen, identity, segs)
}

func (h *handler) OnDisconnected(err error) {
	var cause error
	if err != nil {
		cause = fmt.Errorf("%w: %v", ErrSessionTransport, err)
	}
	h.m.teardown(h.gen, cause)
}
