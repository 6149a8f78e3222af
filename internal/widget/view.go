package widget

import (
	"concierge-widget/internal/models"
	"concierge-widget/internal/service/presence"
	"concierge-widget/internal/service/visualizer"
)

// Phase is what the widget shows at the top level.
type Phase string

const (
	// PhaseClosed: nothing rendered, the launcher only.
	PhaseClosed Phase = "closed"
	// PhaseAwaitingCredential: "connecting" affordance while the credential
	// is fetched. Cancel-able.
	PhaseAwaitingCredential Phase = "awaiting-credential"
	// PhaseUnavailable: the credential could not be obtained.
	PhaseUnavailable Phase = "unavailable"
	// PhaseSession: SessionState drives rendering.
	PhaseSession Phase = "session"
	// PhaseEnded: the session dropped; the user may retry or close.
	PhaseEnded Phase = "ended"
)

const (
	MessageConnecting  = "Connecting to support..."
	MessageUnavailable = "Cannot reach assistant"
	MessageEnded       = "Call ended"
	MessageWaiting     = "Waiting for assistant video..."
)

// View is an immutable snapshot of everything the display surface renders.
type View struct {
	ActivationID string                     `json:"activationId,omitempty"`
	Phase        Phase                      `json:"phase"`
	SessionState models.SessionState        `json:"-"`
	State        string                     `json:"sessionState"`
	Message      string                     `json:"message,omitempty"`
	Log          []models.TranscriptSegment `json:"log"`
	Video        presence.Selection         `json:"video"`
	AgentState   visualizer.AgentState      `json:"agentState"`
	Activity     visualizer.Frame           `json:"activity"`
	Err          error                      `json:"-"`
	Error        string                     `json:"error,omitempty"`
}

// CanRetry reports whether Retry is offered.
func (v View) CanRetry() bool {
	return v.Phase == PhaseUnavailable || v.Phase == PhaseEnded
}

// Open reports whether the widget panel is shown.
func (v View) Open() bool {
	return v.Phase != PhaseClosed
}
