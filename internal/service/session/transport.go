package session

import (
	"context"

	"concierge-widget/internal/models"
)

// CredentialSource obtains the credential for one activation.
type CredentialSource interface {
	Fetch(ctx context.Context, identity string) (models.SessionCredential, error)
}

// JoinOptions controls what the local side publishes when joining.
type JoinOptions struct {
	LocalIdentity string
	PublishAudio  bool
	PublishVideo  bool
	// AutoSubscribe lets the transport subscribe remote tracks on its own.
	// The manager turns it off and subscribes after the session is connected.
	AutoSubscribe bool
}

// EventHandler receives transport notifications for one joined session.
// Calls may come from any goroutine.
type EventHandler interface {
	// OnParticipantsChanged is called when a participant joins or leaves,
	// a track is published, unpublished or (un)subscribed, or audio levels
	// or attributes change.
	OnParticipantsChanged()

	// OnTranscription delivers speech-to-text segments recognized on a track
	// owned by the participant with the given identity.
	OnTranscription(identity string, segs []models.TranscriptSegment)

	// OnDisconnected is called once when the transport drops the session.
	// err is nil for a clean remote hangup.
	OnDisconnected(err error)
}

// Conn is a joined session.
type Conn interface {
	Participants() []models.ParticipantHandle
	Tracks() []models.TrackPublication
	SetSubscribed(sid string, subscribed bool) error
	Close()
}

// Transport opens sessions.
type Transport interface {
	Join(ctx context.Context, cred models.SessionCredential, opts JoinOptions, h EventHandler) (Conn, error)
}
