package models

import "fmt"

// SessionState is the lifecycle state of one widget activation.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SessionCredential is the bearer token plus the server URL needed to join.
type SessionCredential struct {
	Token     string
	ServerURL string
}

// TrackKind is the media type of a publication.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackSource is the capture source a publication was published from.
type TrackSource string

const (
	SourceCamera     TrackSource = "camera"
	SourceMicrophone TrackSource = "microphone"
	SourceScreen     TrackSource = "screen_share"
	SourceUnknown    TrackSource = "unknown"
)

// TrackPublication is a named, typed media source owned by a participant.
type TrackPublication struct {
	SID                 string      `json:"sid"`
	Name                string      `json:"name"`
	Kind                TrackKind   `json:"kind"`
	Source              TrackSource `json:"source"`
	ParticipantIdentity string      `json:"participantIdentity"`
	ParticipantName     string      `json:"participantName"`
	Local               bool        `json:"local"`
	Subscribed          bool        `json:"subscribed"`
}

// ParticipantHandle is a connection endpoint in a session.
type ParticipantHandle struct {
	Identity   string             `json:"identity"`
	Name       string             `json:"name"`
	Local      bool               `json:"local"`
	Active     bool               `json:"active"`
	AudioLevel float32            `json:"audioLevel"`
	Attributes map[string]string  `json:"attributes,omitempty"`
	Tracks     []TrackPublication `json:"tracks,omitempty"`
}

// AgentStateAttribute is the participant attribute carrying the agent's state.
const AgentStateAttribute = "lk.agent.state"
