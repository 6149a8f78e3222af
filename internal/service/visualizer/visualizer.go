// Package visualizer projects the agent's audio level and state onto a
// bar-style activity indicator.
package visualizer

import (
	"fmt"

	"concierge-widget/internal/models"
)

// DefaultBarCount is the number of bars drawn when none is configured.
const DefaultBarCount = 5

// AgentState is the assistant state shown by the indicator.
type AgentState string

const (
	StateDisconnected AgentState = "disconnected"
	StateConnecting   AgentState = "connecting"
	StateInitializing AgentState = "initializing"
	StateListening    AgentState = "listening"
	StateThinking     AgentState = "thinking"
	StateSpeaking     AgentState = "speaking"
)

// ParseAgentState maps the agent's state attribute value.
func ParseAgentState(v string) (AgentState, error) {
	switch s := AgentState(v); s {
	case StateInitializing, StateListening, StateThinking, StateSpeaking:
		return s, nil
	default:
		return "", fmt.Errorf("unknown agent state %q", v)
	}
}

// StateFor combines the session state with the agent's published state.
// Outside a connected session the session state wins.
func StateFor(session models.SessionState, attribute string) AgentState {
	switch session {
	case models.StateConnecting:
		return StateConnecting
	case models.StateConnected:
		if s, err := ParseAgentState(attribute); err == nil {
			return s
		}
		return StateInitializing
	default:
		return StateDisconnected
	}
}

// Input is everything a frame is derived from.
type Input struct {
	State AgentState
	// Level is the agent audio track's current level in [0, 1].
	Level float32
	// Present is false while the agent has no audio track.
	Present bool
	// Step advances the idle animation; any monotonically increasing
	// counter works.
	Step int
}

// Frame is one rendered indicator state.
type Frame struct {
	State     AgentState
	Bars      []float64
	Highlight []bool
	Active    bool
}

// Inert reports whether the frame draws nothing.
func (f Frame) Inert() bool {
	return !f.Active
}

const idleLevel = 0.08

// Render computes the frame for in with barCount bars. A missing audio
// track or a disconnected state yields an inert all-zero frame.
func Render(in Input, barCount int) Frame {
	if barCount <= 0 {
		barCount = DefaultBarCount
	}
	f := Frame{
		State:     in.State,
		Bars:      make([]float64, barCount),
		Highlight: make([]bool, barCount),
	}
	if !in.Present || in.State == StateDisconnected || in.State == "" {
		return f
	}
	f.Active = true

	switch in.State {
	case StateSpeaking:
		level := clamp(float64(in.Level))
		for i := range f.Bars {
			f.Bars[i] = clamp(level * weight(i, barCount))
			f.Highlight[i] = f.Bars[i] > idleLevel
		}
	case StateConnecting, StateInitializing:
		// sweep left to right
		for i := range f.Bars {
			f.Bars[i] = idleLevel
		}
		f.Highlight[positive(in.Step)%barCount] = true
	case StateThinking:
		// pulse from the center outwards
		center := barCount / 2
		ring := positive(in.Step) % (center + 1)
		for i := range f.Bars {
			f.Bars[i] = idleLevel
			if abs(i-center) == ring {
				f.Highlight[i] = true
			}
		}
	default:
		for i := range f.Bars {
			f.Bars[i] = idleLevel
		}
		f.Highlight[barCount/2] = true
	}
	return f
}

// weight shapes the bars so the center reacts most.
func weight(i, n int) float64 {
	if n == 1 {
		return 1
	}
	center := float64(n-1) / 2
	d := float64(i) - center
	if d < 0 {
		d = -d
	}
	return 1 - 0.5*d/center
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func positive(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func abs(n int) int {
	return positive(n)
}
