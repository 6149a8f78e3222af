package visualizer

import (
	"testing"

	"concierge-widget/internal/models"
)

func TestStateFor(t *testing.T) {
	tests := []struct {
		session   models.SessionState
		attribute string
		want      AgentState
	}{
		{models.StateIdle, "speaking", StateDisconnected},
		{models.StateConnecting, "", StateConnecting},
		{models.StateConnected, "", StateInitializing},
		{models.StateConnected, "bogus", StateInitializing},
		{models.StateConnected, "listening", StateListening},
		{models.StateConnected, "thinking", StateThinking},
		{models.StateConnected, "speaking", StateSpeaking},
		{models.StateDisconnected, "speaking", StateDisconnected},
	}

	for _, tt := range tests {
		got := StateFor(tt.session, tt.attribute)
		if got != tt.want {
			t.Errorf("StateFor(%s, %q) = %s, want %s", tt.session, tt.attribute, got, tt.want)
		}
	}
}

func TestRender_InertWithoutTrack(t *testing.T) {
	f := Render(Input{State: StateSpeaking, Level: 0.9, Present: false}, 5)

	if !f.Inert() {
		t.Error("expected inert frame without an audio track")
	}
	for i, b := range f.Bars {
		if b != 0 || f.Highlight[i] {
			t.Errorf("bar %d not zero: %v %v", i, b, f.Highlight[i])
		}
	}
}

func TestRender_InertWhenDisconnected(t *testing.T) {
	f := Render(Input{State: StateDisconnected, Level: 1, Present: true}, 5)
	if !f.Inert() {
		t.Error("expected inert frame when disconnected")
	}
}

func TestRender_DefaultBarCount(t *testing.T) {
	f := Render(Input{State: StateListening, Present: true}, 0)
	if len(f.Bars) != DefaultBarCount {
		t.Errorf("expected %d bars, got %d", DefaultBarCount, len(f.Bars))
	}
}

func TestRender_SpeakingFollowsLevel(t *testing.T) {
	quiet := Render(Input{State: StateSpeaking, Level: 0.2, Present: true}, 5)
	loud := Render(Input{State: StateSpeaking, Level: 0.9, Present: true}, 5)

	if !loud.Active {
		t.Fatal("expected active frame")
	}
	for i := range loud.Bars {
		if loud.Bars[i] < quiet.Bars[i] {
			t.Errorf("bar %d: louder level rendered lower (%v < %v)", i, loud.Bars[i], quiet.Bars[i])
		}
		if loud.Bars[i] < 0 || loud.Bars[i] > 1 {
			t.Errorf("bar %d out of range: %v", i, loud.Bars[i])
		}
	}
	if loud.Bars[2] < loud.Bars[0] {
		t.Errorf("center bar should be tallest: %v", loud.Bars)
	}
}

func TestRender_ClampsLevel(t *testing.T) {
	f := Render(Input{State: StateSpeaking, Level: 4, Present: true}, 3)
	if f.Bars[1] != 1 {
		t.Errorf("expected clamped center bar 1, got %v", f.Bars[1])
	}
}

func TestRender_ConnectingSweeps(t *testing.T) {
	for step := 0; step < 7; step++ {
		f := Render(Input{State: StateConnecting, Present: true, Step: step}, 5)
		count := 0
		for i, h := range f.Highlight {
			if h {
				count++
				if i != step%5 {
					t.Errorf("step %d: highlighted bar %d", step, i)
				}
			}
		}
		if count != 1 {
			t.Errorf("step %d: expected one highlighted bar, got %d", step, count)
		}
	}
}
