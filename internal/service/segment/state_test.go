package segment

import (
	"errors"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("seg-1", "hel")

	if lc.State() != StateOpen {
		t.Errorf("expected StateOpen, got %v", lc.State())
	}
	if lc.SegmentId() != "seg-1" {
		t.Errorf("expected seg-1, got %v", lc.SegmentId())
	}
	if lc.Text() != "hel" {
		t.Errorf("expected text 'hel', got %q", lc.Text())
	}
	if lc.IsFinal() {
		t.Error("expected IsFinal to be false")
	}
}

func TestLifecycle_Revise_InOpenState(t *testing.T) {
	lc := NewLifecycle("seg-1", "")

	for _, text := range []string{"he", "hell", "hello"} {
		changed, err := lc.Revise(text)
		if err != nil {
			t.Errorf("revise %q: unexpected error: %v", text, err)
		}
		if !changed {
			t.Errorf("revise %q: expected change", text)
		}
	}

	changed, err := lc.Revise("hello")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if changed {
		t.Error("expected identical revision to report no change")
	}
	if lc.State() != StateOpen {
		t.Errorf("expected StateOpen after revisions, got %v", lc.State())
	}
}

func TestLifecycle_Finalize_TransitionsToFinal(t *testing.T) {
	lc := NewLifecycle("seg-1", "hello")

	changed, err := lc.Finalize("hello there")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("expected finalize to report a change")
	}
	if lc.State() != StateFinal {
		t.Errorf("expected StateFinal, got %v", lc.State())
	}
	if lc.Text() != "hello there" {
		t.Errorf("expected final text, got %q", lc.Text())
	}
}

func TestLifecycle_Finalize_IdenticalRedeliveryIsNoop(t *testing.T) {
	lc := NewLifecycle("seg-1", "")
	lc.Finalize("done")

	changed, err := lc.Finalize("done")
	if err != nil {
		t.Errorf("expected no error for identical final, got %v", err)
	}
	if changed {
		t.Error("expected no change for identical final")
	}
}

func TestLifecycle_Finalize_DifferentTextRejected(t *testing.T) {
	lc := NewLifecycle("seg-1", "")
	lc.Finalize("done")

	if _, err := lc.Finalize("done differently"); !errors.Is(err, ErrSegmentFinal) {
		t.Errorf("expected ErrSegmentFinal, got %v", err)
	}
	if lc.Text() != "done" {
		t.Errorf("final text must not change, got %q", lc.Text())
	}
}

func TestLifecycle_Revise_FailsAfterFinal(t *testing.T) {
	lc := NewLifecycle("seg-1", "")
	lc.Finalize("done")

	if _, err := lc.Revise("undone"); !errors.Is(err, ErrRevisionAfterFinal) {
		t.Errorf("expected ErrRevisionAfterFinal, got %v", err)
	}
	if lc.Text() != "done" {
		t.Errorf("final text must not change, got %q", lc.Text())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateOpen, "OPEN"},
		{StateFinal, "FINAL"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %v, want %v", tt.state, got, tt.expected)
		}
	}
}
