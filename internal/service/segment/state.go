// Package segment provides segment sequencing and per-segment finality tracking.
package segment

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the finality state of a transcript segment.
type State int

const (
	// StateOpen - Segment text may still be revised.
	StateOpen State = iota
	// StateFinal - Segment is final and immutable.
	StateFinal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinal:
		return "FINAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

var (
	ErrSegmentFinal       = errors.New("segment is final")
	ErrRevisionAfterFinal = errors.New("cannot revise segment after final")
	ErrEmptySegmentID     = errors.New("segment id is empty")
)

// Lifecycle tracks the finality of a single segment.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	OPEN ── Revise() ──→ OPEN (any number of times)
//	  │
//	  └── Finalize() ──→ FINAL (once)
//
// Rules:
//   - OPEN: text may be revised; Finalize moves to FINAL
//   - FINAL: revisions are rejected, Finalize again is rejected
type Lifecycle struct {
	mu        sync.RWMutex
	segmentId string
	state     State
	text      string
}

// NewLifecycle creates a new segment lifecycle in OPEN state.
func NewLifecycle(segmentId, text string) *Lifecycle {
	return &Lifecycle{
		segmentId: segmentId,
		state:     StateOpen,
		text:      text,
	}
}

// SegmentId returns the segment ID.
func (l *Lifecycle) SegmentId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segmentId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Text returns the latest accepted text.
func (l *Lifecycle) Text() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.text
}

// IsFinal returns true once the segment has been finalized.
func (l *Lifecycle) IsFinal() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateFinal
}

// Revise records a new non-final text.
// Returns true if the text changed.
func (l *Lifecycle) Revise(text string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		changed := l.text != text
		l.text = text
		return changed, nil
	case StateFinal:
		return false, ErrRevisionAfterFinal
	default:
		return false, fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Finalize records the final text and transitions to FINAL.
// Re-delivering the identical final text is a no-op; a different text is rejected.
// Returns true if anything changed.
func (l *Lifecycle) Finalize(text string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.state = StateFinal
		l.text = text
		return true, nil
	case StateFinal:
		if l.text == text {
			return false, nil
		}
		return false, ErrSegmentFinal
	default:
		return false, fmt.Errorf("unexpected state: %v", l.state)
	}
}
