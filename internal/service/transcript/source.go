package transcript

import (
	"fmt"

	"concierge-widget/internal/models"
	"concierge-widget/internal/service/segment"
)

// Update describes what applying a segment did to a Source.
type Update int

const (
	UpdateNone Update = iota
	UpdateNew
	UpdateRevision
	UpdateFinal
)

// String returns the label used in metrics and logs.
func (u Update) String() string {
	switch u {
	case UpdateNone:
		return "none"
	case UpdateNew:
		return "new"
	case UpdateRevision:
		return "revision"
	case UpdateFinal:
		return "final"
	default:
		return fmt.Sprintf("unknown(%d)", int(u))
	}
}

type tracked struct {
	seg       models.TranscriptSegment
	lifecycle *segment.Lifecycle
}

// Source is one speaker's append/revise-only segment sequence.
// Not safe for concurrent use; Engine serializes access.
type Source struct {
	speaker models.Speaker
	order   []*tracked
	byID    map[string]*tracked
}

// NewSource creates an empty sequence for speaker.
func NewSource(speaker models.Speaker) *Source {
	return &Source{
		speaker: speaker,
		byID:    make(map[string]*tracked),
	}
}

// Speaker returns the speaker this source belongs to.
func (s *Source) Speaker() models.Speaker {
	return s.speaker
}

// Len returns the number of distinct segments observed.
func (s *Source) Len() int {
	return len(s.order)
}

// Apply records a new segment or a revision of a known one.
//
// A new segment gets the next sequence number from nextSeq. Its
// FirstReceivedTime is raised to the latest time already observed in this
// source so the sequence stays non-decreasing. A revision keeps the
// original FirstReceivedTime and position.
func (s *Source) Apply(seg models.TranscriptSegment, nextSeq func() uint64) (Update, error) {
	if seg.ID == "" {
		return UpdateNone, segment.ErrEmptySegmentID
	}

	t, ok := s.byID[seg.ID]
	if !ok {
		seg.Speaker = s.speaker
		if n := len(s.order); n > 0 {
			last := s.order[n-1].seg.FirstReceivedTime
			if seg.FirstReceivedTime.Before(last) {
				seg.FirstReceivedTime = last
			}
		}
		seg.Seq = nextSeq()

		t = &tracked{seg: seg, lifecycle: segment.NewLifecycle(seg.ID, seg.Text)}
		if seg.IsFinal {
			t.lifecycle.Finalize(seg.Text)
		}
		s.order = append(s.order, t)
		s.byID[seg.ID] = t
		return UpdateNew, nil
	}

	var (
		changed bool
		err     error
		update  = UpdateRevision
	)
	if seg.IsFinal {
		wasFinal := t.lifecycle.IsFinal()
		changed, err = t.lifecycle.Finalize(seg.Text)
		if !wasFinal {
			update = UpdateFinal
		}
	} else {
		changed, err = t.lifecycle.Revise(seg.Text)
	}
	if err != nil {
		return UpdateNone, fmt.Errorf("segment %s: %w", seg.ID, err)
	}
	if !changed {
		return UpdateNone, nil
	}

	t.seg.Text = t.lifecycle.Text()
	t.seg.IsFinal = t.lifecycle.IsFinal()
	return update, nil
}

// Segments returns a copy of the sequence in observation order.
func (s *Source) Segments() []models.TranscriptSegment {
	out := make([]models.TranscriptSegment, len(s.order))
	for i, t := range s.order {
		out[i] = t.seg
	}
	return out
}
