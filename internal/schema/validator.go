// Package schema checks transcript events before they leave the process.
package schema

import (
	"errors"
	"fmt"

	"concierge-widget/internal/models"
)

// ErrInvalidEvent wraps every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks transcript events. Values of other types are not
// inspected.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.TranscriptPartial:
		return v.check(ev.EventType, models.EventTypePartial, ev.ActivationID, ev.SegmentID, ev.Speaker, ev.Timestamp)
	case *models.TranscriptPartial:
		if ev == nil {
			return fmt.Errorf("%w: nil partial", ErrInvalidEvent)
		}
		return v.Validate(*ev)
	case models.TranscriptFinal:
		if ev.Position < 0 {
			return fmt.Errorf("%w: negative position %d", ErrInvalidEvent, ev.Position)
		}
		return v.check(ev.EventType, models.EventTypeFinal, ev.ActivationID, ev.SegmentID, ev.Speaker, ev.Timestamp)
	case *models.TranscriptFinal:
		if ev == nil {
			return fmt.Errorf("%w: nil final", ErrInvalidEvent)
		}
		return v.Validate(*ev)
	}
	return nil
}

func (v *Validator) check(eventType, want, activationID, segmentID, speaker string, ts int64) error {
	switch {
	case eventType != want:
		return fmt.Errorf("%w: event type %q, want %q", ErrInvalidEvent, eventType, want)
	case activationID == "":
		return fmt.Errorf("%w: missing activation id", ErrInvalidEvent)
	case segmentID == "":
		return fmt.Errorf("%w: missing segment id", ErrInvalidEvent)
	case !models.Speaker(speaker).Valid():
		return fmt.Errorf("%w: unknown speaker %q", ErrInvalidEvent, speaker)
	case ts <= 0:
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	return nil
}
