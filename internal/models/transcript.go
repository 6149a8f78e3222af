// Package models defines the data structures shared by the widget components.
package models

import "time"

// Speaker identifies which side of the conversation produced a segment.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Valid reports whether s is one of the known speakers.
func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerAgent
}

// TranscriptSegment is one unit of recognized speech.
//
// A segment keeps its ID and FirstReceivedTime across revisions. Text may
// change while IsFinal is false; once IsFinal is true the segment is immutable.
type TranscriptSegment struct {
	ID                string    `json:"id"`
	Speaker           Speaker   `json:"speaker"`
	Text              string    `json:"text"`
	FirstReceivedTime time.Time `json:"firstReceivedTime"`
	IsFinal           bool      `json:"isFinal"`

	// Seq is the insertion sequence assigned on first observation.
	// Zero means "not yet observed".
	Seq uint64 `json:"seq,omitempty"`
}

// TranscriptPartial is published each time a non-final segment's text changes.
type TranscriptPartial struct {
	EventType    string `json:"eventType"`
	ActivationID string `json:"activationId"`
	SegmentID    string `json:"segmentId"`
	Speaker      string `json:"speaker"`
	Timestamp    int64  `json:"timestamp"`
	Text         string `json:"text"`
}

// TranscriptFinal is published once, when a segment becomes final.
type TranscriptFinal struct {
	EventType    string `json:"eventType"`
	ActivationID string `json:"activationId"`
	SegmentID    string `json:"segmentId"`
	Speaker      string `json:"speaker"`
	Timestamp    int64  `json:"timestamp"`
	Text         string `json:"text"`
	Position     int    `json:"position"`
}

const (
	EventTypePartial = "concierge.transcript.partial"
	EventTypeFinal   = "concierge.transcript.final"
)
