package schema

import (
	"errors"
	"testing"

	"concierge-widget/internal/models"
)

func TestValidate(t *testing.T) {
	partial := models.TranscriptPartial{
		EventType:    models.EventTypePartial,
		ActivationID: "act-1",
		SegmentID:    "seg-1",
		Speaker:      "agent",
		Timestamp:    1,
		Text:         "hel",
	}
	final := models.TranscriptFinal{
		EventType:    models.EventTypeFinal,
		ActivationID: "act-1",
		SegmentID:    "seg-1",
		Speaker:      "user",
		Timestamp:    2,
		Text:         "hello",
	}

	tests := []struct {
		name    string
		event   any
		wantErr bool
	}{
		{"valid partial", partial, false},
		{"valid partial pointer", &partial, false},
		{"valid final", final, false},
		{"other type ignored", map[string]string{"a": "b"}, false},
		{"wrong type", func() any { p := partial; p.EventType = models.EventTypeFinal; return p }(), true},
		{"missing activation", func() any { p := partial; p.ActivationID = ""; return p }(), true},
		{"missing segment", func() any { f := final; f.SegmentID = ""; return f }(), true},
		{"unknown speaker", func() any { f := final; f.Speaker = "operator"; return f }(), true},
		{"missing timestamp", func() any { f := final; f.Timestamp = 0; return f }(), true},
		{"negative position", func() any { f := final; f.Position = -1; return f }(), true},
		{"nil final", (*models.TranscriptFinal)(nil), true},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}
