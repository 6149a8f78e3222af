package livekit

import (
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// Silence paces Opus silence frames in real time.
type Silence struct {
	ticker *time.Ticker
}

// NewSilence creates a silence source.
func NewSilence() *Silence {
	return &Silence{ticker: time.NewTicker(frameDuration)}
}

// Next waits for the next frame slot.
func (s *Silence) Next() (media.Sample, error) {
	<-s.ticker.C
	return media.Sample{Data: opusSilence, Duration: frameDuration}, nil
}
