// Package livekit adapts a LiveKit room to the session transport interface.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"concierge-widget/internal/models"
	"concierge-widget/internal/observability/logging"
	"concierge-widget/internal/service/session"
)

// SampleSource produces encoded Opus frames for the local microphone track.
// Next blocks until a frame is ready; any error ends publishing.
type SampleSource interface {
	Next() (media.Sample, error)
}

// Transport joins LiveKit rooms with a token.
type Transport struct {
	newSource func() SampleSource
	logger    zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithSampleSource sets the factory for microphone frames. The default
// publishes Opus silence so the room sees a live microphone.
func WithSampleSource(fn func() SampleSource) Option {
	return func(t *Transport) { t.newSource = fn }
}

// New creates a Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		newSource: func() SampleSource { return NewSilence() },
		logger:    logging.WithComponent("livekit"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type joinResult struct {
	room *lksdk.Room
	err  error
}

// Join connects to cred.ServerURL with cred.Token. The SDK connect call
// cannot be aborted; when ctx ends first the late room is disconnected as
// soon as it arrives.
func (t *Transport) Join(ctx context.Context, cred models.SessionCredential, opts session.JoinOptions, h session.EventHandler) (session.Conn, error) {
	c := &conn{
		local:  opts.LocalIdentity,
		h:      h,
		logger: t.logger.With().Str("identity", opts.LocalIdentity).Logger(),
		stop:   make(chan struct{}),
	}

	done := make(chan joinResult, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(cred.ServerURL, cred.Token, c.callback(),
			lksdk.WithAutoSubscribe(opts.AutoSubscribe))
		done <- joinResult{room: room, err: err}
	}()

	var res joinResult
	select {
	case res = <-done:
	case <-ctx.Done():
		c.closing.Store(true)
		go func() {
			if late := <-done; late.room != nil {
				late.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, fmt.Errorf("connect: %w", res.err)
	}

	c.mu.Lock()
	c.room = res.room
	c.mu.Unlock()

	if opts.PublishAudio {
		if err := c.publishMicrophone(t.newSource()); err != nil {
			c.Close()
			return nil, err
		}
	}

	c.logger.Info().
		Str("room", res.room.Name()).
		Int("remoteParticipants", len(res.room.GetRemoteParticipants())).
		Msg("Joined LiveKit room")
	return c, nil
}

type conn struct {
	local  string
	h      session.EventHandler
	logger zerolog.Logger

	mu      sync.Mutex
	room    *lksdk.Room
	closing atomic.Bool
	once    sync.Once
	stop    chan struct{}
}

func (c *conn) getRoom() *lksdk.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *conn) callback() *lksdk.RoomCallback {
	changed := func() {
		if c.getRoom() != nil && !c.closing.Load() {
			c.h.OnParticipantsChanged()
		}
	}

	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				changed()
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				changed()
			},
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				changed()
			},
			OnTrackUnpublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				changed()
			},
			OnAttributesChanged: func(attrs map[string]string, p lksdk.Participant) {
				changed()
			},
			OnTranscriptionReceived: func(segs []*lksdk.TranscriptionSegment, p lksdk.Participant, pub lksdk.TrackPublication) {
				if p == nil || c.closing.Load() {
					return
				}
				c.h.OnTranscription(p.Identity(), convertSegments(segs, time.Now()))
			},
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			changed()
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			changed()
		},
		OnActiveSpeakersChanged: func(speakers []lksdk.Participant) {
			changed()
		},
		OnReconnecting: func() {
			c.logger.Warn().Msg("LiveKit connection reconnecting")
		},
		OnReconnected: func() {
			c.logger.Info().Msg("LiveKit connection restored")
			changed()
		},
		OnDisconnected: func() {
			if c.closing.Load() {
				return
			}
			c.logger.Info().Msg("LiveKit room disconnected by remote")
			c.stopMicrophone()
			c.h.OnDisconnected(nil)
		},
	}
}

func (c *conn) publishMicrophone(src SampleSource) error {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  1,
	})
	if err != nil {
		return fmt.Errorf("create microphone track: %w", err)
	}

	pub, err := c.getRoom().LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "microphone",
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		return fmt.Errorf("publish microphone: %w", err)
	}
	c.logger.Info().Str("trackSid", pub.SID()).Msg("Microphone published")

	go func() {
		for {
			select {
			case <-c.stop:
				return
			default:
			}
			sample, err := src.Next()
			if err != nil {
				c.logger.Warn().Err(err).Msg("Microphone source ended")
				return
			}
			if err := track.WriteSample(sample, nil); err != nil {
				c.logger.Debug().Err(err).Msg("Microphone write failed")
			}
		}
	}()
	return nil
}

func (c *conn) stopMicrophone() {
	c.once.Do(func() { close(c.stop) })
}

// Participants implements session.Conn.
func (c *conn) Participants() []models.ParticipantHandle {
	room := c.getRoom()
	if room == nil {
		return nil
	}

	lp := room.LocalParticipant
	out := []models.ParticipantHandle{{
		Identity:   lp.Identity(),
		Name:       lp.Name(),
		Local:      true,
		Active:     true,
		AudioLevel: lp.AudioLevel(),
		Tracks:     localTracks(lp),
	}}
	for _, rp := range room.GetRemoteParticipants() {
		out = append(out, models.ParticipantHandle{
			Identity:   rp.Identity(),
			Name:       rp.Name(),
			Active:     true,
			AudioLevel: rp.AudioLevel(),
			Attributes: rp.Attributes(),
			Tracks:     remoteTracks(rp),
		})
	}
	return out
}

// Tracks implements session.Conn.
func (c *conn) Tracks() []models.TrackPublication {
	room := c.getRoom()
	if room == nil {
		return nil
	}
	out := localTracks(room.LocalParticipant)
	for _, rp := range room.GetRemoteParticipants() {
		out = append(out, remoteTracks(rp)...)
	}
	return out
}

// SetSubscribed implements session.Conn.
func (c *conn) SetSubscribed(sid string, subscribed bool) error {
	room := c.getRoom()
	if room == nil {
		return errors.New("not connected")
	}
	for _, rp := range room.GetRemoteParticipants() {
		for _, pub := range rp.TrackPublications() {
			remote, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok || remote.SID() != sid {
				continue
			}
			return remote.SetSubscribed(subscribed)
		}
	}
	return fmt.Errorf("track %s not found", sid)
}

// Close implements session.Conn.
func (c *conn) Close() {
	if c.closing.Swap(true) {
		return
	}
	c.stopMicrophone()
	if room := c.getRoom(); room != nil {
		room.Disconnect()
	}
	c.logger.Info().Msg("Left LiveKit room")
}

func localTracks(lp *lksdk.LocalParticipant) []models.TrackPublication {
	var out []models.TrackPublication
	for _, pub := range lp.TrackPublications() {
		out = append(out, models.TrackPublication{
			SID:                 pub.SID(),
			Name:                pub.Name(),
			Kind:                kindOf(pub.Kind()),
			Source:              sourceOf(pub.Source()),
			ParticipantIdentity: lp.Identity(),
			ParticipantName:     lp.Name(),
			Local:               true,
			Subscribed:          true,
		})
	}
	return out
}

func remoteTracks(rp *lksdk.RemoteParticipant) []models.TrackPublication {
	var out []models.TrackPublication
	for _, pub := range rp.TrackPublications() {
		t := models.TrackPublication{
			SID:                 pub.SID(),
			Name:                pub.Name(),
			Kind:                kindOf(pub.Kind()),
			Source:              sourceOf(pub.Source()),
			ParticipantIdentity: rp.Identity(),
			ParticipantName:     rp.Name(),
		}
		if remote, ok := pub.(*lksdk.RemoteTrackPublication); ok {
			t.Subscribed = remote.IsSubscribed()
		}
		out = append(out, t)
	}
	return out
}

func kindOf(k lksdk.TrackKind) models.TrackKind {
	if k == lksdk.TrackKindVideo {
		return models.TrackKindVideo
	}
	return models.TrackKindAudio
}

func sourceOf(s livekit.TrackSource) models.TrackSource {
	switch s {
	case livekit.TrackSource_CAMERA:
		return models.SourceCamera
	case livekit.TrackSource_MICROPHONE:
		return models.SourceMicrophone
	case livekit.TrackSource_SCREEN_SHARE, livekit.TrackSource_SCREEN_SHARE_AUDIO:
		return models.SourceScreen
	default:
		return models.SourceUnknown
	}
}

// convertSegments maps SDK transcription segments. The SDK carries no
// receive time, so every segment is stamped with now; the transcript engine
// keeps the stamp of the first observation and ignores it on revisions.
func convertSegments(segs []*lksdk.TranscriptionSegment, now time.Time) []models.TranscriptSegment {
	out := make([]models.TranscriptSegment, 0, len(segs))
	for _, s := range segs {
		if s == nil {
			continue
		}
		out = append(out, models.TranscriptSegment{
			ID:                s.ID,
			Text:              s.Text,
			FirstReceivedTime: now,
			IsFinal:           s.Final,
		})
	}
	return out
}
