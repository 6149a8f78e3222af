// Package mock provides a scripted in-process session transport for local
// runs and tests. It simulates an assistant that joins with audio and
// camera tracks and a conversation with progressive partial transcripts
// followed by exactly one final per utterance.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"concierge-widget/internal/models"
	"concierge-widget/internal/service/segment"
	"concierge-widget/internal/service/session"
)

// ErrRoomClosed is returned when driving a closed room.
var ErrRoomClosed = errors.New("room closed")

// Utterance is one scripted turn.
type Utterance struct {
	Speaker  models.Speaker
	Partials []string
	Final    string
}

// DefaultConversation is played when no script is configured.
var DefaultConversation = []Utterance{
	{
		Speaker:  models.SpeakerAgent,
		Partials: []string{"Welcome", "Welcome to the"},
		Final:    "Welcome to the concierge desk, how can I help?",
	},
	{
		Speaker:  models.SpeakerUser,
		Partials: []string{"I'd like", "I'd like to book", "I'd like to book a room"},
		Final:    "I'd like to book a room for Friday",
	},
	{
		Speaker:  models.SpeakerAgent,
		Partials: []string{"Sure", "Sure, a deluxe"},
		Final:    "Sure, a deluxe room is available on Friday",
	},
	{
		Speaker:  models.SpeakerUser,
		Partials: []string{"Is parking", "Is parking included"},
		Final:    "Is parking included?",
	},
	{
		Speaker:  models.SpeakerAgent,
		Partials: []string{"Yes"},
		Final:    "Yes, valet parking is included with every stay",
	},
}

// Transport implements session.Transport.
type Transport struct {
	AgentIdentity string
	Script        []Utterance
	// Interval between scripted updates. Zero disables playback; tests
	// drive rooms directly.
	Interval time.Duration
	// JoinErr fails every Join when set.
	JoinErr error
	// AgentCamera publishes a camera track for the agent.
	AgentCamera bool

	mu    sync.Mutex
	rooms []*Room
}

// New returns a transport playing DefaultConversation.
func New(agentIdentity string) *Transport {
	return &Transport{
		AgentIdentity: agentIdentity,
		Script:        DefaultConversation,
		Interval:      400 * time.Millisecond,
		AgentCamera:   true,
	}
}

// Join opens a room with the local participant and the agent already present.
func (t *Transport) Join(ctx context.Context, cred models.SessionCredential, opts session.JoinOptions, h session.EventHandler) (session.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.JoinErr != nil {
		return nil, t.JoinErr
	}
	if cred.Token == "" {
		return nil, errors.New("missing token")
	}

	r := newRoom(opts.LocalIdentity, h)
	local := models.ParticipantHandle{Identity: opts.LocalIdentity, Name: opts.LocalIdentity, Local: true, Active: true}
	var localTracks []models.TrackPublication
	if opts.PublishAudio {
		localTracks = append(localTracks, models.TrackPublication{
			SID: "TR_local_mic", Name: "microphone", Kind: models.TrackKindAudio, Source: models.SourceMicrophone, Local: true, Subscribed: true,
		})
	}
	if opts.PublishVideo {
		localTracks = append(localTracks, models.TrackPublication{
			SID: "TR_local_cam", Name: "camera", Kind: models.TrackKindVideo, Source: models.SourceCamera, Local: true, Subscribed: true,
		})
	}
	r.add(local, localTracks, opts.AutoSubscribe)

	if t.AgentIdentity != "" {
		agentTracks := []models.TrackPublication{
			{SID: "TR_agent_mic", Name: "agent-voice", Kind: models.TrackKindAudio, Source: models.SourceMicrophone},
		}
		if t.AgentCamera {
			agentTracks = append(agentTracks, models.TrackPublication{
				SID: "TR_agent_cam", Name: "agent-avatar", Kind: models.TrackKindVideo, Source: models.SourceCamera,
			})
		}
		r.add(models.ParticipantHandle{
			Identity:   t.AgentIdentity,
			Name:       t.AgentIdentity,
			Active:     true,
			Attributes: map[string]string{models.AgentStateAttribute: "initializing"},
		}, agentTracks, opts.AutoSubscribe)
	}

	t.mu.Lock()
	t.rooms = append(t.rooms, r)
	t.mu.Unlock()

	if t.Interval > 0 && len(t.Script) > 0 {
		go r.play(t.Script, t.AgentIdentity, t.Interval)
	}
	return r, nil
}

// LastRoom returns the most recently joined room, or nil.
func (t *Transport) LastRoom() *Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rooms) == 0 {
		return nil
	}
	return t.rooms[len(t.rooms)-1]
}

// Joins returns how many rooms were opened.
func (t *Transport) Joins() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

// Room is one joined session. It implements session.Conn and exposes
// methods to simulate remote activity.
type Room struct {
	local   string
	handler session.EventHandler
	ids     *segment.Generator

	mu           sync.Mutex
	participants []models.ParticipantHandle
	closed       bool
	done         chan struct{}
}

func newRoom(local string, h session.EventHandler) *Room {
	return &Room{
		local:   local,
		handler: h,
		ids:     segment.New(),
		done:    make(chan struct{}),
	}
}

func (r *Room) add(p models.ParticipantHandle, tracks []models.TrackPublication, subscribe bool) {
	for i := range tracks {
		tracks[i].ParticipantIdentity = p.Identity
		tracks[i].ParticipantName = p.Name
		if !tracks[i].Local {
			tracks[i].Subscribed = subscribe
		}
	}
	p.Tracks = tracks
	r.participants = append(r.participants, p)
}

// Participants implements session.Conn.
func (r *Room) Participants() []models.ParticipantHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ParticipantHandle, len(r.participants))
	for i, p := range r.participants {
		p.Tracks = append([]models.TrackPublication(nil), p.Tracks...)
		attrs := make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			attrs[k] = v
		}
		p.Attributes = attrs
		out[i] = p
	}
	return out
}

// Tracks implements session.Conn.
func (r *Room) Tracks() []models.TrackPublication {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TrackPublication
	for _, p := range r.participants {
		out = append(out, p.Tracks...)
	}
	return out
}

// SetSubscribed implements session.Conn. On a closed room it is a no-op.
func (r *Room) SetSubscribed(sid string, subscribed bool) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	found := false
	for i := range r.participants {
		for j := range r.participants[i].Tracks {
			if r.participants[i].Tracks[j].SID == sid {
				r.participants[i].Tracks[j].Subscribed = subscribed
				found = true
			}
		}
	}
	r.mu.Unlock()
	if !found {
		return errors.New("unknown track " + sid)
	}
	return nil
}

// Close implements session.Conn.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
}

// Closed reports whether the room was closed.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Subscribed returns the SIDs of subscribed remote tracks.
func (r *Room) Subscribed() []string {
	var out []string
	for _, t := range r.Tracks() {
		if !t.Local && t.Subscribed {
			out = append(out, t.SID)
		}
	}
	return out
}

// mutate applies fn under the room lock and notifies the handler.
func (r *Room) mutate(fn func()) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	fn()
	r.mu.Unlock()
	r.handler.OnParticipantsChanged()
	return nil
}

// Join simulates a remote participant joining with tracks.
func (r *Room) Join(p models.ParticipantHandle, tracks ...models.TrackPublication) error {
	return r.mutate(func() {
		p.Local = false
		r.add(p, tracks, false)
	})
}

// Leave simulates a remote participant leaving; its publications go with it.
func (r *Room) Leave(identity string) error {
	return r.mutate(func() {
		kept := r.participants[:0]
		for _, p := range r.participants {
			if p.Identity != identity {
				kept = append(kept, p)
			}
		}
		r.participants = kept
	})
}

// SetAttribute sets a participant attribute.
func (r *Room) SetAttribute(identity, key, value string) error {
	return r.mutate(func() {
		for i := range r.participants {
			if r.participants[i].Identity == identity {
				if r.participants[i].Attributes == nil {
					r.participants[i].Attributes = make(map[string]string)
				}
				r.participants[i].Attributes[key] = value
			}
		}
	})
}

// SetAudioLevel sets a participant's current audio level.
func (r *Room) SetAudioLevel(identity string, level float32) error {
	return r.mutate(func() {
		for i := range r.participants {
			if r.participants[i].Identity == identity {
				r.participants[i].AudioLevel = level
			}
		}
	})
}

// Transcribe delivers segments recognized on identity's audio.
func (r *Room) Transcribe(identity string, segs ...models.TranscriptSegment) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrRoomClosed
	}
	r.handler.OnTranscription(identity, segs)
	return nil
}

// Drop simulates the transport losing the session. A nil err is a clean
// remote hangup.
func (r *Room) Drop(err error) {
	r.Close()
	r.handler.OnDisconnected(err)
}

func (r *Room) sleep(d time.Duration) bool {
	select {
	case <-r.done:
		return false
	case <-time.After(d):
		return true
	}
}

// play runs script, one update per interval, until the room closes.
func (r *Room) play(script []Utterance, agent string, interval time.Duration) {
	for _, u := range script {
		identity := r.local
		if u.Speaker == models.SpeakerAgent {
			identity = agent
			r.SetAttribute(agent, models.AgentStateAttribute, "thinking")
			if !r.sleep(interval) {
				return
			}
			r.SetAttribute(agent, models.AgentStateAttribute, "speaking")
		}

		id := r.ids.Next(string(u.Speaker))
		first := time.Now()
		for i, text := range u.Partials {
			if u.Speaker == models.SpeakerAgent {
				r.SetAudioLevel(agent, 0.4+0.1*float32(i%5))
			}
			seg := models.TranscriptSegment{ID: id, Text: text, FirstReceivedTime: first}
			if r.Transcribe(identity, seg) != nil || !r.sleep(interval) {
				return
			}
		}
		final := models.TranscriptSegment{ID: id, Text: u.Final, FirstReceivedTime: first, IsFinal: true}
		if r.Transcribe(identity, final) != nil {
			return
		}
		if u.Speaker == models.SpeakerAgent {
			r.SetAudioLevel(agent, 0)
			r.SetAttribute(agent, models.AgentStateAttribute, "listening")
		}
		if !r.sleep(interval) {
			return
		}
	}
}
