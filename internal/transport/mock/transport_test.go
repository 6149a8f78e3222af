package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"concierge-widget/internal/models"
	"concierge-widget/internal/service/session"
)

// testHandler implements session.EventHandler for testing
type testHandler struct {
	mu           sync.Mutex
	changes      int
	segments     map[string][]models.TranscriptSegment
	disconnected []error
}

func newTestHandler() *testHandler {
	return &testHandler{segments: make(map[string][]models.TranscriptSegment)}
}

func (h *testHandler) OnParticipantsChanged() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes++
}

func (h *testHandler) OnTranscription(identity string, segs []models.TranscriptSegment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.segments[identity] = append(h.segments[identity], segs...)
}

func (h *testHandler) OnDisconnected(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, err)
}

func (h *testHandler) finals(identity string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, s := range h.segments[identity] {
		if s.IsFinal {
			out = append(out, s.Text)
		}
	}
	return out
}

var cred = models.SessionCredential{Token: "abc123", ServerURL: "wss://mock"}

func TestJoin_Layout(t *testing.T) {
	tr := &Transport{AgentIdentity: "concierge", AgentCamera: true}
	conn, err := tr.Join(context.Background(), cred, session.JoinOptions{LocalIdentity: "admin", PublishAudio: true}, newTestHandler())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parts := conn.Participants()
	if len(parts) != 2 || !parts[0].Local || parts[1].Identity != "concierge" {
		t.Fatalf("unexpected participants: %+v", parts)
	}

	var mic, agentCam bool
	for _, tp := range conn.Tracks() {
		if tp.Local && tp.Kind == models.TrackKindAudio {
			mic = true
		}
		if tp.ParticipantIdentity == "concierge" && tp.Source == models.SourceCamera {
			agentCam = true
			if tp.Subscribed {
				t.Error("remote tracks must start unsubscribed without auto-subscribe")
			}
		}
		if tp.Local && tp.Kind == models.TrackKindVideo {
			t.Error("local video must not be published")
		}
	}
	if !mic || !agentCam {
		t.Errorf("expected local mic and agent camera, got mic=%v cam=%v", mic, agentCam)
	}
	if tr.Joins() != 1 {
		t.Errorf("expected 1 join, got %d", tr.Joins())
	}
}

func TestJoin_Errors(t *testing.T) {
	joinErr := errors.New("ice failed")
	tr := &Transport{JoinErr: joinErr}
	if _, err := tr.Join(context.Background(), cred, session.JoinOptions{}, newTestHandler()); !errors.Is(err, joinErr) {
		t.Errorf("expected join error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&Transport{}).Join(ctx, cred, session.JoinOptions{}, newTestHandler()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if _, err := (&Transport{}).Join(context.Background(), models.SessionCredential{}, session.JoinOptions{}, newTestHandler()); err == nil {
		t.Error("expected error without a token")
	}
}

func TestRoom_DriveAndClose(t *testing.T) {
	h := newTestHandler()
	tr := &Transport{AgentIdentity: "concierge"}
	tr.Join(context.Background(), cred, session.JoinOptions{LocalIdentity: "admin"}, h)
	room := tr.LastRoom()

	if err := room.SetSubscribed("TR_agent_mic", true); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := room.Subscribed(); len(got) != 1 || got[0] != "TR_agent_mic" {
		t.Errorf("unexpected subscriptions: %v", got)
	}
	if err := room.SetSubscribed("TR_nope", true); err == nil {
		t.Error("expected error for unknown track")
	}

	room.Leave("concierge")
	if len(room.Participants()) != 1 {
		t.Errorf("expected agent gone, got %+v", room.Participants())
	}
	if h.changes != 1 {
		t.Errorf("expected 1 change notification, got %d", h.changes)
	}

	room.Drop(errors.New("lost"))
	if !room.Closed() {
		t.Error("expected room closed")
	}
	if len(h.disconnected) != 1 {
		t.Errorf("expected one disconnect, got %d", len(h.disconnected))
	}
	if err := room.Transcribe("admin", models.TranscriptSegment{ID: "x"}); !errors.Is(err, ErrRoomClosed) {
		t.Errorf("expected ErrRoomClosed, got %v", err)
	}
}

func TestPlay_OneFinalPerUtterance(t *testing.T) {
	h := newTestHandler()
	tr := &Transport{
		AgentIdentity: "concierge",
		Interval:      time.Millisecond,
		Script: []Utterance{
			{Speaker: models.SpeakerAgent, Partials: []string{"Hi"}, Final: "Hi there"},
			{Speaker: models.SpeakerUser, Partials: []string{"Hel", "Hello"}, Final: "Hello!"},
		},
	}
	tr.Join(context.Background(), cred, session.JoinOptions{LocalIdentity: "admin"}, h)

	deadline := time.Now().Add(2 * time.Second)
	for len(h.finals("admin")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	tr.LastRoom().Close()

	if got := h.finals("concierge"); len(got) != 1 || got[0] != "Hi there" {
		t.Errorf("unexpected agent finals: %v", got)
	}
	if got := h.finals("admin"); len(got) != 1 || got[0] != "Hello!" {
		t.Errorf("unexpected user finals: %v", got)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	user := h.segments["admin"]
	for _, s := range user {
		if s.ID != user[0].ID {
			t.Errorf("revisions must share the segment id: %s vs %s", s.ID, user[0].ID)
		}
		if !s.FirstReceivedTime.Equal(user[0].FirstReceivedTime) {
			t.Error("revisions must keep the first received time")
		}
	}
}
