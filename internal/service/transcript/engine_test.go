package transcript

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"concierge-widget/internal/models"
	"concierge-widget/internal/observability/metrics"
	"concierge-widget/internal/service/segment"
)

func newTestEngine() *Engine {
	return NewEngine(WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))
}

func user(id, text string, ms int64, final bool) models.TranscriptSegment {
	s := seg(id, text, ms, final)
	s.Speaker = models.SpeakerUser
	return s
}

func agent(id, text string, ms int64, final bool) models.TranscriptSegment {
	s := seg(id, text, ms, final)
	s.Speaker = models.SpeakerAgent
	return s
}

func TestEngine_EmptyLog(t *testing.T) {
	e := newTestEngine()

	if got := e.Log(); len(got) != 0 {
		t.Errorf("expected empty log, got %v", got)
	}
}

func TestEngine_MergesAcrossSpeakers(t *testing.T) {
	e := newTestEngine()

	if err := e.Apply(user("u1", "hello", 100, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.Apply(agent("a1", "hi there", 95, true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := e.Log()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Speaker != models.SpeakerAgent || got[0].Text != "hi there" || !got[0].FirstReceivedTime.Equal(at(95)) {
		t.Errorf("unexpected first entry: %+v", got[0])
	}
	if got[1].Speaker != models.SpeakerUser || got[1].Text != "hello" || !got[1].FirstReceivedTime.Equal(at(100)) {
		t.Errorf("unexpected second entry: %+v", got[1])
	}
}

func TestEngine_RevisionKeepsPosition(t *testing.T) {
	e := newTestEngine()

	e.Apply(user("u1", "I would", 100, false))
	e.Apply(agent("a1", "Welcome", 150, true))
	e.Apply(user("u2", "thanks", 200, true))

	before := e.Log()

	if err := e.Apply(user("u1", "I would like a room", 180, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after := e.Log()
	if len(after) != len(before) {
		t.Fatalf("expected log length %d, got %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID {
			t.Errorf("position %d changed: %s -> %s", i, before[i].ID, after[i].ID)
		}
	}
	if after[0].Text != "I would like a room" {
		t.Errorf("expected revised text, got %q", after[0].Text)
	}
	if !after[0].FirstReceivedTime.Equal(at(100)) {
		t.Errorf("revision must keep first received time, got %v", after[0].FirstReceivedTime)
	}
}

func TestEngine_RejectsRevisionAfterFinal(t *testing.T) {
	e := newTestEngine()

	e.Apply(agent("a1", "final words", 10, true))

	err := e.Apply(agent("a1", "changed words", 10, false))
	if !errors.Is(err, segment.ErrRevisionAfterFinal) {
		t.Errorf("expected ErrRevisionAfterFinal, got %v", err)
	}
	if got := e.Log()[0].Text; got != "final words" {
		t.Errorf("final text changed to %q", got)
	}
}

func TestEngine_RejectsUnknownSpeakerButAppliesRest(t *testing.T) {
	e := newTestEngine()

	err := e.Apply(
		models.TranscriptSegment{ID: "x", Speaker: "narrator", FirstReceivedTime: at(1)},
		user("u1", "hi", 2, true),
	)
	if !errors.Is(err, ErrUnknownSpeaker) {
		t.Errorf("expected ErrUnknownSpeaker, got %v", err)
	}
	if got := e.Log(); len(got) != 1 || got[0].ID != "u1" {
		t.Errorf("expected valid segment to apply, got %v", got)
	}
}

func TestEngine_RejectsEmptyID(t *testing.T) {
	e := newTestEngine()

	if err := e.Apply(user("", "hi", 1, false)); !errors.Is(err, segment.ErrEmptySegmentID) {
		t.Errorf("expected ErrEmptySegmentID, got %v", err)
	}
}

func TestEngine_ClampsOutOfOrderFirstObservation(t *testing.T) {
	e := newTestEngine()

	e.Apply(user("u1", "first", 100, true))
	e.Apply(user("u2", "second", 90, true))

	got := e.Log()
	if got[0].ID != "u1" || got[1].ID != "u2" {
		t.Fatalf("same-speaker order not preserved: %v", got)
	}
	if !got[1].FirstReceivedTime.Equal(at(100)) {
		t.Errorf("expected clamped time 100, got %v", got[1].FirstReceivedTime.UnixMilli())
	}
}

func TestEngine_TieBreakByArrival(t *testing.T) {
	e := newTestEngine()

	e.Apply(agent("a1", "agent first", 100, true))
	e.Apply(user("u1", "user second", 100, true))

	got := e.Log()
	if got[0].ID != "a1" || got[1].ID != "u1" {
		t.Errorf("expected arrival order on equal timestamps, got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestEngine_NotifiesListeners(t *testing.T) {
	e := newTestEngine()

	var got [][]models.TranscriptSegment
	unsubscribe := e.Subscribe(func(log []models.TranscriptSegment) {
		got = append(got, log)
	})

	e.Apply(user("u1", "he", 1, false))
	e.Apply(user("u1", "he", 1, false)) // unchanged, no notification
	e.Apply(user("u1", "hello", 1, true))

	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[1][0].Text != "hello" || !got[1][0].IsFinal {
		t.Errorf("unexpected final notification: %+v", got[1][0])
	}

	unsubscribe()
	e.Apply(agent("a1", "hi", 2, true))
	if len(got) != 2 {
		t.Errorf("expected no notification after unsubscribe, got %d", len(got))
	}
}

func TestEngine_LogNeverShrinks(t *testing.T) {
	e := newTestEngine()

	prev := 0
	e.Subscribe(func(log []models.TranscriptSegment) {
		if len(log) < prev {
			t.Errorf("log shrank from %d to %d", prev, len(log))
		}
		prev = len(log)
	})

	e.Apply(user("u1", "a", 1, false))
	e.Apply(agent("a1", "b", 2, false))
	e.Apply(user("u1", "ab", 1, true))
	e.Apply(agent("a1", "bc", 2, true))
	e.Apply(agent("a1", "changed", 2, true))
	e.Apply(user("u2", "c", 3, false))

	if prev != 3 {
		t.Errorf("expected final length 3, got %d", prev)
	}
}

func TestEngine_Reset(t *testing.T) {
	e := newTestEngine()
	e.Apply(user("u1", "hi", 1, true))

	var last []models.TranscriptSegment
	notified := false
	e.Subscribe(func(log []models.TranscriptSegment) {
		last = log
		notified = true
	})

	e.Reset()

	if !notified {
		t.Fatal("expected reset to notify listeners")
	}
	if len(last) != 0 || len(e.Log()) != 0 {
		t.Errorf("expected empty log after reset, got %v", e.Log())
	}
}

func TestEngine_ConcurrentApplyStaysOrdered(t *testing.T) {
	e := newTestEngine()

	var mu sync.Mutex
	var latest []models.TranscriptSegment
	e.Subscribe(func(log []models.TranscriptSegment) {
		mu.Lock()
		defer mu.Unlock()
		if !IsOrdered(log) {
			t.Error("listener observed unordered log")
		}
		latest = log
	})

	var wg sync.WaitGroup
	for _, speaker := range []models.Speaker{models.SpeakerUser, models.SpeakerAgent} {
		wg.Add(1)
		go func(sp models.Speaker) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s := seg(string(sp)+"-"+string(rune('A'+i)), "text", int64(i*10), i%2 == 0)
				s.Speaker = sp
				e.Apply(s)
			}
		}(speaker)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(latest) != 100 {
		t.Errorf("expected latest notification to hold 100 entries, got %d", len(latest))
	}
	if !IsOrdered(e.Log()) {
		t.Error("final log not ordered")
	}
}
