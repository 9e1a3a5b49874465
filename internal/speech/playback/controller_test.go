package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/elexicoai/elexico-core/internal/speech/synth"
	"github.com/elexicoai/elexico-core/internal/speech/voice"
)

const tick = 5 * time.Millisecond

func newTestController(engine synth.Engine, notify func(Snapshot)) *Controller {
	resolver := voice.NewResolver(engine, 500*time.Millisecond)
	return New(engine, resolver, Options{
		ReplayDelay: 10 * time.Millisecond,
		Notify:      notify,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSpeakRunsToCompletion(t *testing.T) {
	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 0)
	c := newTestController(engine, nil)
	t.Cleanup(c.Close)

	c.Speak("alpha beta gamma")
	waitFor(t, "done state", func() bool { return c.State() == StateDone })

	if got := c.Progress(); got != 100 {
		t.Fatalf("expected progress 100 after completion, got %d", got)
	}
	if snap := c.Snapshot(); snap.Text != "alpha beta gamma" {
		t.Fatalf("unexpected bound text %q", snap.Text)
	}
}

func TestProgressPinnedBelowHundredUntilDone(t *testing.T) {
	var mu sync.Mutex
	var snaps []Snapshot
	notify := func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	}

	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 0)
	c := newTestController(engine, notify)
	t.Cleanup(c.Close)

	c.Speak("one two")
	waitFor(t, "done state", func() bool { return c.State() == StateDone })

	mu.Lock()
	defer mu.Unlock()
	last := 0
	for _, s := range snaps {
		if s.State == StatePlaying && s.Progress > 99 {
			t.Fatalf("progress reached %d while still playing", s.Progress)
		}
		if s.Progress < last && s.State == StatePlaying {
			t.Fatalf("progress went backwards: %d after %d", s.Progress, last)
		}
		last = s.Progress
	}
	final := snaps[len(snaps)-1]
	if final.State != StateDone || final.Progress != 100 {
		t.Fatalf("expected final snapshot done/100, got %v/%d", final.State, final.Progress)
	}
}

func TestSecondSurfaceSilencesFirst(t *testing.T) {
	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 0)
	chat := newTestController(engine, nil)
	summary := newTestController(engine, nil)
	t.Cleanup(chat.Close)
	t.Cleanup(summary.Close)

	summary.Speak("a long summary with quite a few words to get through")
	waitFor(t, "summary progress", func() bool { return summary.Progress() > 0 })

	chat.Speak("short reply")
	waitFor(t, "chat done", func() bool { return chat.State() == StateDone })

	waitFor(t, "summary reset", func() bool {
		return summary.State() == StateIdle && summary.Progress() == 0
	})
}

func TestPauseHoldsPositionAndPlayResumes(t *testing.T) {
	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 0)
	c := newTestController(engine, nil)
	t.Cleanup(c.Close)

	c.Speak("one two three four five six seven eight nine ten")
	waitFor(t, "some progress", func() bool { return c.Progress() > 0 })

	c.Pause()
	if got := c.State(); got != StatePaused {
		t.Fatalf("expected paused, got %v", got)
	}
	time.Sleep(4 * tick)
	before := c.Progress()
	time.Sleep(4 * tick)
	if after := c.Progress(); after != before {
		t.Fatalf("progress advanced while paused: %d -> %d", before, after)
	}

	c.Play()
	waitFor(t, "done after resume", func() bool { return c.State() == StateDone })
	if got := c.Progress(); got != 100 {
		t.Fatalf("expected progress 100, got %d", got)
	}
}

func TestPauseOutsidePlayingIsNoop(t *testing.T) {
	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 0)
	c := newTestController(engine, nil)
	t.Cleanup(c.Close)

	c.Pause()
	if got := c.State(); got != StateIdle {
		t.Fatalf("pause from idle changed state to %v", got)
	}

	c.Speak("one two")
	waitFor(t, "done", func() bool { return c.State() == StateDone })
	c.Pause()
	if got := c.State(); got != StateDone {
		t.Fatalf("pause from done changed state to %v", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 0)
	c := newTestController(engine, nil)
	t.Cleanup(c.Close)

	c.Speak("one two three four five")
	waitFor(t, "some progress", func() bool { return c.Progress() > 0 })

	c.Stop()
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected idle after stop, got %v", got)
	}
	if got := c.Progress(); got != 0 {
		t.Fatalf("expected progress 0 after stop, got %d", got)
	}
	c.Stop()
	c.Stop()

	c.Speak("again please")
	waitFor(t, "done after restart", func() bool { return c.State() == StateDone })
}

func TestEmptySpeakIsNoop(t *testing.T) {
	var calls int
	var mu sync.Mutex
	notify := func(Snapshot) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 0)
	c := newTestController(engine, notify)
	t.Cleanup(c.Close)

	c.Speak("")
	c.Speak("   \t\n")
	time.Sleep(4 * tick)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("empty speak produced %d notifications", calls)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected idle, got %v", got)
	}
}

func TestReplayRestartsFromStart(t *testing.T) {
	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 0)
	c := newTestController(engine, nil)
	t.Cleanup(c.Close)

	c.Speak("one two three four five six")
	waitFor(t, "past halfway", func() bool { return c.Progress() >= 50 })

	c.Replay()
	snap := c.Snapshot()
	if snap.State != StatePlaying || snap.Progress != 0 {
		t.Fatalf("expected playing/0 right after replay, got %v/%d", snap.State, snap.Progress)
	}
	waitFor(t, "done after replay", func() bool { return c.State() == StateDone })

	// Replay works from Done as well, restarting the same bound text.
	c.Replay()
	if got := c.State(); got != StatePlaying {
		t.Fatalf("expected playing after replay from done, got %v", got)
	}
	waitFor(t, "second replay done", func() bool { return c.State() == StateDone })
}

func TestPauseDuringVoiceResolutionHoldsUtterance(t *testing.T) {
	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 30*time.Millisecond)
	c := newTestController(engine, nil)
	t.Cleanup(c.Close)

	c.Speak("one two three four five six")
	c.Pause()
	if got := c.State(); got != StatePaused {
		t.Fatalf("expected paused, got %v", got)
	}

	// Let the catalog load and the utterance start while still paused.
	time.Sleep(60 * time.Millisecond)
	before := c.Progress()
	time.Sleep(4 * tick)
	if after := c.Progress(); after != before {
		t.Fatalf("progress advanced while paused: %d -> %d", before, after)
	}

	c.Play()
	waitFor(t, "done after resume", func() bool { return c.State() == StateDone })
	if got := c.Progress(); got != 100 {
		t.Fatalf("expected progress 100, got %d", got)
	}
}

func TestPauseDuringReplaySettleHoldsUtterance(t *testing.T) {
	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 0)
	c := newTestController(engine, nil)
	t.Cleanup(c.Close)

	c.Speak("one two three four five six")
	waitFor(t, "some progress", func() bool { return c.Progress() > 0 })

	c.Replay()
	c.Pause()
	if got := c.State(); got != StatePaused {
		t.Fatalf("expected paused, got %v", got)
	}

	// Let the settle timer fire while paused; the session must hold.
	time.Sleep(40 * time.Millisecond)
	if got := c.State(); got != StatePaused {
		t.Fatalf("settle timer broke the pause, state %v", got)
	}

	c.Play()
	waitFor(t, "done after resume", func() bool { return c.State() == StateDone })
}

func TestSetTextResetsActiveSession(t *testing.T) {
	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 0)
	c := newTestController(engine, nil)
	t.Cleanup(c.Close)

	c.Speak("one two three four five six seven")
	waitFor(t, "some progress", func() bool { return c.Progress() > 0 })

	c.SetText("fresh content")
	snap := c.Snapshot()
	if snap.State != StateIdle || snap.Progress != 0 || snap.Text != "fresh content" {
		t.Fatalf("unexpected snapshot after rebind: %+v", snap)
	}
}

func TestSetTextSameTextIsNoop(t *testing.T) {
	var calls int
	var mu sync.Mutex
	notify := func(Snapshot) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 0)
	c := newTestController(engine, notify)
	t.Cleanup(c.Close)

	c.SetText("hello")
	mu.Lock()
	after := calls
	mu.Unlock()

	c.SetText("hello")
	time.Sleep(2 * tick)
	mu.Lock()
	defer mu.Unlock()
	if calls != after {
		t.Fatalf("rebinding identical text produced notifications")
	}
}

func TestSpeakWaitsForCatalog(t *testing.T) {
	engine := synth.NewMockEngine(tick, synth.DefaultCatalog(), 30*time.Millisecond)
	c := newTestController(engine, nil)
	t.Cleanup(c.Close)

	c.Speak("hello there")
	if got := c.State(); got != StatePlaying {
		t.Fatalf("expected playing while waiting for catalog, got %v", got)
	}
	waitFor(t, "done after catalog load", func() bool { return c.State() == StateDone })
}

// failingEngine reports a synthesis failure for every utterance.
type failingEngine struct{ err error }

func (e *failingEngine) Speak(_ synth.Utterance, events func(synth.Event)) {
	go events(synth.Event{Kind: synth.EventFailed, Err: e.err})
}
func (e *failingEngine) Pause()     {}
func (e *failingEngine) Resume()    {}
func (e *failingEngine) CancelAll() {}
func (e *failingEngine) Voices() []synth.Voice {
	return []synth.Voice{{ID: "v1", Locale: "en-IN", Provider: "Google"}}
}
func (e *failingEngine) OnVoicesChanged(func()) (unsubscribe func()) { return func() {} }

func TestEngineFailureEntersErrorState(t *testing.T) {
	wantErr := errors.New("synthesis backend unavailable")
	engine := &failingEngine{err: wantErr}
	c := newTestController(engine, nil)
	t.Cleanup(c.Close)

	c.Speak("doomed utterance")
	waitFor(t, "error state", func() bool { return c.State() == StateError })
	if got := c.Err(); !errors.Is(got, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, got)
	}

	c.Stop()
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected idle after stop, got %v", got)
	}
	if got := c.Err(); got != nil {
		t.Fatalf("expected error cleared after stop, got %v", got)
	}
}
