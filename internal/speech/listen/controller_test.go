package listen

import (
	"strings"
	"sync"
	"testing"
	"time"
)

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

type finalCollector struct {
	mu     sync.Mutex
	finals []string
}

func (f *finalCollector) add(text string) {
	f.mu.Lock()
	f.finals = append(f.finals, text)
	f.mu.Unlock()
}

func (f *finalCollector) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finals...)
}

func TestInterimPreviewThenFinal(t *testing.T) {
	engine := NewMockEngine([]string{"hello world"}, 5*time.Millisecond)

	var finals finalCollector
	var mu sync.Mutex
	var snaps []Snapshot
	c := New(engine, Options{
		OnFinal: finals.add,
		Notify: func(s Snapshot) {
			mu.Lock()
			snaps = append(snaps, s)
			mu.Unlock()
		},
	})
	t.Cleanup(c.Close)

	c.Start()
	waitFor(t, "final transcript", func() bool { return len(finals.all()) == 1 })

	if got := finals.all()[0]; got != "hello world" {
		t.Fatalf("unexpected final %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawPartial bool
	for _, s := range snaps {
		if s.Listening && s.Interim == "hello" {
			sawPartial = true
		}
	}
	if !sawPartial {
		t.Fatalf("never observed the growing interim preview; snapshots: %+v", snaps)
	}
}

func TestFinalClearsInterim(t *testing.T) {
	engine := NewMockEngine([]string{"first phrase", "second phrase"}, 5*time.Millisecond)
	var finals finalCollector
	c := New(engine, Options{OnFinal: finals.add})
	t.Cleanup(c.Close)

	c.Start()
	waitFor(t, "both finals", func() bool { return len(finals.all()) == 2 })

	got := strings.Join(finals.all(), " | ")
	if got != "first phrase | second phrase" {
		t.Fatalf("unexpected finals %q", got)
	}
	waitFor(t, "interim cleared", func() bool { return c.Interim() == "" })
}

func TestStopReflectsImmediately(t *testing.T) {
	engine := NewMockEngine([]string{"a rather long dictation that keeps going"}, 5*time.Millisecond)
	c := New(engine, Options{})
	t.Cleanup(c.Close)

	c.Start()
	waitFor(t, "interim text", func() bool { return c.Interim() != "" })

	c.Stop()
	if c.Listening() {
		t.Fatalf("still listening right after stop")
	}
	if got := c.Interim(); got != "" {
		t.Fatalf("interim %q survived stop", got)
	}
}

func TestSessionEndClearsListening(t *testing.T) {
	engine := NewMockEngine([]string{"short"}, 5*time.Millisecond)
	var finals finalCollector
	c := New(engine, Options{OnFinal: finals.add})
	t.Cleanup(c.Close)

	c.Start()
	waitFor(t, "final", func() bool { return len(finals.all()) == 1 })
	// The script is exhausted, so the engine ends the session on its own.
	waitFor(t, "listening cleared", func() bool { return !c.Listening() })
}

func TestRestartAfterEnd(t *testing.T) {
	engine := NewMockEngine([]string{"again"}, 5*time.Millisecond)
	var finals finalCollector
	c := New(engine, Options{OnFinal: finals.add})
	t.Cleanup(c.Close)

	c.Start()
	waitFor(t, "first final", func() bool { return len(finals.all()) == 1 })
	waitFor(t, "session ended", func() bool { return !c.Listening() })

	c.Start()
	waitFor(t, "second final", func() bool { return len(finals.all()) == 2 })
}

func TestDoubleStartIsSwallowed(t *testing.T) {
	engine := NewMockEngine([]string{"one long phrase that takes a while to finish"}, 5*time.Millisecond)
	first := New(engine, Options{})
	second := New(engine, Options{})
	t.Cleanup(first.Close)
	t.Cleanup(second.Close)

	first.Start()
	waitFor(t, "first listening", func() bool { return first.Interim() != "" })

	// The engine rejects the second native session; the controller treats
	// that as already-listening, not a failure.
	second.Start()
	if got := second.LastError(); got != ErrorNone {
		t.Fatalf("double start surfaced error %v", got)
	}
	if !second.Listening() {
		t.Fatalf("double start flipped listening off")
	}
}

func TestUnsupportedEngineIsNoop(t *testing.T) {
	c := New(UnsupportedEngine{}, Options{})
	t.Cleanup(c.Close)

	if c.Supported() {
		t.Fatalf("unsupported engine reported as supported")
	}
	c.Start()
	if c.Listening() {
		t.Fatalf("start on unsupported engine began listening")
	}
}

// scriptedEngine hands the event callback to the test so failure and
// empty-final cases can be driven directly.
type scriptedEngine struct {
	mu     sync.Mutex
	events func(Event)
}

func (e *scriptedEngine) Supported() bool { return true }

func (e *scriptedEngine) Start(_ Config, events func(Event)) (Session, error) {
	e.mu.Lock()
	e.events = events
	e.mu.Unlock()
	return scriptedSession{}, nil
}

func (e *scriptedEngine) emit(evt Event) {
	e.mu.Lock()
	events := e.events
	e.mu.Unlock()
	events(evt)
}

type scriptedSession struct{}

func (scriptedSession) Stop()  {}
func (scriptedSession) Abort() {}

func TestEmptyFinalIsSuppressed(t *testing.T) {
	engine := &scriptedEngine{}
	var finals finalCollector
	c := New(engine, Options{OnFinal: finals.add})
	t.Cleanup(c.Close)

	c.Start()
	engine.emit(Event{Kind: EventResult, Segments: []Segment{{Text: "   ", Final: true}}})
	engine.emit(Event{Kind: EventResult, Segments: []Segment{{Text: "", Final: true}}})
	engine.emit(Event{Kind: EventResult, Segments: []Segment{{Text: "real words", Final: true}}})

	waitFor(t, "one final", func() bool { return len(finals.all()) == 1 })
	if got := finals.all()[0]; got != "real words" {
		t.Fatalf("unexpected final %q", got)
	}
}

func TestFailureMapsIntoTaxonomy(t *testing.T) {
	engine := &scriptedEngine{}
	c := New(engine, Options{})
	t.Cleanup(c.Close)

	c.Start()
	engine.emit(Event{Kind: EventFailed, Code: "not-allowed"})

	waitFor(t, "error recorded", func() bool { return c.LastError() == ErrorPermission })
	if c.Listening() {
		t.Fatalf("still listening after failure")
	}
}

func TestMapErrorCode(t *testing.T) {
	cases := []struct {
		code string
		want ErrorKind
	}{
		{"not-allowed", ErrorPermission},
		{"service-not-allowed", ErrorPermission},
		{"permission-denied", ErrorPermission},
		{"no-speech", ErrorNoSpeech},
		{"network", ErrorNetwork},
		{"aborted", ErrorOther},
		{"", ErrorOther},
		{"something-new", ErrorOther},
	}
	for _, tc := range cases {
		if got := MapErrorCode(tc.code); got != tc.want {
			t.Fatalf("MapErrorCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestStaleEventsAfterStopAreDropped(t *testing.T) {
	engine := &scriptedEngine{}
	var finals finalCollector
	c := New(engine, Options{OnFinal: finals.add})
	t.Cleanup(c.Close)

	c.Start()
	c.Stop()
	engine.emit(Event{Kind: EventResult, Segments: []Segment{{Text: "late arrival", Final: true}}})

	time.Sleep(20 * time.Millisecond)
	if got := finals.all(); len(got) != 0 {
		t.Fatalf("stale final delivered after stop: %v", got)
	}
}
