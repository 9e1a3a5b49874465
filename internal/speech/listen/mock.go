package listen

import (
	"strings"
	"sync"
	"time"
)

// MockEngine replays a scripted set of phrases: each phrase is delivered
// word by word as growing interim segments, then once more as a final
// segment. One session may be live at a time, matching the platform
// engines this stands in for.
type MockEngine struct {
	script   []string
	interval time.Duration

	mu     sync.Mutex
	active *mockSession
}

type mockSession struct {
	engine  *MockEngine
	events  func(Event)
	stopped chan struct{}
	once    sync.Once
}

func NewMockEngine(script []string, interval time.Duration) *MockEngine {
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	return &MockEngine{script: script, interval: interval}
}

func (e *MockEngine) Supported() bool { return true }

func (e *MockEngine) Start(_ Config, events func(Event)) (Session, error) {
	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	s := &mockSession{engine: e, events: events, stopped: make(chan struct{})}
	e.active = s
	e.mu.Unlock()

	go s.run(e.script, e.interval)
	return s, nil
}

func (s *mockSession) run(script []string, interval time.Duration) {
	defer s.finish()
	for _, phrase := range script {
		words := strings.Fields(phrase)
		var spoken []string
		for _, w := range words {
			select {
			case <-s.stopped:
				return
			case <-time.After(interval):
			}
			spoken = append(spoken, w)
			s.events(Event{Kind: EventResult, Segments: []Segment{
				{Text: strings.Join(spoken, " "), Final: false},
			}})
		}
		select {
		case <-s.stopped:
			return
		case <-time.After(interval):
		}
		s.events(Event{Kind: EventResult, Segments: []Segment{
			{Text: phrase, Final: true},
		}})
	}
}

func (s *mockSession) finish() {
	s.engine.mu.Lock()
	if s.engine.active == s {
		s.engine.active = nil
	}
	s.engine.mu.Unlock()
	s.events(Event{Kind: EventEnded})
}

func (s *mockSession) Stop() {
	s.once.Do(func() { close(s.stopped) })
}

func (s *mockSession) Abort() {
	s.Stop()
}

// UnsupportedEngine stands in on platforms without recognition; Start
// never gets called because the controller checks Supported first.
type UnsupportedEngine struct{}

func (UnsupportedEngine) Supported() bool { return false }

func (UnsupportedEngine) Start(Config, func(Event)) (Session, error) {
	return nil, ErrAlreadyActive
}
