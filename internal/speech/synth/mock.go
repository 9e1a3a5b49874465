package synth

import (
	"strings"
	"sync"
	"time"
)

// MockEngine plays utterances on a timer without producing audio. The
// voice catalog loads after a configurable delay to mimic platforms that
// populate it asynchronously.
type MockEngine struct {
	mu        sync.Mutex
	wordEvery time.Duration
	voices    []Voice
	loaded    bool
	watchers  map[int]func()
	nextWatch int
	active    *mockUtterance
	paused    bool
}

type mockUtterance struct {
	events func(Event)
	words  int
	index  int
	timer  *time.Timer
}

// DefaultCatalog mirrors the voice list a desktop browser typically
// exposes: a few hosted voices plus a local fallback.
func DefaultCatalog() []Voice {
	return []Voice{
		{ID: "google-en-in", Name: "Google English (India)", Locale: "en-IN", Provider: "Google"},
		{ID: "google-en-gb", Name: "Google UK English Female", Locale: "en-GB", Provider: "Google"},
		{ID: "google-en-us", Name: "Google US English", Locale: "en-US", Provider: "Google"},
		{ID: "system-en-us", Name: "Samantha", Locale: "en_US", Provider: "Apple"},
	}
}

// NewMockEngine returns an engine that reports one word boundary every
// wordEvery and loads the given catalog after catalogDelay. A zero delay
// loads the catalog immediately.
func NewMockEngine(wordEvery time.Duration, voices []Voice, catalogDelay time.Duration) *MockEngine {
	if wordEvery <= 0 {
		wordEvery = 50 * time.Millisecond
	}
	e := &MockEngine{
		wordEvery: wordEvery,
		voices:    voices,
		watchers:  make(map[int]func()),
	}
	if catalogDelay <= 0 {
		e.loaded = true
	} else {
		time.AfterFunc(catalogDelay, e.loadCatalog)
	}
	return e
}

func (e *MockEngine) loadCatalog() {
	e.mu.Lock()
	e.loaded = true
	fns := make([]func(), 0, len(e.watchers))
	for _, fn := range e.watchers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (e *MockEngine) Speak(u Utterance, events func(Event)) {
	e.mu.Lock()
	prev := e.stopActiveLocked()
	utt := &mockUtterance{events: events, words: len(strings.Fields(u.Text))}
	e.active = utt
	e.paused = false
	utt.timer = time.AfterFunc(e.wordEvery, func() { e.tick(utt) })
	e.mu.Unlock()

	if prev != nil {
		prev.events(Event{Kind: EventCanceled})
	}
}

func (e *MockEngine) tick(utt *mockUtterance) {
	e.mu.Lock()
	if e.active != utt {
		e.mu.Unlock()
		return
	}
	if e.paused {
		e.mu.Unlock()
		return
	}
	index := utt.index
	utt.index++
	done := utt.index >= utt.words
	if done {
		e.active = nil
	} else {
		utt.timer = time.AfterFunc(e.wordEvery, func() { e.tick(utt) })
	}
	e.mu.Unlock()

	if index < utt.words {
		utt.events(Event{Kind: EventWordBoundary, WordIndex: index})
	}
	if done {
		utt.events(Event{Kind: EventCompleted})
	}
}

func (e *MockEngine) Pause() {
	e.mu.Lock()
	if e.active != nil {
		e.paused = true
		e.active.timer.Stop()
	}
	e.mu.Unlock()
}

func (e *MockEngine) Resume() {
	e.mu.Lock()
	if e.active != nil && e.paused {
		e.paused = false
		utt := e.active
		utt.timer = time.AfterFunc(e.wordEvery, func() { e.tick(utt) })
	}
	e.mu.Unlock()
}

func (e *MockEngine) CancelAll() {
	e.mu.Lock()
	prev := e.stopActiveLocked()
	e.mu.Unlock()
	if prev != nil {
		prev.events(Event{Kind: EventCanceled})
	}
}

// stopActiveLocked detaches the active utterance and returns it so the
// caller can deliver the terminal Canceled event outside the lock.
func (e *MockEngine) stopActiveLocked() *mockUtterance {
	utt := e.active
	if utt == nil {
		return nil
	}
	if utt.timer != nil {
		utt.timer.Stop()
	}
	e.active = nil
	e.paused = false
	return utt
}

func (e *MockEngine) Voices() []Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil
	}
	return append([]Voice(nil), e.voices...)
}

func (e *MockEngine) OnVoicesChanged(fn func()) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextWatch
	e.nextWatch++
	e.watchers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.watchers, id)
		e.mu.Unlock()
	}
}
