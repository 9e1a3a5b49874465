// Package playback implements the speech-output controller: a small state
// machine over the synthesis engine with play/pause/resume/replay/stop
// semantics and word-level progress reporting. Any number of controllers
// may exist in one process (one per UI surface); the single-speaker
// invariant holds because every speak, stop and replay routes through the
// engine's process-wide CancelAll before anything else.
package playback

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/elexicoai/elexico-core/internal/speech/synth"
	"github.com/elexicoai/elexico-core/internal/speech/voice"
)

// State enumerates the playback session states.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Snapshot is one observable view of the session.
type Snapshot struct {
	State    State
	Progress int
	Text     string
}

// Options tune the controller. Zero values pick the defaults below.
type Options struct {
	Locale      string
	Provider    string
	Rate        float64
	Pitch       float64
	ReplayDelay time.Duration
	// Notify observes every state or progress change. Called without
	// internal locks held; may be nil.
	Notify func(Snapshot)
}

const (
	defaultLocale = "en-IN"
	defaultRate   = 0.92
	defaultPitch  = 1.0
	// Restarting synthesis back-to-back after a cancel gets dropped by
	// some engines; a short settle delay between the two is required.
	defaultReplayDelay = 70 * time.Millisecond
)

// Controller owns one playback session. All methods are safe for
// concurrent use and none of them block.
type Controller struct {
	engine   synth.Engine
	resolver *voice.Resolver
	rules    []voice.Rule
	locale   string
	rate     float64
	pitch    float64
	delay    time.Duration
	notify   func(Snapshot)

	mu        sync.Mutex
	state     State
	progress  int
	text      string
	words     int
	wordIndex int
	err       error
	gen       uint64
}

func New(engine synth.Engine, resolver *voice.Resolver, opts Options) *Controller {
	if opts.Locale == "" {
		opts.Locale = defaultLocale
	}
	if opts.Rate == 0 {
		opts.Rate = defaultRate
	}
	if opts.Pitch == 0 {
		opts.Pitch = defaultPitch
	}
	if opts.ReplayDelay <= 0 {
		opts.ReplayDelay = defaultReplayDelay
	}
	return &Controller{
		engine:   engine,
		resolver: resolver,
		rules:    voice.PreferenceOrder(opts.Locale, opts.Provider),
		locale:   opts.Locale,
		rate:     opts.Rate,
		pitch:    opts.Pitch,
		delay:    opts.ReplayDelay,
		notify:   opts.Notify,
	}
}

// Speak silences all speech in the process, binds text and starts a new
// playback session. Empty text is a no-op.
func (c *Controller) Speak(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.engine.CancelAll()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.text = text
	c.words = len(strings.Fields(text))
	c.wordIndex = 0
	c.progress = 0
	c.err = nil
	c.state = StatePlaying
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	if len(c.engine.Voices()) > 0 {
		c.startUtterance(gen, text)
		return
	}
	// Catalog not loaded yet; wait for it off the caller's path, bounded
	// by the resolver timeout.
	go c.startUtterance(gen, text)
}

// Play resumes a paused session without re-synthesizing; from any other
// state it behaves like Speak with the bound text.
func (c *Controller) Play() {
	c.mu.Lock()
	if c.state == StatePaused {
		c.state = StatePlaying
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.engine.Resume()
		c.publish(snap)
		return
	}
	text := c.text
	c.mu.Unlock()
	c.Speak(text)
}

// Pause is valid only while playing; anywhere else it is a no-op.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.state = StatePaused
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.engine.Pause()
	c.publish(snap)
}

// Replay stops playback, resets progress and restarts the bound text from
// the beginning after the settle delay.
func (c *Controller) Replay() {
	c.mu.Lock()
	text := c.text
	c.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return
	}
	c.engine.CancelAll()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.wordIndex = 0
	c.progress = 0
	c.err = nil
	c.state = StatePlaying
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	time.AfterFunc(c.delay, func() { c.startUtterance(gen, text) })
}

// Stop silences all speech in the process and resets the session.
func (c *Controller) Stop() {
	c.engine.CancelAll()

	c.mu.Lock()
	c.gen++
	changed := c.state != StateIdle || c.progress != 0
	c.state = StateIdle
	c.progress = 0
	c.wordIndex = 0
	c.err = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if changed {
		c.publish(snap)
	}
}

// SetText rebinds the controller to new text and resets the session, so
// stale audio never keeps playing against updated content.
func (c *Controller) SetText(text string) {
	c.mu.Lock()
	if c.text == text {
		c.mu.Unlock()
		return
	}
	active := c.state == StatePlaying || c.state == StatePaused
	c.gen++
	c.text = text
	c.words = len(strings.Fields(text))
	c.wordIndex = 0
	c.progress = 0
	c.err = nil
	c.state = StateIdle
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if active {
		c.engine.CancelAll()
	}
	c.publish(snap)
}

// Close stops playback; the owning surface calls it on unmount.
func (c *Controller) Close() {
	c.Stop()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Progress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Err reports the engine failure that put the session into StateError.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{State: c.state, Progress: c.progress, Text: c.text}
}

func (c *Controller) publish(snap Snapshot) {
	if c.notify != nil {
		c.notify(snap)
	}
}

// startUtterance resolves a voice (fresh for every request, because the
// catalog may have loaded since the last one) and hands the utterance to
// the engine, unless the session it belongs to has been superseded. A
// session that was paused while the voice was resolving (or while the
// replay settle timer was pending) still gets its utterance: it is
// started and immediately held, so Play can resume it later.
func (c *Controller) startUtterance(gen uint64, text string) {
	chosen := c.resolver.ResolveWait(context.Background(), c.rules)

	c.mu.Lock()
	if gen != c.gen || (c.state != StatePlaying && c.state != StatePaused) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.engine.Speak(synth.Utterance{
		Text:   text,
		Voice:  chosen,
		Locale: c.locale,
		Rate:   c.rate,
		Pitch:  c.pitch,
	}, func(evt synth.Event) { c.handleEvent(gen, evt) })

	c.mu.Lock()
	paused := gen == c.gen && c.state == StatePaused
	c.mu.Unlock()
	if paused {
		c.engine.Pause()
	}
}

// handleEvent is the single state-transition point for engine callbacks.
// Events from superseded utterances are discarded by generation.
func (c *Controller) handleEvent(gen uint64, evt synth.Event) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch evt.Kind {
	case synth.EventWordBoundary:
		c.wordIndex++
		if c.words > 0 {
			pct := int(math.Round(float64(c.wordIndex) / float64(c.words) * 100))
			if pct > 99 {
				// Pinned below 100 until the engine confirms completion.
				pct = 99
			}
			if pct > c.progress {
				c.progress = pct
			}
		}
	case synth.EventCompleted:
		c.progress = 100
		c.state = StateDone
	case synth.EventCanceled:
		// Another surface took over the speaker.
		c.state = StateIdle
		c.progress = 0
		c.wordIndex = 0
	case synth.EventFailed:
		c.state = StateError
		c.err = evt.Err
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}
