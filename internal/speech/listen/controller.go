// Package listen implements the speech-input controller: a start/stop-able
// listening session over the recognition engine that publishes a live
// interim preview and delivers finalized transcript segments to a consumer
// callback. Accumulating delivered text is the consumer's business; the
// controller keeps no transcript history.
package listen

import (
	"errors"
	"strings"
	"sync"
)

// Snapshot is one observable view of the listening session.
type Snapshot struct {
	Listening bool
	Interim   string
	LastError ErrorKind
}

// Options configure a controller.
type Options struct {
	Locale string
	// OnFinal receives each non-empty finalized transcript exactly once.
	OnFinal func(text string)
	// Notify observes every snapshot change; may be nil.
	Notify func(Snapshot)
}

const defaultListenLocale = "en-IN"

// Controller owns one listening session. Platform support is checked once
// at construction; on unsupported platforms Start is permanently a no-op.
type Controller struct {
	engine    Engine
	cfg       Config
	onFinal   func(string)
	notify    func(Snapshot)
	supported bool

	mu        sync.Mutex
	listening bool
	interim   string
	lastErr   ErrorKind
	session   Session
	gen       uint64
}

func New(engine Engine, opts Options) *Controller {
	if opts.Locale == "" {
		opts.Locale = defaultListenLocale
	}
	return &Controller{
		engine:    engine,
		cfg:       Config{Locale: opts.Locale, Continuous: true, InterimResults: true},
		onFinal:   opts.OnFinal,
		notify:    opts.Notify,
		supported: engine.Supported(),
	}
}

// Supported reports whether the platform has a recognition engine at all,
// so callers can hide voice-input affordances.
func (c *Controller) Supported() bool { return c.supported }

// Start begins a continuous, interim-enabled recognition session. No-op
// when unsupported or already listening. A double-start race at the
// native layer is swallowed, not surfaced as an error.
func (c *Controller) Start() {
	if !c.supported {
		return
	}
	c.mu.Lock()
	if c.listening {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.listening = true
	c.interim = ""
	c.lastErr = ErrorNone
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	session, err := c.engine.Start(c.cfg, func(evt Event) { c.handleEvent(gen, evt) })
	if errors.Is(err, ErrAlreadyActive) {
		// Harmless double-start race at the native layer; treat it as
		// already-listening.
		return
	}
	if err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.listening = false
			c.lastErr = ErrorOther
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.publish(snap)
		return
	}
	c.mu.Lock()
	if gen == c.gen && c.listening {
		c.session = session
	} else {
		// Stopped while the engine was starting up.
		c.mu.Unlock()
		session.Abort()
		return
	}
	c.mu.Unlock()
}

// Stop ends the session and reflects that immediately: listening goes
// false and the interim preview clears without waiting for the engine's
// own end notification.
func (c *Controller) Stop() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.gen++
	changed := c.listening || c.interim != ""
	c.listening = false
	c.interim = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if session != nil {
		session.Stop()
	}
	if changed {
		c.publish(snap)
	}
}

// Close forcibly aborts any in-progress session; the owning surface calls
// it on unmount so no background recognition lingers.
func (c *Controller) Close() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.gen++
	c.listening = false
	c.interim = ""
	c.mu.Unlock()

	if session != nil {
		session.Abort()
	}
}

func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

func (c *Controller) Interim() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interim
}

func (c *Controller) LastError() ErrorKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{Listening: c.listening, Interim: c.interim, LastError: c.lastErr}
}

func (c *Controller) publish(snap Snapshot) {
	if c.notify != nil {
		c.notify(snap)
	}
}

func (c *Controller) handleEvent(gen uint64, evt Event) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	var final string
	switch evt.Kind {
	case EventResult:
		var interim strings.Builder
		var finals strings.Builder
		for _, seg := range evt.Segments {
			if seg.Final {
				finals.WriteString(seg.Text)
			} else {
				interim.WriteString(seg.Text)
			}
		}
		c.interim = interim.String()
		// Silence can surface as a zero-length final segment; deliver
		// only when something survives trimming.
		final = strings.TrimSpace(finals.String())
		if final != "" {
			c.interim = ""
		}
	case EventEnded:
		c.listening = false
		c.interim = ""
		c.session = nil
	case EventFailed:
		c.lastErr = MapErrorCode(evt.Code)
		c.listening = false
		c.interim = ""
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if final != "" && c.onFinal != nil {
		c.onFinal(final)
	}
	c.publish(snap)
}
