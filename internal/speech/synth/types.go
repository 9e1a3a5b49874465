package synth

// Voice describes one entry in the engine's voice catalog.
type Voice struct {
	ID       string
	Name     string
	Locale   string
	Provider string
}

// Utterance is one discrete request to synthesize and play a text string.
// A nil Voice leaves the choice to the engine default.
type Utterance struct {
	Text   string
	Voice  *Voice
	Locale string
	Rate   float64
	Pitch  float64
}

// EventKind enumerates playback notifications for one utterance.
type EventKind int

const (
	// EventWordBoundary marks progression to the next word.
	EventWordBoundary EventKind = iota
	// EventCompleted fires once when the utterance finishes playing.
	EventCompleted
	// EventCanceled fires when CancelAll silences the utterance.
	EventCanceled
	// EventFailed reports an engine failure; Err carries the cause.
	EventFailed
)

// Event is delivered to the callback registered with Speak. For one
// utterance the engine delivers word boundaries in order followed by
// exactly one terminal event (Completed, Canceled or Failed).
type Event struct {
	Kind      EventKind
	WordIndex int
	Err       error
}

// Engine abstracts the platform speech-synthesis engine. Implementations
// behave as process-wide singletons: CancelAll silences every in-flight
// utterance no matter which caller started it, and Pause/Resume act on
// whatever is currently playing. The voice catalog may populate
// asynchronously; OnVoicesChanged observes that.
type Engine interface {
	Speak(u Utterance, events func(Event))
	Pause()
	Resume()
	CancelAll()
	Voices() []Voice
	OnVoicesChanged(fn func()) (unsubscribe func())
}
