package listen

import "errors"

// Config tunes one recognition session.
type Config struct {
	Locale         string
	Continuous     bool
	InterimResults bool
}

// Segment is one entry of a result batch. Final segments will not be
// revised by the engine; interim ones may still change.
type Segment struct {
	Text  string
	Final bool
}

// EventKind enumerates recognition notifications.
type EventKind int

const (
	// EventResult carries a batch of interim and/or final segments.
	EventResult EventKind = iota
	// EventEnded fires when recognition stops for any reason, including
	// silence timeout. It is the authoritative terminal signal.
	EventEnded
	// EventFailed carries the engine's raw error identifier in Code.
	EventFailed
)

// Event is delivered to the callback registered with Start.
type Event struct {
	Kind     EventKind
	Segments []Segment
	Code     string
}

// Session controls one in-flight recognition session.
type Session interface {
	// Stop requests a graceful end; the engine still delivers EventEnded.
	Stop()
	// Abort tears the session down immediately.
	Abort()
}

// ErrAlreadyActive reports a start while a session is live at the native
// layer. Harmless double-start race, not a real failure.
var ErrAlreadyActive = errors.New("recognition session already active")

// Engine abstracts the platform speech-recognition engine.
type Engine interface {
	Supported() bool
	Start(cfg Config, events func(Event)) (Session, error)
}

// ErrorKind is the closed taxonomy recognition failures map onto.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorPermission
	ErrorNoSpeech
	ErrorNetwork
	ErrorOther
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorPermission:
		return "permission"
	case ErrorNoSpeech:
		return "no-speech"
	case ErrorNetwork:
		return "network"
	case ErrorOther:
		return "other"
	}
	return "unknown"
}

// MapErrorCode folds a raw engine error identifier into the taxonomy.
func MapErrorCode(code string) ErrorKind {
	switch code {
	case "not-allowed", "service-not-allowed", "permission-denied":
		return ErrorPermission
	case "no-speech":
		return ErrorNoSpeech
	case "network":
		return ErrorNetwork
	default:
		return ErrorOther
	}
}
