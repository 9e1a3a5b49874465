package protocol

import "time"

// PlaybackCommand drives one surface's speech-output controller.
type PlaybackCommand struct {
	SessionID string `json:"session_id"`
	Surface   string `json:"surface"`
	Action    string `json:"action"` // speak, play, pause, replay, stop, bind
	Text      string `json:"text,omitempty"`
}

// PlaybackState is a snapshot of one surface's playback session.
type PlaybackState struct {
	SessionID string    `json:"session_id"`
	Surface   string    `json:"surface"`
	State     string    `json:"state"`
	Progress  int       `json:"progress"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ListenCommand starts or stops the dictation session.
type ListenCommand struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"` // start, stop
}

// Transcript carries recognition output: a live interim preview or a
// finalized segment.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Interim   bool      `json:"interim"`
	Timestamp time.Time `json:"timestamp"`
}

// ListenError reports a mapped recognition failure.
type ListenError struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"` // permission, no-speech, network, other
	Timestamp time.Time `json:"timestamp"`
}

// ChatQuestion asks the assistant about the current slide.
type ChatQuestion struct {
	SessionID  string `json:"session_id"`
	SlideIndex int    `json:"slide_index"`
	Question   string `json:"question"`
	TraceID    string `json:"trace_id,omitempty"`
}

// ChatReply is the assistant's answer. Fallback marks replies substituted
// from static slide text after a backend failure.
type ChatReply struct {
	SessionID  string    `json:"session_id"`
	SlideIndex int       `json:"slide_index"`
	Reply      string    `json:"reply"`
	Fallback   bool      `json:"fallback"`
	TraceID    string    `json:"trace_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SlideChange announces navigation to another slide.
type SlideChange struct {
	SessionID  string    `json:"session_id"`
	SlideIndex int       `json:"slide_index"`
	Timestamp  time.Time `json:"timestamp"`
}

// Surface names used on playback subjects.
const (
	SurfaceChat    = "chat"
	SurfaceSummary = "summary"
)

const (
	SubjectPlaybackCommandPrefix = "speech.playback.cmd" // + "." + surface
	SubjectPlaybackStatePrefix   = "speech.playback.state"
	SubjectListenCommand         = "speech.listen.cmd"
	SubjectListenInterim         = "speech.listen.interim"
	SubjectListenFinal           = "speech.listen.final"
	SubjectListenError           = "speech.listen.error"
	SubjectChatQuestion          = "chat.question"
	SubjectChatReply             = "chat.reply"
	SubjectSlideChange           = "deck.slide.change"
)
