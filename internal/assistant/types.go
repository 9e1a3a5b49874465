package assistant

import "context"

// Request is one question about one slide.
type Request struct {
	SessionID    string
	Question     string
	SlideTitle   string
	SlideSummary string
	TraceID      string
}

// Responder is the opaque AI backend: question plus slide context in,
// free text out. It may fail at any time; callers always have static
// fallback text ready.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}
