package assistant

import (
	"context"
	"strings"
	"time"
)

type mockResponder struct{}

func NewMockResponder() Responder { return &mockResponder{} }

func (m *mockResponder) Respond(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return req.SlideSummary, nil
	}
	return "Regarding " + req.SlideTitle + ": " + req.SlideSummary, nil
}
