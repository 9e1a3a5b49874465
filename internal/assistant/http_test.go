package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPResponderRoundTrip(t *testing.T) {
	var got httpRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(httpResponse{Reply: "Caching keeps hot data close."})
	}))
	t.Cleanup(server.Close)

	responder := NewHTTPResponder(server.URL)
	reply, err := responder.Respond(context.Background(), Request{
		SessionID:    "s-1",
		Question:     "why do we cache",
		SlideTitle:   "Caching",
		SlideSummary: "A cache keeps hot data close.",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply != "Caching keeps hot data close." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got.Question != "why do we cache" || got.SlideTitle != "Caching" || got.SessionID != "s-1" {
		t.Fatalf("backend saw wrong payload: %+v", got)
	}
	if got.SlideContext != "A cache keeps hot data close." {
		t.Fatalf("slide context not forwarded: %q", got.SlideContext)
	}
}

func TestHTTPResponderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	responder := NewHTTPResponder(server.URL)
	if _, err := responder.Respond(context.Background(), Request{Question: "q"}); err == nil {
		t.Fatalf("expected error on 500 response")
	}
}

func TestHTTPResponderEmptyReplyIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(httpResponse{Reply: "   "})
	}))
	t.Cleanup(server.Close)

	responder := NewHTTPResponder(server.URL)
	if _, err := responder.Respond(context.Background(), Request{Question: "q"}); err == nil {
		t.Fatalf("expected error on blank reply")
	}
}

func TestHTTPResponderHonorsContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	responder := NewHTTPResponder(server.URL)
	if _, err := responder.Respond(ctx, Request{Question: "q"}); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestMockResponderUsesSlideContext(t *testing.T) {
	responder := NewMockResponder()
	reply, err := responder.Respond(context.Background(), Request{
		Question:     "what is this about",
		SlideTitle:   "Queues",
		SlideSummary: "Queues decouple producers from consumers.",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply == "" {
		t.Fatalf("expected a reply")
	}

	// A blank question falls back to reading the slide itself.
	reply, err = responder.Respond(context.Background(), Request{SlideSummary: "Just the summary."})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply != "Just the summary." {
		t.Fatalf("unexpected reply %q", reply)
	}
}
