package conductor

import (
	"testing"
	"time"
)

func newTestService() *Service {
	return &Service{
		pending: make(map[string]pendingQuestion),
		clock:   time.Now,
	}
}

func TestSecondQuestionDroppedWhileInFlight(t *testing.T) {
	s := newTestService()

	if !s.begin("s1", "t1") {
		t.Fatalf("first question was not accepted")
	}
	if s.begin("s1", "t2") {
		t.Fatalf("second question accepted while the first is in flight")
	}

	s.settle("s1", "t1")
	if !s.begin("s1", "t3") {
		t.Fatalf("question not accepted after the reply settled")
	}
}

func TestReplyForStaleTraceDoesNotSettle(t *testing.T) {
	s := newTestService()

	if !s.begin("s1", "t1") {
		t.Fatalf("first question was not accepted")
	}
	s.settle("s1", "older-trace")
	if s.begin("s1", "t2") {
		t.Fatalf("a stale reply settled the in-flight question")
	}
	s.settle("s1", "t1")
	if !s.begin("s1", "t2") {
		t.Fatalf("matching reply did not settle the question")
	}
}

func TestLostReplyExpiresAfterTimeout(t *testing.T) {
	s := newTestService()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	if !s.begin("s1", "t1") {
		t.Fatalf("first question was not accepted")
	}
	now = now.Add(pendingTimeout - time.Second)
	if s.begin("s1", "t2") {
		t.Fatalf("pending question expired before the timeout")
	}
	now = now.Add(2 * time.Second)
	if !s.begin("s1", "t3") {
		t.Fatalf("pending question still blocking after the timeout")
	}
}

func TestSessionsPendIndependently(t *testing.T) {
	s := newTestService()

	if !s.begin("s1", "t1") || !s.begin("s2", "t2") {
		t.Fatalf("distinct sessions should not block each other")
	}
	s.settle("s1", "t1")
	if s.begin("s2", "t3") {
		t.Fatalf("settling one session unblocked another")
	}
}
