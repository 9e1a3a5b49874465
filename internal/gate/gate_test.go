package gate

import "testing"

func TestVerify(t *testing.T) {
	g := New("2468")
	if !g.Verify("2468") {
		t.Fatalf("correct code rejected")
	}
	for _, code := range []string{"", "2", "246", "24680", "1357", "246 "} {
		if g.Verify(code) {
			t.Fatalf("code %q accepted", code)
		}
	}
}

func TestAdmitMintsUniqueSessions(t *testing.T) {
	g := New("2468")

	if _, ok := g.Admit("0000"); ok {
		t.Fatalf("wrong code admitted")
	}

	first, ok := g.Admit("2468")
	if !ok || first == "" {
		t.Fatalf("correct code not admitted")
	}
	second, ok := g.Admit("2468")
	if !ok || second == "" {
		t.Fatalf("repeat admit failed")
	}
	if first == second {
		t.Fatalf("session IDs must be unique, got %q twice", first)
	}
}
