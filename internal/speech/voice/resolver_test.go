package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/elexicoai/elexico-core/internal/speech/synth"
)

func catalogOf(voices ...synth.Voice) *synth.MockEngine {
	return synth.NewMockEngine(time.Millisecond, voices, 0)
}

func TestProviderBeatsExactLocale(t *testing.T) {
	catalog := catalogOf(
		synth.Voice{ID: "ms-in", Locale: "en-IN", Provider: "Microsoft"},
		synth.Voice{ID: "g-in", Locale: "en-IN", Provider: "Google"},
	)
	r := NewResolver(catalog, time.Second)

	v := r.Resolve(PreferenceOrder("en-IN", "Google"))
	if v == nil || v.ID != "g-in" {
		t.Fatalf("expected the Google en-IN voice, got %+v", v)
	}
}

func TestExactLocaleBeatsLanguagePrefix(t *testing.T) {
	catalog := catalogOf(
		synth.Voice{ID: "g-gb", Locale: "en-GB", Provider: "Google"},
		synth.Voice{ID: "ms-in", Locale: "en-IN", Provider: "Microsoft"},
	)
	r := NewResolver(catalog, time.Second)

	v := r.Resolve(PreferenceOrder("en-IN", "Google"))
	if v == nil || v.ID != "ms-in" {
		t.Fatalf("expected the exact-locale voice, got %+v", v)
	}
}

func TestLanguagePrefixFallback(t *testing.T) {
	catalog := catalogOf(
		synth.Voice{ID: "fr", Locale: "fr-FR", Provider: "Google"},
		synth.Voice{ID: "underscore", Locale: "en_US", Provider: "Apple"},
	)
	r := NewResolver(catalog, time.Second)

	// Neither Google en-IN nor exact en-IN exists; the language prefix
	// must still match the underscore-form locale.
	v := r.Resolve(PreferenceOrder("en-IN", "Google"))
	if v == nil || v.ID != "underscore" {
		t.Fatalf("expected the en_US voice via language prefix, got %+v", v)
	}
}

func TestNoMatchIsNilNotError(t *testing.T) {
	catalog := catalogOf(synth.Voice{ID: "fr", Locale: "fr-FR", Provider: "Google"})
	r := NewResolver(catalog, time.Second)

	if v := r.Resolve(PreferenceOrder("de-DE", "")); v != nil {
		t.Fatalf("expected nil for an unmatched catalog, got %+v", v)
	}
}

func TestResolveWaitReturnsOnceCatalogLoads(t *testing.T) {
	catalog := synth.NewMockEngine(time.Millisecond,
		[]synth.Voice{{ID: "g-in", Locale: "en-IN", Provider: "Google"}},
		20*time.Millisecond)
	r := NewResolver(catalog, time.Second)

	v := r.ResolveWait(context.Background(), PreferenceOrder("en-IN", "Google"))
	if v == nil || v.ID != "g-in" {
		t.Fatalf("expected resolution after catalog load, got %+v", v)
	}
}

func TestResolveWaitIsBounded(t *testing.T) {
	// The catalog never loads within the resolver timeout.
	catalog := synth.NewMockEngine(time.Millisecond,
		[]synth.Voice{{ID: "g-in", Locale: "en-IN", Provider: "Google"}},
		time.Hour)
	r := NewResolver(catalog, 30*time.Millisecond)

	start := time.Now()
	v := r.ResolveWait(context.Background(), PreferenceOrder("en-IN", "Google"))
	elapsed := time.Since(start)

	if v != nil {
		t.Fatalf("expected nil when the catalog never loads, got %+v", v)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("ResolveWait blocked %v past its timeout", elapsed)
	}
}

func TestResolveWaitHonorsContext(t *testing.T) {
	catalog := synth.NewMockEngine(time.Millisecond, nil, time.Hour)
	r := NewResolver(catalog, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if v := r.ResolveWait(ctx, PreferenceOrder("en-IN", "")); v != nil {
		t.Fatalf("expected nil on canceled context, got %+v", v)
	}
}

// lateCatalog reports an empty catalog on the first snapshot and a
// loaded one on every call after, mimicking a load that lands between
// ResolveWait's snapshot and its subscription.
type lateCatalog struct {
	mu     sync.Mutex
	calls  int
	voices []synth.Voice
}

func (c *lateCatalog) Voices() []synth.Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls == 1 {
		return nil
	}
	return append([]synth.Voice(nil), c.voices...)
}

func (c *lateCatalog) OnVoicesChanged(func()) (unsubscribe func()) {
	return func() {}
}

func TestLoadRacingSubscriptionUnmatchedReturnsPromptly(t *testing.T) {
	catalog := &lateCatalog{voices: []synth.Voice{{ID: "hi", Locale: "hi-IN", Provider: "Google"}}}
	r := NewResolver(catalog, 5*time.Second)

	start := time.Now()
	v := r.ResolveWait(context.Background(), PreferenceOrder("en-IN", ""))
	if v != nil {
		t.Fatalf("expected nil for an unmatched catalog, got %+v", v)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("waited %v on a catalog that had already loaded", elapsed)
	}
}

func TestLoadRacingSubscriptionMatchedResolves(t *testing.T) {
	catalog := &lateCatalog{voices: []synth.Voice{{ID: "g-in", Locale: "en-IN", Provider: "Google"}}}
	r := NewResolver(catalog, 5*time.Second)

	v := r.ResolveWait(context.Background(), PreferenceOrder("en-IN", "Google"))
	if v == nil || v.ID != "g-in" {
		t.Fatalf("expected the racing load's voice, got %+v", v)
	}
}

func TestLoadedButUnmatchedDoesNotWait(t *testing.T) {
	catalog := catalogOf(synth.Voice{ID: "fr", Locale: "fr-FR", Provider: "Google"})
	r := NewResolver(catalog, time.Second)

	start := time.Now()
	v := r.ResolveWait(context.Background(), PreferenceOrder("de-DE", ""))
	if v != nil {
		t.Fatalf("expected nil, got %+v", v)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("waited %v on an already-loaded catalog", elapsed)
	}
}
