// Package voice picks a synthesis voice from the engine catalog using an
// ordered preference list. The catalog may still be empty when playback
// starts, so resolution comes in a synchronous flavor (best effort against
// the current snapshot) and a bounded asynchronous one that waits for the
// catalog-changed notification.
package voice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/elexicoai/elexico-core/internal/speech/synth"
)

// DefaultResolveTimeout bounds how long ResolveWait blocks before giving
// up and letting playback proceed with the engine default voice.
const DefaultResolveTimeout = 2 * time.Second

// Catalog is the slice of the synthesis engine the resolver needs.
// synth.Engine satisfies it.
type Catalog interface {
	Voices() []synth.Voice
	OnVoicesChanged(fn func()) (unsubscribe func())
}

// Rule is one preference predicate; rules are tried in order and the
// first one with a match wins.
type Rule struct {
	Name  string
	Match func(synth.Voice) bool
}

// ProviderLocale matches an exact locale from a named provider.
func ProviderLocale(provider, locale string) Rule {
	return Rule{
		Name: "provider+locale",
		Match: func(v synth.Voice) bool {
			return strings.EqualFold(v.Locale, locale) &&
				strings.Contains(strings.ToLower(v.Provider), strings.ToLower(provider))
		},
	}
}

// ExactLocale matches any voice with the target locale.
func ExactLocale(locale string) Rule {
	return Rule{
		Name:  "locale",
		Match: func(v synth.Voice) bool { return strings.EqualFold(v.Locale, locale) },
	}
}

// LanguagePrefix matches any voice whose locale shares the language part,
// e.g. "en" matches "en-IN" and "en_GB".
func LanguagePrefix(lang string) Rule {
	lower := strings.ToLower(lang)
	return Rule{
		Name: "language",
		Match: func(v synth.Voice) bool {
			loc := strings.ToLower(v.Locale)
			return loc == lower ||
				strings.HasPrefix(loc, lower+"-") ||
				strings.HasPrefix(loc, lower+"_")
		},
	}
}

// PreferenceOrder builds the standard rule chain for a locale and an
// optional preferred provider.
func PreferenceOrder(locale, provider string) []Rule {
	var rules []Rule
	if provider != "" {
		rules = append(rules, ProviderLocale(provider, locale))
	}
	rules = append(rules, ExactLocale(locale))
	if lang, _, ok := strings.Cut(locale, "-"); ok {
		rules = append(rules, LanguagePrefix(lang))
	}
	return rules
}

// Resolver resolves voices against a live catalog.
type Resolver struct {
	catalog Catalog
	timeout time.Duration
}

func NewResolver(catalog Catalog, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &Resolver{catalog: catalog, timeout: timeout}
}

// Resolve applies the rules to the current catalog snapshot. A nil result
// is a normal outcome, not an error; it means "use the engine default".
func (r *Resolver) Resolve(rules []Rule) *synth.Voice {
	return apply(r.catalog.Voices(), rules)
}

// ResolveWait resolves as soon as the catalog is non-empty, waking on the
// catalog-changed notification. It resolves exactly once: whichever of
// "catalog ready", timeout, or ctx cancellation comes first.
func (r *Resolver) ResolveWait(ctx context.Context, rules []Rule) *synth.Voice {
	voices := r.catalog.Voices()
	if v := apply(voices, rules); v != nil {
		return v
	}
	if len(voices) > 0 {
		// Catalog is loaded but nothing matches; waiting cannot help.
		return nil
	}

	ready := make(chan struct{})
	var once sync.Once
	unsubscribe := r.catalog.OnVoicesChanged(func() {
		once.Do(func() { close(ready) })
	})
	defer unsubscribe()

	// The catalog may have loaded between the snapshot and the
	// subscription; re-check before blocking. A load with no match is
	// just as final here as it is above.
	voices = r.catalog.Voices()
	if v := apply(voices, rules); v != nil {
		return v
	}
	if len(voices) > 0 {
		return nil
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return apply(r.catalog.Voices(), rules)
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func apply(voices []synth.Voice, rules []Rule) *synth.Voice {
	for _, rule := range rules {
		for _, v := range voices {
			if rule.Match(v) {
				chosen := v
				return &chosen
			}
		}
	}
	return nil
}
