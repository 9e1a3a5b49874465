// Package surface hosts the UI surfaces of the presentation: the chat
// panel (one speech-output controller plus the dictation controller) and
// the summary player (its own speech-output controller). Each surface
// owns its playback session independently; the single-speaker invariant
// across them comes from the shared engine's process-wide cancel, which
// every speak, stop and replay routes through.
package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/elexicoai/elexico-core/internal/bus"
	"github.com/elexicoai/elexico-core/internal/config"
	"github.com/elexicoai/elexico-core/internal/deck"
	"github.com/elexicoai/elexico-core/internal/protocol"
	"github.com/elexicoai/elexico-core/internal/speech/listen"
	"github.com/elexicoai/elexico-core/internal/speech/playback"
	"github.com/elexicoai/elexico-core/internal/speech/synth"
	"github.com/elexicoai/elexico-core/internal/speech/voice"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Service struct {
	cfg    config.SurfacesConfig
	bus    *bus.Client
	deck   *deck.Deck
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	players  map[string]*playback.Controller
	listener *listen.Controller

	subs []*nats.Subscription

	mu          sync.Mutex
	sessionID   string
	lastInterim string
	lastErr     listen.ErrorKind

	utterances  metric.Int64Counter
	transcripts metric.Int64Counter
}

// NewService builds both surfaces on top of the shared engines.
func NewService(parent context.Context, cfg config.SurfacesConfig, synthCfg config.SynthesisConfig, recogCfg config.RecognitionConfig, busClient *bus.Client, engine synth.Engine, recognizer listen.Engine, d *deck.Deck, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:       cfg,
		bus:       busClient,
		deck:      d,
		logger:    logger.With(slog.String("component", "surface-service")),
		ctx:       ctx,
		cancel:    cancel,
		players:   make(map[string]*playback.Controller),
		sessionID: "local",
	}

	meter := otel.Meter("github.com/elexicoai/elexico-core/runtime")
	if counter, err := meter.Int64Counter("elexico.speech.utterances",
		metric.WithDescription("Utterances started per surface")); err == nil {
		s.utterances = counter
	}
	if counter, err := meter.Int64Counter("elexico.speech.transcripts",
		metric.WithDescription("Finalized dictation transcripts")); err == nil {
		s.transcripts = counter
	}

	resolver := voice.NewResolver(engine, time.Duration(synthCfg.ResolveTimeoutMS)*time.Millisecond)
	for _, name := range []string{protocol.SurfaceChat, protocol.SurfaceSummary} {
		name := name
		s.players[name] = playback.New(engine, resolver, playback.Options{
			Locale:      synthCfg.Locale,
			Provider:    synthCfg.VoiceProvider,
			Rate:        synthCfg.Rate,
			Pitch:       synthCfg.Pitch,
			ReplayDelay: time.Duration(synthCfg.ReplayDelayMS) * time.Millisecond,
			Notify:      func(snap playback.Snapshot) { s.publishPlaybackState(name, snap) },
		})
	}

	s.listener = listen.New(recognizer, listen.Options{
		Locale:  recogCfg.Locale,
		OnFinal: s.publishFinalTranscript,
		Notify:  s.publishListenState,
	})

	// The summary player opens bound to the first slide.
	if slide, ok := d.Slide(0); ok {
		s.players[protocol.SurfaceSummary].SetText(slide.Summary)
	}

	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	conn := s.bus.Conn()

	cmdSub, err := conn.Subscribe(protocol.SubjectPlaybackCommandPrefix+".*", s.handlePlaybackCommand)
	if err != nil {
		return fmt.Errorf("subscribe playback commands: %w", err)
	}
	s.subs = append(s.subs, cmdSub)

	listenSub, err := conn.Subscribe(protocol.SubjectListenCommand, s.handleListenCommand)
	if err != nil {
		return fmt.Errorf("subscribe listen commands: %w", err)
	}
	s.subs = append(s.subs, listenSub)

	slideSub, err := conn.Subscribe(protocol.SubjectSlideChange, s.handleSlideChange)
	if err != nil {
		return fmt.Errorf("subscribe slide changes: %w", err)
	}
	s.subs = append(s.subs, slideSub)

	return nil
}

// Close mirrors a surface unmount: playback stops and any in-progress
// recognition is aborted rather than left running in the background.
func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	for _, player := range s.players {
		player.Close()
	}
	s.listener.Close()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || len(s.subs) == 3
}

// Player exposes a surface's controller; used by the HTTP layer to report
// playback state.
func (s *Service) Player(surfaceName string) *playback.Controller {
	return s.players[surfaceName]
}

// Listener exposes the dictation controller.
func (s *Service) Listener() *listen.Controller {
	return s.listener
}

func (s *Service) handlePlaybackCommand(msg *nats.Msg) {
	var cmd protocol.PlaybackCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("failed to decode playback command", slogError(err))
		return
	}
	if cmd.Surface == "" {
		cmd.Surface = surfaceFromSubject(msg.Subject)
	}
	s.rememberSession(cmd.SessionID)
	if err := s.Apply(cmd); err != nil {
		s.logger.Warn("playback command rejected",
			slog.String("surface", cmd.Surface),
			slog.String("action", cmd.Action),
			slogError(err))
	}
}

// Apply executes one playback command against the owning surface.
func (s *Service) Apply(cmd protocol.PlaybackCommand) error {
	player, ok := s.players[cmd.Surface]
	if !ok {
		return fmt.Errorf("unknown surface %q", cmd.Surface)
	}
	switch cmd.Action {
	case "speak":
		s.countUtterance(cmd.Surface)
		player.Speak(cmd.Text)
	case "play":
		player.Play()
	case "pause":
		player.Pause()
	case "replay":
		s.countUtterance(cmd.Surface)
		player.Replay()
	case "stop":
		player.Stop()
	case "bind":
		player.SetText(cmd.Text)
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
	return nil
}

func (s *Service) handleListenCommand(msg *nats.Msg) {
	var cmd protocol.ListenCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("failed to decode listen command", slogError(err))
		return
	}
	s.rememberSession(cmd.SessionID)
	switch cmd.Action {
	case "start":
		s.listener.Start()
	case "stop":
		s.listener.Stop()
	default:
		s.logger.Warn("unknown listen action", slog.String("action", cmd.Action))
	}
}

// handleSlideChange applies the lifecycle coupling: navigating away stops
// chat playback and rebinds the summary player to the new slide, so stale
// audio never plays against updated content.
func (s *Service) handleSlideChange(msg *nats.Msg) {
	var change protocol.SlideChange
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		s.logger.Warn("failed to decode slide change", slogError(err))
		return
	}
	s.rememberSession(change.SessionID)

	s.players[protocol.SurfaceChat].Stop()

	slide, ok := s.deck.Slide(change.SlideIndex)
	if !ok {
		s.logger.Warn("slide change out of range", slog.Int("index", change.SlideIndex))
		return
	}
	s.players[protocol.SurfaceSummary].SetText(slide.Summary)
}

func (s *Service) publishPlaybackState(surfaceName string, snap playback.Snapshot) {
	state := protocol.PlaybackState{
		SessionID: s.session(),
		Surface:   surfaceName,
		State:     snap.State.String(),
		Progress:  snap.Progress,
		Text:      snap.Text,
		Timestamp: time.Now().UTC(),
	}
	subject := protocol.SubjectPlaybackStatePrefix + "." + surfaceName
	if err := s.bus.PublishJSON(subject, state); err != nil {
		s.logger.Warn("failed to publish playback state", slogError(err))
	}
}

func (s *Service) publishFinalTranscript(text string) {
	if s.transcripts != nil {
		s.transcripts.Add(s.ctx, 1)
	}
	transcript := protocol.Transcript{
		SessionID: s.session(),
		Text:      text,
		Interim:   false,
		Timestamp: time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectListenFinal, transcript); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func (s *Service) publishListenState(snap listen.Snapshot) {
	s.mu.Lock()
	interimChanged := snap.Interim != s.lastInterim
	errChanged := snap.LastError != s.lastErr
	s.lastInterim = snap.Interim
	s.lastErr = snap.LastError
	s.mu.Unlock()

	if interimChanged {
		transcript := protocol.Transcript{
			SessionID: s.session(),
			Text:      snap.Interim,
			Interim:   true,
			Timestamp: time.Now().UTC(),
		}
		_ = s.bus.PublishJSON(protocol.SubjectListenInterim, transcript)
	}
	if errChanged && snap.LastError != listen.ErrorNone {
		failure := protocol.ListenError{
			SessionID: s.session(),
			Kind:      snap.LastError.String(),
			Timestamp: time.Now().UTC(),
		}
		_ = s.bus.PublishJSON(protocol.SubjectListenError, failure)
	}
}

func (s *Service) countUtterance(surfaceName string) {
	if s.utterances != nil {
		s.utterances.Add(s.ctx, 1, metric.WithAttributes(attribute.String("surface", surfaceName)))
	}
}

func (s *Service) rememberSession(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

func (s *Service) session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func surfaceFromSubject(subject string) string {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 || idx == len(subject)-1 {
		return ""
	}
	return subject[idx+1:]
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
