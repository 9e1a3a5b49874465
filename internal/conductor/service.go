// Package conductor wires the speech pipeline together: finalized
// dictation becomes a chat question about the current slide, and the
// assistant's reply is sent back to the chat surface to be read aloud.
package conductor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/elexicoai/elexico-core/internal/bus"
	"github.com/elexicoai/elexico-core/internal/config"
	"github.com/elexicoai/elexico-core/internal/protocol"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type Service struct {
	cfg    config.SurfacesConfig
	bus    *bus.Client
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subTranscripts *nats.Subscription
	subReplies     *nats.Subscription
	subSlides      *nats.Subscription

	mu      sync.Mutex
	slide   int
	pending map[string]pendingQuestion
	clock   func() time.Time
}

// pendingTimeout bounds how long a lost reply can block a session's next
// question. It sits above the assistant's own request timeout.
const pendingTimeout = 30 * time.Second

type pendingQuestion struct {
	traceID string
	asked   time.Time
}

func NewService(parent context.Context, cfg config.SurfacesConfig, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		logger:  logger.With(slog.String("component", "conductor")),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]pendingQuestion),
		clock:   time.Now,
	}
}

// begin registers a question in flight for the session and reports
// whether the caller should publish it. A session asks one question at
// a time; a pending entry older than pendingTimeout counts as lost and
// is replaced.
func (s *Service) begin(sessionID, traceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[sessionID]; ok && s.clock().Sub(p.asked) < pendingTimeout {
		return false
	}
	s.pending[sessionID] = pendingQuestion{traceID: traceID, asked: s.clock()}
	return true
}

// settle clears the pending slot when a reply arrives. A reply carrying
// a trace settles only its own question, so a late answer to a replaced
// question cannot clear the one still in flight.
func (s *Service) settle(sessionID, traceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[sessionID]
	if !ok {
		return
	}
	if traceID != "" && p.traceID != "" && traceID != p.traceID {
		return
	}
	delete(s.pending, sessionID)
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	conn := s.bus.Conn()

	sub, err := conn.Subscribe(protocol.SubjectListenFinal, s.handleTranscript)
	if err != nil {
		return err
	}
	s.subTranscripts = sub

	subReplies, err := conn.Subscribe(protocol.SubjectChatReply, s.handleReply)
	if err != nil {
		_ = s.subTranscripts.Drain()
		return err
	}
	s.subReplies = subReplies

	subSlides, err := conn.Subscribe(protocol.SubjectSlideChange, s.handleSlideChange)
	if err != nil {
		_ = s.subTranscripts.Drain()
		_ = s.subReplies.Drain()
		return err
	}
	s.subSlides = subSlides
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range []*nats.Subscription{s.subTranscripts, s.subReplies, s.subSlides} {
		if sub != nil {
			_ = sub.Drain()
		}
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subTranscripts != nil && s.subReplies != nil && s.subSlides != nil)
}

func (s *Service) handleSlideChange(msg *nats.Msg) {
	var change protocol.SlideChange
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		s.logger.Warn("conductor failed to decode slide change", slogError(err))
		return
	}
	s.mu.Lock()
	s.slide = change.SlideIndex
	s.mu.Unlock()
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("conductor failed to decode transcript", slogError(err))
		return
	}
	if transcript.Interim || transcript.Text == "" {
		return
	}

	traceID := uuid.NewString()
	if !s.begin(transcript.SessionID, traceID) {
		s.logger.Debug("dropping transcript while a question is in flight",
			slog.String("session", transcript.SessionID))
		return
	}
	s.mu.Lock()
	slide := s.slide
	s.mu.Unlock()

	question := protocol.ChatQuestion{
		SessionID:  transcript.SessionID,
		SlideIndex: slide,
		Question:   transcript.Text,
		TraceID:    traceID,
	}
	if err := s.bus.PublishJSON(protocol.SubjectChatQuestion, question); err != nil {
		s.logger.Warn("conductor failed to publish question", slogError(err))
	}
}

func (s *Service) handleReply(msg *nats.Msg) {
	var reply protocol.ChatReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		s.logger.Warn("conductor failed to decode reply", slogError(err))
		return
	}
	s.settle(reply.SessionID, reply.TraceID)
	if reply.Reply == "" {
		return
	}

	cmd := protocol.PlaybackCommand{
		SessionID: reply.SessionID,
		Surface:   protocol.SurfaceChat,
		Action:    "speak",
		Text:      reply.Reply,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		subject := protocol.SubjectPlaybackCommandPrefix + "." + protocol.SurfaceChat
		if err := s.bus.PublishJSON(subject, cmd); err != nil {
			s.logger.Warn("conductor failed to publish playback command", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
