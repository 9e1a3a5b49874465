package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/elexicoai/elexico-core/internal/bus"
	"github.com/elexicoai/elexico-core/internal/config"
	"github.com/elexicoai/elexico-core/internal/deck"
	"github.com/elexicoai/elexico-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers chat questions from the bus. Backend failures never
// surface to the asker: the reply falls back to the slide's static text
// and is marked as such.
type Service struct {
	cfg       config.AssistantConfig
	bus       *bus.Client
	responder Responder
	deck      *deck.Deck
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
}

func NewService(parent context.Context, cfg config.AssistantConfig, busClient *bus.Client, responder Responder, d *deck.Deck, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		responder: responder,
		deck:      d,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "assistant-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectChatQuestion, s.handleQuestion)
	if err != nil {
		return fmt.Errorf("subscribe chat questions: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleQuestion(msg *nats.Msg) {
	var question protocol.ChatQuestion
	if err := json.Unmarshal(msg.Data, &question); err != nil {
		s.logger.Warn("failed to decode chat question", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()

		reply := protocol.ChatReply{
			SessionID:  question.SessionID,
			SlideIndex: question.SlideIndex,
			TraceID:    question.TraceID,
			Timestamp:  time.Now().UTC(),
		}

		req := Request{
			SessionID: question.SessionID,
			Question:  question.Question,
			TraceID:   question.TraceID,
		}
		if slide, ok := s.deck.Slide(question.SlideIndex); ok {
			req.SlideTitle = slide.Title
			req.SlideSummary = slide.Summary
		}

		text, err := s.responder.Respond(ctx, req)
		if err != nil {
			s.logger.Warn("assistant backend failed, using fallback", slogError(err))
			reply.Reply = s.deck.Fallback(question.SlideIndex)
			reply.Fallback = true
		} else {
			reply.Reply = text
		}

		if err := s.bus.PublishJSON(protocol.SubjectChatReply, reply); err != nil {
			s.logger.Warn("failed to publish chat reply", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
