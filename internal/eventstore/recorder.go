package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/elexicoai/elexico-core/internal/bus"
	"github.com/elexicoai/elexico-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Recorder subscribes to the bus and appends the session timeline to the
// store: what was asked, what was answered, what was spoken through.
type Recorder struct {
	store  *Store
	bus    *bus.Client
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
}

func NewRecorder(parent context.Context, store *Store, busClient *bus.Client, logger *slog.Logger) *Recorder {
	ctx, cancel := context.WithCancel(parent)
	return &Recorder{
		store:  store,
		bus:    busClient,
		logger: logger.With(slog.String("component", "timeline-recorder")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Recorder) Start() error {
	conn := r.bus.Conn()
	subjects := map[string]nats.MsgHandler{
		protocol.SubjectSlideChange:                r.handleSlideChange,
		protocol.SubjectListenFinal:                r.handleTranscript,
		protocol.SubjectChatQuestion:               r.handleQuestion,
		protocol.SubjectChatReply:                  r.handleReply,
		protocol.SubjectPlaybackStatePrefix + ".*": r.handlePlaybackState,
	}
	for subject, handler := range subjects {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			r.Close()
			return err
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

func (r *Recorder) Close() {
	r.cancel()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.wg.Wait()
}

func (r *Recorder) handleSlideChange(msg *nats.Msg) {
	var change protocol.SlideChange
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		return
	}
	r.append(change.SessionID, "", EventSlideChange, msg.Data)
}

func (r *Recorder) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil || transcript.Interim {
		return
	}
	r.append(transcript.SessionID, "", EventTranscriptFinal, msg.Data)
}

func (r *Recorder) handleQuestion(msg *nats.Msg) {
	var question protocol.ChatQuestion
	if err := json.Unmarshal(msg.Data, &question); err != nil {
		return
	}
	r.append(question.SessionID, question.TraceID, EventChatQuestion, msg.Data)
}

func (r *Recorder) handleReply(msg *nats.Msg) {
	var reply protocol.ChatReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return
	}
	r.append(reply.SessionID, reply.TraceID, EventChatReply, msg.Data)
}

// handlePlaybackState records only completed playback; the intermediate
// progress snapshots are too chatty to keep.
func (r *Recorder) handlePlaybackState(msg *nats.Msg) {
	var state protocol.PlaybackState
	if err := json.Unmarshal(msg.Data, &state); err != nil {
		return
	}
	if state.State != "done" {
		return
	}
	r.append(state.SessionID, "", EventPlaybackDone, msg.Data)
}

func (r *Recorder) append(sessionID, traceID, eventType string, payload []byte) {
	if sessionID == "" {
		sessionID = "local"
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.store.StartSession(r.ctx, sessionID); err != nil {
			r.logger.Warn("failed to upsert session", slog.String("error", err.Error()))
			return
		}
		evt := Event{SessionID: sessionID, TraceID: traceID, Type: eventType, Payload: payload}
		if err := r.store.Append(r.ctx, evt); err != nil {
			r.logger.Warn("failed to append timeline event", slog.String("error", err.Error()))
		}
	}()
}
