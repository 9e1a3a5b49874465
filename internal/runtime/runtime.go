// Package runtime assembles the daemon: telemetry, the embedded bus,
// the event store, the speech engines and the services that sit on top
// of them, plus the HTTP control surface the browser clients talk to.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elexicoai/elexico-core/internal/assistant"
	"github.com/elexicoai/elexico-core/internal/bus"
	"github.com/elexicoai/elexico-core/internal/conductor"
	"github.com/elexicoai/elexico-core/internal/config"
	"github.com/elexicoai/elexico-core/internal/deck"
	"github.com/elexicoai/elexico-core/internal/eventstore"
	"github.com/elexicoai/elexico-core/internal/gate"
	"github.com/elexicoai/elexico-core/internal/natsserver"
	"github.com/elexicoai/elexico-core/internal/presence"
	"github.com/elexicoai/elexico-core/internal/protocol"
	"github.com/elexicoai/elexico-core/internal/speech/listen"
	"github.com/elexicoai/elexico-core/internal/speech/synth"
	"github.com/elexicoai/elexico-core/internal/surface"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer     *http.Server
	telemetryClose func(context.Context) error
	metricsHandler http.Handler
	ready          atomic.Bool
	wg             sync.WaitGroup

	gatekeeper *gate.Gate
	slides     *deck.Deck
	busClient  *bus.Client
	surfaces   *surface.Service
	registry   *presence.Registry
	store      *eventstore.Store
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component, serves until ctx is canceled and
// then shuts the stack down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry
	r.metricsHandler = metricsHandler

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()
	r.busClient = busClient

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()
	r.store = store

	recorder := eventstore.NewRecorder(ctx, store, busClient, r.logger)
	if err := recorder.Start(); err != nil {
		return fmt.Errorf("failed to start timeline recorder: %w", err)
	}
	defer recorder.Close()

	slides, err := deck.Load(r.cfg.Deck.Path)
	if err != nil {
		return fmt.Errorf("failed to load deck: %w", err)
	}
	r.slides = slides
	r.gatekeeper = gate.New(r.cfg.Gate.AccessCode)

	synthEngine, err := r.buildSynthEngine()
	if err != nil {
		return fmt.Errorf("failed to build synthesis engine: %w", err)
	}
	listenEngine, err := r.buildListenEngine()
	if err != nil {
		return fmt.Errorf("failed to build recognition engine: %w", err)
	}

	surfaces := surface.NewService(ctx, r.cfg.Surfaces, r.cfg.Synthesis, r.cfg.Recognition, busClient, synthEngine, listenEngine, slides, r.logger)
	if err := surfaces.Start(); err != nil {
		return fmt.Errorf("failed to start surfaces: %w", err)
	}
	defer surfaces.Close()
	r.surfaces = surfaces

	responder := r.buildResponder()
	assistantSvc := assistant.NewService(ctx, r.cfg.Assistant, busClient, responder, slides, r.logger)
	if err := assistantSvc.Start(); err != nil {
		return fmt.Errorf("failed to start assistant: %w", err)
	}
	defer assistantSvc.Close()

	conductorSvc := conductor.NewService(ctx, r.cfg.Surfaces, busClient, r.logger)
	if err := conductorSvc.Start(); err != nil {
		return fmt.Errorf("failed to start conductor: %w", err)
	}
	defer conductorSvc.Close()

	registry, err := presence.NewRegistry(ctx, r.cfg.Node, []string{protocol.SurfaceChat, protocol.SurfaceSummary}, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start presence registry: %w", err)
	}
	defer registry.Close()
	r.registry = registry

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.Int("slides", slides.Count()),
		slog.String("synthesis", r.cfg.Synthesis.Mode),
		slog.String("recognition", r.cfg.Recognition.Mode))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildSynthEngine() (synth.Engine, error) {
	switch r.cfg.Synthesis.Mode {
	case "exec":
		return synth.NewExecEngine(r.cfg.Synthesis.Command, r.cfg.Synthesis.VoicesCommand)
	default:
		return synth.NewMockEngine(
			time.Duration(r.cfg.Synthesis.MockWordMS)*time.Millisecond,
			synth.DefaultCatalog(),
			time.Duration(r.cfg.Synthesis.MockCatalogDelayMS)*time.Millisecond,
		), nil
	}
}

func (r *Runtime) buildListenEngine() (listen.Engine, error) {
	switch r.cfg.Recognition.Mode {
	case "exec":
		return listen.NewExecEngine(r.cfg.Recognition.Command)
	case "off":
		return listen.UnsupportedEngine{}, nil
	default:
		return listen.NewMockEngine([]string{"what does this slide cover"}, 150*time.Millisecond), nil
	}
}

func (r *Runtime) buildResponder() assistant.Responder {
	if r.cfg.Assistant.Mode == "http" {
		return assistant.NewHTTPResponder(r.cfg.Assistant.Endpoint)
	}
	return assistant.NewMockResponder()
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metricsHandler != nil {
		mux.Handle("/metrics", r.metricsHandler)
	}
	mux.HandleFunc("/v1/gate", r.handleGate)
	mux.HandleFunc("/v1/slides", r.handleSlides)
	mux.HandleFunc("/v1/surfaces", r.handleSurfaces)
	mux.HandleFunc("/v1/clients", r.handleClients)
	mux.HandleFunc("/v1/playback", r.handlePlayback)
	mux.HandleFunc("/v1/listen", r.handleListen)
	mux.HandleFunc("GET /v1/sessions/{id}/timeline", r.handleTimeline)
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleGate admits a viewer: the right four-digit code opens a new
// session. Comparison is constant time; there is no lockout, matching a
// shared-screen access code rather than a credential.
func (r *Runtime) handleGate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sessionID, ok := r.gatekeeper.Admit(body.Code)
	if !ok {
		http.Error(w, "invalid access code", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"session_id": sessionID})
}

func (r *Runtime) handleSlides(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{
		"count":  r.slides.Count(),
		"slides": r.slides.Slides(),
	})
}

type surfaceStatus struct {
	State    string `json:"state"`
	Progress int    `json:"progress"`
	Text     string `json:"text,omitempty"`
}

type listenStatus struct {
	Supported bool   `json:"supported"`
	Listening bool   `json:"listening"`
	Interim   string `json:"interim,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// handleSurfaces reports the live playback and dictation state; the
// browser polls this to render controls after a reconnect.
func (r *Runtime) handleSurfaces(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	playback := make(map[string]surfaceStatus)
	for _, name := range []string{protocol.SurfaceChat, protocol.SurfaceSummary} {
		if player := r.surfaces.Player(name); player != nil {
			snap := player.Snapshot()
			playback[name] = surfaceStatus{
				State:    snap.State.String(),
				Progress: snap.Progress,
				Text:     snap.Text,
			}
		}
	}
	listener := r.surfaces.Listener()
	snap := listener.Snapshot()
	status := listenStatus{
		Supported: listener.Supported(),
		Listening: snap.Listening,
		Interim:   snap.Interim,
	}
	if snap.LastError != listen.ErrorNone {
		status.LastError = snap.LastError.String()
	}
	writeJSON(w, map[string]any{
		"playback": playback,
		"listen":   status,
	})
}

func (r *Runtime) handleClients(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{"clients": r.registry.Clients(clientFilter(req.URL.Query()))})
}

// clientFilter builds the presence filter for /v1/clients from query
// parameters: ?surface=<name> keeps clients hosting that surface and
// ?healthy=true keeps clients within the heartbeat timeout.
func clientFilter(query url.Values) func(presence.ClientInfo) bool {
	var filters []func(presence.ClientInfo) bool
	if name := query.Get("surface"); name != "" {
		filters = append(filters, presence.WithSurfaceFilter(name))
	}
	if healthy, err := strconv.ParseBool(query.Get("healthy")); err == nil && healthy {
		filters = append(filters, presence.WithHealthyFilter())
	}
	if len(filters) == 0 {
		return nil
	}
	return func(client presence.ClientInfo) bool {
		for _, f := range filters {
			if !f(client) {
				return false
			}
		}
		return true
	}
}

// handleTimeline serves a session's recorded timeline; ?type narrows to
// the named event types and ?limit caps the read.
func (r *Runtime) handleTimeline(w http.ResponseWriter, req *http.Request) {
	sessionID := req.PathValue("id")
	query := eventstore.TimelineQuery{Types: req.URL.Query()["type"]}
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		query.Limit = n
	}
	events, err := r.store.Timeline(req.Context(), sessionID, query)
	if err != nil {
		r.logger.Error("timeline query failed", slog.String("error", err.Error()))
		http.Error(w, "timeline query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"session_id": sessionID,
		"events":     events,
	})
}

// handlePlayback applies one playback command over HTTP, mirroring the
// bus subject for clients that do not speak NATS.
func (r *Runtime) handlePlayback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cmd protocol.PlaybackCommand
	if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := r.surfaces.Apply(cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleListen(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cmd protocol.ListenCommand
	if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch cmd.Action {
	case "start":
		r.surfaces.Listener().Start()
	case "stop":
		r.surfaces.Listener().Stop()
	default:
		http.Error(w, fmt.Sprintf("unknown listen action %q", cmd.Action), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
