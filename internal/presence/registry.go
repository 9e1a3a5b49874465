// Package presence tracks which clients are attached to the runtime.
// Every participant (the runtime itself included) announces on connect
// and heartbeats on an interval; peers that go quiet past the timeout
// are marked unhealthy but kept, so a reconnecting browser tab picks up
// its old identity.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/elexicoai/elexico-core/internal/bus"
	"github.com/elexicoai/elexico-core/internal/config"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type ClientInfo struct {
	ID       string    `json:"id"`
	Role     string    `json:"role"`
	Surfaces []string  `json:"surfaces"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

type announceMessage struct {
	ClientID  string    `json:"client_id"`
	Role      string    `json:"role"`
	Surfaces  []string  `json:"surfaces"`
	Timestamp time.Time `json:"timestamp"`
}

type heartbeatMessage struct {
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Registry struct {
	cfg      config.NodeConfig
	surfaces []string
	log      *slog.Logger
	bus      *bus.Client

	mu      sync.RWMutex
	clients map[string]*ClientInfo

	heartbeat *time.Ticker
	cancel    context.CancelFunc
	subs      []*nats.Subscription
	meter     metric.Meter
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, surfaces []string, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:      cfg,
		surfaces: surfaces,
		log:      log.With(slog.String("component", "presence-registry")),
		bus:      busClient,
		clients:  make(map[string]*ClientInfo),
		meter:    otel.Meter("github.com/elexicoai/elexico-core/runtime"),
		cancel:   cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.heartbeat = time.NewTicker(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce runtime", slog.String("error", err.Error()))
	}

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe("presence.announce", r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe("presence.heartbeat.*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{
		ClientID:  r.cfg.ID,
		Role:      r.cfg.Role,
		Surfaces:  r.surfaces,
		Timestamp: time.Now().UTC(),
	}
	if err := r.bus.PublishJSON("presence.announce", msg); err != nil {
		return err
	}
	r.updateClient(msg.ClientID, msg.Role, msg.Surfaces, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{
		ClientID:  r.cfg.ID,
		Timestamp: time.Now().UTC(),
	}
	subject := fmt.Sprintf("presence.heartbeat.%s", r.cfg.ID)
	return r.bus.PublishJSON(subject, msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	r.updateClient(announcement.ClientID, announcement.Role, announcement.Surfaces, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.updateClient(hb.ClientID, "", nil, hb.Timestamp)
}

func (r *Registry) updateClient(clientID, role string, surfaces []string, timestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[clientID]
	if !ok {
		client = &ClientInfo{ID: clientID}
		r.clients[clientID] = client
	}
	if role != "" {
		client.Role = role
	}
	if len(surfaces) > 0 {
		client.Surfaces = surfaces
	}
	client.LastSeen = timestamp
	client.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := time.Now()
	for _, client := range r.clients {
		if now.Sub(client.LastSeen) > timeout {
			client.Healthy = false
		}
	}
}

func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[r.cfg.ID]
	if !ok {
		return false
	}
	return client.Healthy
}

// Clients returns a snapshot of every known participant, optionally
// filtered.
func (r *Registry) Clients(filter func(ClientInfo) bool) []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []ClientInfo
	for _, client := range r.clients {
		copy := *client
		if filter == nil || filter(copy) {
			results = append(results, copy)
		}
	}
	return results
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	clientGauge, err := r.meter.Int64ObservableGauge("elexico.presence.clients", metric.WithDescription("Number of known clients"))
	if err != nil {
		return err
	}
	surfaceGauge, err := r.meter.Int64ObservableGauge("elexico.presence.surfaces", metric.WithDescription("Total surfaces advertised across clients"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		clients, surfaces := r.snapshotCounts()
		obs.ObserveInt64(clientGauge, clients)
		obs.ObserveInt64(surfaceGauge, surfaces)
		return nil
	}, clientGauge, surfaceGauge)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var clients int64
	var surfaces int64
	for _, client := range r.clients {
		clients++
		surfaces += int64(len(client.Surfaces))
	}
	return clients, surfaces
}

// WithSurfaceFilter selects clients that host the named surface.
func WithSurfaceFilter(name string) func(ClientInfo) bool {
	return func(client ClientInfo) bool {
		for _, surface := range client.Surfaces {
			if surface == name {
				return true
			}
		}
		return false
	}
}

// WithHealthyFilter selects clients that heartbeat within the timeout.
func WithHealthyFilter() func(ClientInfo) bool {
	return func(client ClientInfo) bool {
		return client.Healthy
	}
}
