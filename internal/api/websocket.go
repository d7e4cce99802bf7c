package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/subsubl/hass-quixi-bridge/internal/bridge"
	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/config"
	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/logging"
	"github.com/subsubl/hass-quixi-bridge/internal/state"
)

// Message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Channels.
const (
	// ChannelStateChanged carries accepted hub state changes.
	ChannelStateChanged = "state.changed"

	// ChannelStateSnapshot is sent once, on request, right after subscribing.
	ChannelStateSnapshot = "state.snapshot"
)

const (
	wsSendBufferSize = 256

	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30
	defaultWSPongTimeout    = 10
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe.
//
// Domains narrows state.changed to entities whose id starts with
// "<domain>."; an empty list means every entity. Snapshot asks for the
// matching part of the cache to be sent once before live events.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Domains  []string `json:"domains,omitempty"`
	Snapshot bool     `json:"snapshot,omitempty"`
}

// StateChangedPayload is the payload of a state.changed event.
type StateChangedPayload struct {
	EntityID string `json:"entity_id"`
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state"`
}

// Hub fans state changes out to websocket clients.
// It satisfies bridge.ChangeNotifier.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The endpoint is bearer-authenticated; origin is not a trust signal.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. Zero config values take defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultWSMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultWSPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultWSPongTimeout
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// NotifyChange sends change to clients subscribed to state.changed whose
// domain filter matches. It never blocks; slow clients miss events.
func (h *Hub) NotifyChange(_ context.Context, change bridge.Change) {
	data, err := encodeEvent(ChannelStateChanged, StateChangedPayload{
		EntityID: change.EntityID,
		OldState: change.OldState,
		NewState: change.NewState,
	})
	if err != nil {
		h.logger.Error("failed to encode state change", "error", err)
		return
	}

	for _, c := range h.snapshotClients() {
		if c.wants(ChannelStateChanged, change.EntityID) {
			c.trySend(data)
		}
	}
}

// Broadcast sends payload to every client subscribed to channel,
// regardless of domain filters.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeEvent(channel, payload)
	if err != nil {
		h.logger.Error("failed to encode broadcast", "channel", channel, "error", err)
		return
	}
	for _, c := range h.snapshotClients() {
		if c.wants(channel, "") {
			c.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "subject", c.subject)
}

// unregister removes c. Only the caller that actually removes it closes the
// send channel, so Run and readPump cannot double-close.
func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

func (h *Hub) snapshotClients() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// handleWebSocket upgrades the connection. Auth has already run in
// authMiddleware (bearer header or ?token=).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // empty when auth is disabled

	c := &WSClient{
		hub:     s.hub,
		conn:    conn,
		cache:   s.engine.Cache(),
		send:    make(chan []byte, wsSendBufferSize),
		subs:    make(map[string]struct{}),
		subject: subject,
	}
	s.hub.register(c)

	go c.writePump()
	go c.readPump()
}

func encodeEvent(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// filterSnapshot keeps entries whose domain is in domains; nil keeps all.
func filterSnapshot(all []state.DeviceState, domains map[string]struct{}) []state.DeviceState {
	if len(domains) == 0 {
		return all
	}
	out := make([]state.DeviceState, 0, len(all))
	for _, d := range all {
		if matchDomain(d.EntityID, domains) {
			out = append(out, d)
		}
	}
	return out
}

func matchDomain(entityID string, domains map[string]struct{}) bool {
	if len(domains) == 0 {
		return true
	}
	domain, _, ok := strings.Cut(entityID, ".")
	if !ok {
		return false
	}
	_, ok = domains[domain]
	return ok
}
