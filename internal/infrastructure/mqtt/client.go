package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/config"
)

// Logger is the logging surface the client needs.
// Satisfied by logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message.
//
// Handlers run on paho's delivery goroutine and must not block for long.
// A returned error is logged and counted; the message is still acknowledged.
type MessageHandler func(topic string, payload []byte) error

// Stats are cumulative message counters since Connect.
type Stats struct {
	Connected     bool   `json:"connected"`
	Subscriptions int    `json:"subscriptions"`
	Published     uint64 `json:"published"`
	Received      uint64 `json:"received"`
	HandlerErrors uint64 `json:"handler_errors"`
	Reconnects    uint64 `json:"reconnects"`
}

// Client is the bridge's broker connection.
//
// It carries the inbound command subscription, the retained health message
// and the optional entity state mirror. Subscriptions are replayed after
// every reconnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	paho     pahomqtt.Client
	clientID string
	qos      byte

	connected atomic.Bool

	published     atomic.Uint64
	received      atomic.Uint64
	handlerErrors atomic.Uint64
	connects      atomic.Uint64

	mu           sync.RWMutex
	handlers     map[string]route
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

type route struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and blocks until the first connection succeeds
// or defaultConnectTimeout passes.
//
// A retained offline will is registered on hassbridge/status so a crashed
// bridge is visible to subscribers; every (re)connect publishes a retained
// online status.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		clientID: cfg.Broker.ClientID,
		qos:      byte(cfg.QoS),
		handlers: make(map[string]route),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), defaultConnectTimeout, ErrConnect); err != nil {
		return nil, err
	}

	// OnConnect runs asynchronously; callers may subscribe straight away.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.connects.Add(1)

	c.mu.RLock()
	for topic, r := range c.handlers {
		c.paho.Subscribe(topic, r.qos, c.deliver(r.handler))
	}
	callback := c.onConnect
	c.mu.RUnlock()

	c.publishStatus(buildOnlinePayload(c.clientID))

	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	callback, logger := c.onDisconnect, c.logger
	c.mu.RUnlock()

	if logger != nil {
		logger.Warn("mqtt connection lost", "error", err)
	}
	if callback != nil {
		callback(err)
	}
}

func (c *Client) publishStatus(payload string) pahomqtt.Token {
	return c.paho.Publish(Topics{}.Status(), c.qos, true, payload)
}

// Close publishes a graceful offline status and disconnects.
// Closing a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus(buildOfflinePayload(c.clientID)).WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports whether the broker connection is usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.paho != nil && c.paho.IsConnected()
}

// Stats returns the current counters. Reconnects excludes the first connect.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	subs := len(c.handlers)
	c.mu.RUnlock()

	reconnects := c.connects.Load()
	if reconnects > 0 {
		reconnects--
	}
	return Stats{
		Connected:     c.IsConnected(),
		Subscriptions: subs,
		Published:     c.published.Load(),
		Received:      c.received.Load(),
		HandlerErrors: c.handlerErrors.Load(),
		Reconnects:    reconnects,
	}
}

// SetOnConnect sets a callback invoked on initial connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets a logger for connection loss, handler errors and panics.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// QoS returns the configured default QoS level.
func (c *Client) QoS() byte {
	return c.qos
}
