package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// eventBuffer is the capacity of the channel returned by Subscribe.
const eventBuffer = 64

// StateChangeEvent is one accepted state_changed event from the hub.
type StateChangeEvent struct {
	EntityID string
	NewState string
}

// Conn is an authenticated websocket session with the hub.
type Conn struct {
	ws           *websocket.Conn
	token        string
	timeout      time.Duration
	pingInterval time.Duration
	logger       Logger

	writeMu   sync.Mutex
	nextID    atomic.Int64
	closeOnce sync.Once
}

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

type subscribeMessage struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type"`
}

type pingMessage struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// frame covers every server message shape the bridge reads.
type frame struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Success *bool  `json:"success"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Event *struct {
		EventType string `json:"event_type"`
		Data      struct {
			EntityID string `json:"entity_id"`
			NewState *struct {
				State string `json:"state"`
			} `json:"new_state"`
		} `json:"data"`
	} `json:"event"`
}

// Dial opens the websocket without authenticating. Failures wrap ErrConnect.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	ws, resp, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	return &Conn{
		ws:           ws,
		token:        c.token,
		timeout:      c.timeout,
		pingInterval: c.pingInterval,
		logger:       c.logger,
	}, nil
}

// Authenticate performs the auth handshake.
//
// The hub's auth_required greeting is consumed if present; exactly one
// auth_ok must follow. A write failure is ErrConnect; anything else during
// the handshake (auth_invalid, an unexpected frame, the hub hanging up) is
// ErrAuth. The handshake is bounded by the client timeout.
func (c *Conn) Authenticate(ctx context.Context) error {
	return c.authenticate(ctx, c.token)
}

func (c *Conn) authenticate(ctx context.Context, token string) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetReadDeadline(deadline)      //nolint:errcheck // only fails on a closed conn
	defer c.ws.SetReadDeadline(time.Time{}) //nolint:errcheck // only fails on a closed conn

	if err := c.writeJSON(authMessage{Type: "auth", AccessToken: token}); err != nil {
		return fmt.Errorf("%w: sending auth: %w", ErrConnect, err)
	}

	sawGreeting := false
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrAuth, err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("%w: malformed handshake frame: %w", ErrAuth, err)
		}

		switch f.Type {
		case "auth_required":
			if sawGreeting {
				return fmt.Errorf("%w: repeated auth_required", ErrAuth)
			}
			sawGreeting = true
		case "auth_ok":
			return nil
		case "auth_invalid":
			return fmt.Errorf("%w: %s", ErrAuth, f.Message)
		default:
			return fmt.Errorf("%w: unexpected %q during handshake", ErrAuth, f.Type)
		}
	}
}

// Subscribe issues one state_changed subscription and starts the read loop.
//
// Accepted events arrive on the first channel in hub order. Frames that are
// not state_changed events, and malformed payloads, are skipped. When the
// stream breaks the event channel is closed and exactly one error wrapping
// ErrStream (or ErrSubscribe if the hub refused the subscription) is sent
// on the error channel. Cancelling ctx closes the connection and ends the
// loop without reporting an error.
func (c *Conn) Subscribe(ctx context.Context) (<-chan StateChangeEvent, <-chan error, error) {
	id := c.nextID.Add(1)
	if err := c.writeJSON(subscribeMessage{ID: id, Type: "subscribe_events", EventType: "state_changed"}); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSubscribe, err)
	}

	events := make(chan StateChangeEvent, eventBuffer)
	errs := make(chan error, 1)
	go c.readLoop(ctx, id, events, errs)

	return events, errs, nil
}

func (c *Conn) readLoop(ctx context.Context, subID int64, events chan<- StateChangeEvent, errs chan<- error) {
	defer close(events)

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-stop:
		}
	}()

	if c.pingInterval > 0 {
		go c.heartbeat(stop)
	}

	for {
		if c.pingInterval > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(2*c.pingInterval + c.timeout)) //nolint:errcheck // read reports it
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				errs <- fmt.Errorf("%w: %w", ErrStream, err)
			}
			return
		}

		ev, ok, err := decodeFrame(data, subID)
		if err != nil {
			errs <- err
			return
		}
		if !ok {
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// heartbeat sends a hub-level ping every interval until stop closes.
func (c *Conn) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.writeJSON(pingMessage{ID: c.nextID.Add(1), Type: "ping"}); err != nil {
				c.logger.Debug("hub heartbeat failed", "error", err)
				return
			}
		}
	}
}

// decodeFrame turns a raw frame into an event. ok is false for frames the
// bridge ignores. A refused subscription (result frame for subID with
// success=false) is the only error.
func decodeFrame(data []byte, subID int64) (ev StateChangeEvent, ok bool, err error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return StateChangeEvent{}, false, nil
	}

	if f.Type == "result" && f.ID == subID && f.Success != nil && !*f.Success {
		msg := "refused"
		if f.Error != nil {
			msg = f.Error.Code + ": " + f.Error.Message
		}
		return StateChangeEvent{}, false, fmt.Errorf("%w: %s", ErrSubscribe, msg)
	}

	if f.Type != "event" || f.Event == nil || f.Event.EventType != "state_changed" {
		return StateChangeEvent{}, false, nil
	}
	payload := f.Event.Data
	if payload.EntityID == "" || payload.NewState == nil {
		return StateChangeEvent{}, false, nil
	}
	return StateChangeEvent{EntityID: payload.EntityID, NewState: payload.NewState.State}, true, nil
}

func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.timeout)) //nolint:errcheck // write reports it
	return c.ws.WriteJSON(v)
}

// Close sends a close frame (best effort) and closes the socket.
// Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, //nolint:errcheck // best effort
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
