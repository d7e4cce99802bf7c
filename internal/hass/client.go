package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/subsubl/hass-quixi-bridge/internal/state"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultPingInterval = 30 * time.Second

	// maxResponseBytes caps REST bodies; /api/states on a large install is a few MB.
	maxResponseBytes = 32 << 20
)

// Logger is the logging surface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures a Client.
type Options struct {
	// URL is the hub websocket endpoint (ws:// or wss://).
	URL string

	// Token is the long-lived access token.
	Token string

	// Timeout bounds each REST request and the websocket handshake.
	// Default: 10s.
	Timeout time.Duration

	// PingInterval is how often a heartbeat is sent on the event stream.
	// A stream silent for two intervals is treated as dead. Zero uses the
	// default of 30s; negative disables heartbeats.
	PingInterval time.Duration

	// Retry governs FetchAllStates. Zero value uses DefaultRetryPolicy.
	Retry *RetryPolicy

	// HTTPClient overrides the REST client.
	HTTPClient *http.Client

	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer

	Logger Logger
}

// Client is a Home Assistant API client. It is safe for concurrent use.
type Client struct {
	wsURL        string
	restBase     string
	token        string
	timeout      time.Duration
	pingInterval time.Duration
	retry        RetryPolicy
	http         *http.Client
	dialer       *websocket.Dialer
	logger       Logger
}

// NewClient validates the hub URL and returns a ready client.
func NewClient(opts Options) (*Client, error) {
	base, err := RESTBase(opts.URL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		wsURL:        opts.URL,
		restBase:     base,
		token:        opts.Token,
		timeout:      opts.Timeout,
		pingInterval: opts.PingInterval,
		http:         opts.HTTPClient,
		dialer:       opts.Dialer,
		logger:       opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.pingInterval == 0 {
		c.pingInterval = defaultPingInterval
	}
	if opts.Retry != nil {
		c.retry = *opts.Retry
	} else {
		c.retry = DefaultRetryPolicy()
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.timeout,
		}
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	return c, nil
}

// RESTBase derives the REST base URL from a hub websocket URL.
func RESTBase(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", ErrInvalidURL
	}
	if u.Host == "" {
		return "", ErrInvalidURL
	}

	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/api/websocket")
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}

// URL returns the configured websocket endpoint.
func (c *Client) URL() string {
	return c.wsURL
}

// FetchAllStates returns every entity state known to the hub.
//
// Failures are retried per the client's RetryPolicy. Once the retries are
// spent (or ctx ends) the result is an empty slice: an empty result means
// "the sync produced nothing", not "the hub has no devices".
func (c *Client) FetchAllStates(ctx context.Context) []state.DeviceState {
	states, err := c.FetchAllStatesErr(ctx)
	if err != nil {
		c.logger.Error("fetching hub states failed, using empty result",
			"attempts", c.retry.MaxRetries+1,
			"error", err,
		)
		return []state.DeviceState{}
	}
	return states
}

// FetchAllStatesErr is FetchAllStates with the final error exposed.
// The error wraps ErrFetch.
func (c *Client) FetchAllStatesErr(ctx context.Context) ([]state.DeviceState, error) {
	var states []state.DeviceState
	attempt := 0

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		var err error
		states, err = c.fetchStatesOnce(ctx)
		if err != nil {
			c.logger.Warn("fetching hub states", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrFetch) {
			err = fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return nil, err
	}
	return states, nil
}

type stateEntry struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

func (c *Client) fetchStatesOnce(ctx context.Context) ([]state.DeviceState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restBase+"/api/states", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrFetch, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	var entries []stateEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decoding states: %w", ErrFetch, err)
	}

	states := make([]state.DeviceState, 0, len(entries))
	for _, e := range entries {
		if e.EntityID == "" {
			continue
		}
		states = append(states, state.DeviceState{EntityID: e.EntityID, State: e.State})
	}
	return states, nil
}

// InvokeService calls domain.service for entityID with extra params.
//
// It makes exactly one request and reports whether the hub answered 2xx.
// Side-effecting calls are never retried.
func (c *Client) InvokeService(ctx context.Context, entityID, domain, service string, params map[string]any) bool {
	if err := c.invokeService(ctx, entityID, domain, service, params); err != nil {
		c.logger.Error("hub service call failed",
			"entity_id", entityID,
			"service", domain+"."+service,
			"error", err,
		)
		return false
	}
	c.logger.Info("hub service called", "entity_id", entityID, "service", domain+"."+service)
	return true
}

func (c *Client) invokeService(ctx context.Context, entityID, domain, service string, params map[string]any) error {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["entity_id"] = entityID

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encoding body: %w", ErrServiceInvoke, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.restBase + "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrServiceInvoke, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServiceInvoke, err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrServiceInvoke, resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
}

// drain discards a bounded amount of body so the connection can be reused.
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxResponseBytes)) //nolint:errcheck // best effort
}
