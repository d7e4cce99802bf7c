package quixi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultChannel = "0"
	defaultTimeout = 10 * time.Second
	sendPath       = "/sendChatMessage"
)

// Logger is the logging surface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Options configures a Client.
type Options struct {
	// APIURL is the QuIXI API base, e.g. "http://localhost:8001". Required.
	APIURL string

	// Channel is sent with every message. Default: "0".
	Channel string

	// Signer signs messages. Nil sends them unsigned.
	Signer Signer

	// Timeout bounds one send. Default: 10s.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     Logger
}

// Client sends chat messages through QuIXI.
type Client struct {
	endpoint   string
	channel    string
	signer     Signer
	httpClient *http.Client
	logger     Logger
}

// NewClient validates opts and returns a Client.
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(opts.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("quixi: invalid api url %q", opts.APIURL)
	}

	c := &Client{
		endpoint:   strings.TrimRight(opts.APIURL, "/") + sendPath,
		channel:    opts.Channel,
		signer:     opts.Signer,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}
	if c.channel == "" {
		c.channel = defaultChannel
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	return c, nil
}

// Send delivers text to address. It reports whether QuIXI answered 2xx.
func (c *Client) Send(ctx context.Context, address, text string) bool {
	if err := c.SendErr(ctx, address, text); err != nil {
		c.logger.Warn("failed to send chat message", "address", address, "error", err)
		return false
	}
	return true
}

// SendErr is Send with the failure cause.
func (c *Client) SendErr(ctx context.Context, address, text string) error {
	form := url.Values{
		"channel": {c.channel},
		"message": {text},
		"address": {address},
	}
	if c.signer != nil {
		sig, err := c.signer.Sign(text)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNotify, err)
		}
		form.Set("signature", sig)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)) //nolint:errcheck // drain for keep-alive

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrNotify, resp.StatusCode)
	}

	c.logger.Debug("chat message sent", "address", address, "bytes", len(text))
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
