package hass

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/subsubl/hass-quixi-bridge/internal/state"
)

const testToken = "test-token"

// wsURLFor converts an httptest URL into the hub websocket URL.
func wsURLFor(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/api/websocket"
}

// newTestClient builds a client against serverURL with delays recorded, not slept.
func newTestClient(t *testing.T, serverURL string, delays *[]time.Duration) *Client {
	t.Helper()
	retry := DefaultRetryPolicy()
	if delays != nil {
		retry.Sleep = recordSleep(delays)
	}
	c, err := NewClient(Options{
		URL:          wsURLFor(serverURL),
		Token:        testToken,
		Timeout:      2 * time.Second,
		PingInterval: -1,
		Retry:        &retry,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestRESTBase(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ws://homeassistant.local:8123/api/websocket", "http://homeassistant.local:8123", false},
		{"wss://ha.example.com/api/websocket", "https://ha.example.com", false},
		{"ws://10.0.0.2:8123", "http://10.0.0.2:8123", false},
		{"ws://10.0.0.2:8123/", "http://10.0.0.2:8123", false},
		{"wss://example.com/ha/api/websocket/", "https://example.com/ha", false},
		{"http://homeassistant.local:8123", "", true},
		{"ws://", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := RESTBase(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RESTBase(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidURL) {
				t.Errorf("RESTBase(%q) error = %v, want ErrInvalidURL", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("RESTBase(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Options{URL: "ws://localhost:8123/api/websocket", Token: "x"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.timeout != defaultTimeout {
		t.Errorf("timeout = %v, want %v", c.timeout, defaultTimeout)
	}
	if c.pingInterval != defaultPingInterval {
		t.Errorf("pingInterval = %v, want %v", c.pingInterval, defaultPingInterval)
	}
	if c.retry.MaxRetries != 3 {
		t.Errorf("retry.MaxRetries = %d, want 3", c.retry.MaxRetries)
	}
	if c.URL() != "ws://localhost:8123/api/websocket" {
		t.Errorf("URL() = %q", c.URL())
	}

	if _, err := NewClient(Options{URL: "tcp://x"}); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("NewClient(tcp) error = %v, want ErrInvalidURL", err)
	}
}

func TestFetchAllStates_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"entity_id":"light.kitchen","state":"on","attributes":{"brightness":200}},
			{"entity_id":"sensor.temp","state":"21.5"},
			{"state":"orphan"}
		]`))
	}))
	defer server.Close()

	var delays []time.Duration
	c := newTestClient(t, server.URL, &delays)

	got := c.FetchAllStates(context.Background())
	want := []state.DeviceState{
		{EntityID: "light.kitchen", State: "on"},
		{EntityID: "sensor.temp", State: "21.5"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FetchAllStates() = %v, want %v", got, want)
	}
	if len(delays) != 0 {
		t.Errorf("unexpected retries: %v", delays)
	}
}

// Persistent failures: four attempts, waits of 1s, 2s and 4s, then an empty result.
func TestFetchAllStates_RetriesThenEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"unauthorized", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				tt.handler(w, r)
			}))
			defer server.Close()

			var delays []time.Duration
			c := newTestClient(t, server.URL, &delays)

			got := c.FetchAllStates(context.Background())
			if got == nil || len(got) != 0 {
				t.Errorf("FetchAllStates() = %#v, want empty non-nil slice", got)
			}
			if n := requests.Load(); n != 4 {
				t.Errorf("requests = %d, want 4", n)
			}
			want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
			if !reflect.DeepEqual(delays, want) {
				t.Errorf("delays = %v, want %v", delays, want)
			}
		})
	}
}

func TestFetchAllStates_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	serverURL := server.URL
	server.Close()

	var delays []time.Duration
	c := newTestClient(t, serverURL, &delays)

	_, err := c.FetchAllStatesErr(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Errorf("FetchAllStatesErr() error = %v, want ErrFetch", err)
	}
	if len(delays) != 3 {
		t.Errorf("delays = %v, want 3 entries", delays)
	}
}

func TestFetchAllStates_RecoversAfterFailures(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"entity_id":"fan.bed","state":"off"}]`))
	}))
	defer server.Close()

	var delays []time.Duration
	c := newTestClient(t, server.URL, &delays)

	got, err := c.FetchAllStatesErr(context.Background())
	if err != nil {
		t.Fatalf("FetchAllStatesErr() error = %v", err)
	}
	if len(got) != 1 || got[0].EntityID != "fan.bed" {
		t.Errorf("FetchAllStatesErr() = %v", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if !reflect.DeepEqual(delays, want) {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}

type serviceCall struct {
	path string
	auth string
	body map[string]any
}

func TestInvokeService(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"created", http.StatusCreated, true},
		{"bad request", http.StatusBadRequest, false},
		{"server error", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			var calls []serviceCall
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				_ = json.NewDecoder(r.Body).Decode(&body)
				mu.Lock()
				calls = append(calls, serviceCall{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
				mu.Unlock()
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, nil)
			got := c.InvokeService(context.Background(), "light.kitchen", "light", "turn_on",
				map[string]any{"brightness": 128})

			if got != tt.want {
				t.Errorf("InvokeService() = %v, want %v", got, tt.want)
			}
			if len(calls) != 1 {
				t.Fatalf("hub calls = %d, want exactly 1 (no retry)", len(calls))
			}
			call := calls[0]
			if call.path != "/api/services/light/turn_on" {
				t.Errorf("path = %q", call.path)
			}
			if call.auth != "Bearer "+testToken {
				t.Errorf("Authorization = %q", call.auth)
			}
			if call.body["entity_id"] != "light.kitchen" {
				t.Errorf("entity_id = %v", call.body["entity_id"])
			}
			if call.body["brightness"] != float64(128) {
				t.Errorf("brightness = %v", call.body["brightness"])
			}
		})
	}
}

func TestInvokeService_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	serverURL := server.URL
	server.Close()

	c := newTestClient(t, serverURL, nil)
	if c.InvokeService(context.Background(), "fan.bed", "fan", "turn_off", nil) {
		t.Error("InvokeService() = true against a closed server")
	}
}
