package influxdb

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/config"
)

// fakeInflux answers /ping and captures line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server
	mu         sync.Mutex
	lines      []string
	writeCode  int
	pingStatus int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{writeCode: http.StatusNoContent, pingStatus: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(f.pingStatus)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			f.mu.Lock()
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			code := f.writeCode
			f.mu.Unlock()
			if code != http.StatusNoContent {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(code)
				_, _ = w.Write([]byte(`{"code":"invalid","message":"rejected"}`)) //nolint:errcheck // test server
				return
			}
			w.WriteHeader(code)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) captured() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "home",
		Bucket:        "hassbridge",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(testConfig("http://127.0.0.1:59999"))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWrites(t *testing.T) {
	server := newFakeInflux(t)

	client, err := Connect(testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteStateTransition("Connecting", "Authenticating")
	client.WriteEvent("light", true)
	client.WriteResync("reconnect", 42)
	client.WriteCommand("control", true, 15*time.Millisecond)
	client.Flush()

	if st := client.Stats(); st.Points != 4 || st.WriteErrors != 0 {
		t.Errorf("Stats() = %+v, want 4 points, 0 errors", st)
	}

	lines := server.captured()
	if len(lines) != 4 {
		t.Fatalf("captured %d lines, want 4: %v", len(lines), lines)
	}

	wantPrefixes := []string{
		"hass_sync,from=Connecting,kind=transition,to=Authenticating count=1i",
		"hass_sync,domain=light,kind=event applied=true,count=1i",
		"hass_sync,kind=resync,trigger=reconnect devices=42i",
		"command,name=control latency_ms=15,success=true",
	}
	for i, want := range wantPrefixes {
		if !strings.HasPrefix(lines[i], want) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], want)
		}
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	server := newFakeInflux(t)
	server.writeCode = http.StatusBadRequest

	client, err := Connect(testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WriteCommand("status", true, time.Millisecond)
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error callback not invoked")
	}
}

func TestClosedAndNilClient(t *testing.T) {
	server := newFakeInflux(t)

	client, err := Connect(testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()
	client.WriteCommand("help", true, 0)
	client.Flush()

	if len(server.captured()) != 0 {
		t.Error("writes after Close should be dropped")
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}

	var nilClient *Client
	if nilClient.Stats() != (Stats{}) {
		t.Error("nil Stats() should be zero")
	}
	nilClient.WriteResync("command", 3)
	nilClient.Flush()
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
}
