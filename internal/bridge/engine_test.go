package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/subsubl/hass-quixi-bridge/internal/hass"
	"github.com/subsubl/hass-quixi-bridge/internal/state"
)

// fakeConn is a scripted hub session.
type fakeConn struct {
	authErr error
	subErr  error
	events  chan hass.StateChangeEvent
	errs    chan error

	closed bool
	mu     sync.Mutex
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan hass.StateChangeEvent, 16),
		errs:   make(chan error, 1),
	}
}

func (c *fakeConn) Authenticate(context.Context) error { return c.authErr }

func (c *fakeConn) Subscribe(context.Context) (<-chan hass.StateChangeEvent, <-chan error, error) {
	if c.subErr != nil {
		return nil, nil, c.subErr
	}
	return c.events, c.errs, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// endStream closes the event channel after reporting err.
func (c *fakeConn) endStream(err error) {
	if err != nil {
		c.errs <- err
	}
	close(c.events)
}

// fakeHub hands out conns in order and serves a fixed snapshot.
type fakeHub struct {
	mu       sync.Mutex
	conns    []*fakeConn
	dialErrs []error
	dials    int
	fetches  int
	snapshot []state.DeviceState
	fetchErr error
}

func (h *fakeHub) Dial(context.Context) (HubConn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := h.dials
	h.dials++
	if i < len(h.dialErrs) && h.dialErrs[i] != nil {
		return nil, h.dialErrs[i]
	}
	if len(h.conns) == 0 {
		return nil, errors.New("no more conns")
	}
	conn := h.conns[0]
	h.conns = h.conns[1:]
	return conn, nil
}

func (h *fakeHub) FetchAllStatesErr(context.Context) ([]state.DeviceState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches++
	if h.fetchErr != nil {
		return []state.DeviceState{}, h.fetchErr
	}
	return append([]state.DeviceState(nil), h.snapshot...), nil
}

func (h *fakeHub) setFetchErr(err error) {
	h.mu.Lock()
	h.fetchErr = err
	h.mu.Unlock()
}

func (h *fakeHub) setSnapshot(s []state.DeviceState) {
	h.mu.Lock()
	h.snapshot = s
	h.mu.Unlock()
}

// recordingTelemetry captures state transitions.
type recordingTelemetry struct {
	mu          sync.Mutex
	transitions []string
	events      map[bool]int
	resyncs     []string
}

func (r *recordingTelemetry) WriteStateTransition(from, to string) {
	r.mu.Lock()
	r.transitions = append(r.transitions, to)
	r.mu.Unlock()
}

func (r *recordingTelemetry) WriteEvent(_ string, applied bool) {
	r.mu.Lock()
	if r.events == nil {
		r.events = map[bool]int{}
	}
	r.events[applied]++
	r.mu.Unlock()
}

func (r *recordingTelemetry) WriteResync(trigger string, _ int) {
	r.mu.Lock()
	r.resyncs = append(r.resyncs, trigger)
	r.mu.Unlock()
}

func (r *recordingTelemetry) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transitions...)
}

// recordingNotifier captures changes.
type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (n *recordingNotifier) NotifyChange(_ context.Context, c Change) {
	n.mu.Lock()
	n.changes = append(n.changes, c)
	n.mu.Unlock()
}

func (n *recordingNotifier) get() []Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Change(nil), n.changes...)
}

func newTestEngine(t *testing.T, hub HubClient, opts EngineOptions) *Engine {
	t.Helper()
	opts.Hub = hub
	if opts.Cache == nil {
		opts.Cache = state.NewCache()
	}
	e, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewEngine_MissingDependencies(t *testing.T) {
	if _, err := NewEngine(EngineOptions{Cache: state.NewCache()}); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("missing hub: error = %v, want ErrMissingDependency", err)
	}
	if _, err := NewEngine(EngineOptions{Hub: &fakeHub{}}); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("missing cache: error = %v, want ErrMissingDependency", err)
	}
}

func TestEngine_StreamingResyncsAndAppliesEvents(t *testing.T) {
	conn := newFakeConn()
	hub := &fakeHub{
		conns: []*fakeConn{conn},
		snapshot: []state.DeviceState{
			{EntityID: "light.kitchen", State: "off"},
			{EntityID: "switch.fan", State: "on"},
		},
	}
	notifier := &recordingNotifier{}
	telemetry := &recordingTelemetry{}
	e := newTestEngine(t, hub, EngineOptions{Notifier: notifier, Telemetry: telemetry})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, "streaming", func() bool { return e.State() == Streaming && e.Cache().Len() == 2 })

	conn.events <- hass.StateChangeEvent{EntityID: "light.kitchen", NewState: "on"}
	conn.events <- hass.StateChangeEvent{EntityID: "light.kitchen", NewState: "on"}
	conn.events <- hass.StateChangeEvent{EntityID: "sensor.new", NewState: "21"}

	waitFor(t, "events applied", func() bool { return len(notifier.get()) == 2 && e.Stats().EventsDropped == 1 })

	got := notifier.get()
	want := []Change{
		{EntityID: "light.kitchen", OldState: "off", NewState: "on"},
		{EntityID: "sensor.new", OldState: "", NewState: "21"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if s, _ := e.Cache().Get("light.kitchen"); s != "on" {
		t.Errorf("light.kitchen = %q, want on", s)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	wantStates := []string{"Connecting", "Authenticating", "Subscribed", "Streaming", "Disconnected"}
	gotStates := telemetry.states()
	if len(gotStates) != len(wantStates) {
		t.Fatalf("transitions = %v, want %v", gotStates, wantStates)
	}
	for i := range wantStates {
		if gotStates[i] != wantStates[i] {
			t.Errorf("transition[%d] = %s, want %s", i, gotStates[i], wantStates[i])
		}
	}
	if len(telemetry.resyncs) != 1 || telemetry.resyncs[0] != TriggerReconnect {
		t.Errorf("resyncs = %v, want [reconnect]", telemetry.resyncs)
	}
}

func TestEngine_FailuresLeadToBackoff(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *fakeHub)
	}{
		{
			name: "dial failure",
			setup: func(h *fakeHub) {
				h.dialErrs = []error{hass.ErrConnect}
			},
		},
		{
			name: "auth failure",
			setup: func(h *fakeHub) {
				c := newFakeConn()
				c.authErr = hass.ErrAuth
				h.conns = []*fakeConn{c}
			},
		},
		{
			name: "subscribe failure",
			setup: func(h *fakeHub) {
				c := newFakeConn()
				c.subErr = hass.ErrSubscribe
				h.conns = []*fakeConn{c}
			},
		},
		{
			name: "stream read error",
			setup: func(h *fakeHub) {
				c := newFakeConn()
				c.endStream(hass.ErrStream)
				h.conns = []*fakeConn{c}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &fakeHub{}
			tt.setup(hub)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var slept []time.Duration
			telemetry := &recordingTelemetry{}
			e := newTestEngine(t, hub, EngineOptions{
				ReconnectDelay: 7 * time.Second,
				Telemetry:      telemetry,
				Sleep: func(_ context.Context, d time.Duration) error {
					slept = append(slept, d)
					cancel()
					return context.Canceled
				},
			})

			if err := e.Run(ctx); err != nil {
				t.Fatalf("Run() error = %v, want nil", err)
			}

			if len(slept) != 1 || slept[0] != 7*time.Second {
				t.Errorf("slept = %v, want [7s]", slept)
			}
			if e.Stats().Backoffs != 1 {
				t.Errorf("Backoffs = %d, want 1", e.Stats().Backoffs)
			}
			if e.Stats().LastError == "" {
				t.Error("LastError is empty")
			}

			states := telemetry.states()
			if len(states) < 2 || states[len(states)-2] != "Backoff" {
				t.Errorf("transitions = %v, want Backoff before Disconnected", states)
			}
		})
	}
}

func TestEngine_ReconnectsAfterBackoff(t *testing.T) {
	first := newFakeConn()
	first.endStream(nil)
	second := newFakeConn()

	hub := &fakeHub{
		conns:    []*fakeConn{first, second},
		snapshot: []state.DeviceState{{EntityID: "light.a", State: "on"}},
	}

	var sleeps int
	e := newTestEngine(t, hub, EngineOptions{
		Sleep: func(ctx context.Context, _ time.Duration) error {
			sleeps++
			return ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, "second session", func() bool { return e.Stats().Sessions == 2 && e.State() == Streaming })

	cancel()
	<-done

	if sleeps != 1 {
		t.Errorf("sleeps = %d, want 1", sleeps)
	}
	if hub.fetches != 2 {
		t.Errorf("fetches = %d, want 2 (one per Streaming entry)", hub.fetches)
	}
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Error("first conn was not closed")
	}
}

func TestEngine_DefaultDelay(t *testing.T) {
	e := newTestEngine(t, &fakeHub{}, EngineOptions{})
	if e.reconnectDelay != 5*time.Second {
		t.Errorf("reconnectDelay = %v, want 5s", e.reconnectDelay)
	}
}

func TestEngine_ResyncReplacesCache(t *testing.T) {
	cache := state.NewCache()
	cache.Replace([]state.DeviceState{{EntityID: "light.stale", State: "on"}})

	hub := &fakeHub{snapshot: []state.DeviceState{
		{EntityID: "light.a", State: "on"},
		{EntityID: "light.b", State: "off"},
		{EntityID: "light.c", State: "on"},
	}}
	e := newTestEngine(t, hub, EngineOptions{Cache: cache})

	if n := e.Resync(context.Background()); n != 3 {
		t.Errorf("Resync() = %d, want 3", n)
	}
	if _, ok := cache.Get("light.stale"); ok {
		t.Error("stale entity survived resync")
	}

	hub.setSnapshot(nil)
	if n := e.Resync(context.Background()); n != 0 {
		t.Errorf("Resync() after empty fetch = %d, want 0", n)
	}
	if e.Stats().LastResyncCount != 0 || e.Stats().Resyncs != 2 {
		t.Errorf("stats = %+v", e.Stats())
	}
}

func TestEngine_FailedFetchKeepsSnapshot(t *testing.T) {
	hub := &fakeHub{snapshot: []state.DeviceState{
		{EntityID: "light.a", State: "on"},
		{EntityID: "switch.b", State: "off"},
	}}
	notifier := &recordingNotifier{}
	e := newTestEngine(t, hub, EngineOptions{Notifier: notifier})

	if n := e.Resync(context.Background()); n != 2 {
		t.Fatalf("Resync() = %d, want 2", n)
	}

	hub.setFetchErr(fmt.Errorf("%w: status 502", hass.ErrFetch))
	if n := e.Resync(context.Background()); n != 2 {
		t.Errorf("Resync() after failed fetch = %d, want 2", n)
	}
	if got, ok := e.Cache().Get("light.a"); !ok || got != "on" {
		t.Errorf("light.a = %q, %v after failed fetch, want on, true", got, ok)
	}

	stats := e.Stats()
	if stats.CachedEntities != 2 || stats.LastResyncCount != 2 {
		t.Errorf("stats = %+v, want 2 cached and last resync count 2", stats)
	}
	if stats.LastError == "" {
		t.Error("LastError not recorded for failed fetch")
	}

	e.apply(context.Background(), hass.StateChangeEvent{EntityID: "light.a", NewState: "on"})
	if got := notifier.get(); len(got) != 0 {
		t.Errorf("unchanged state notified after failed fetch: %+v", got)
	}
}

func TestEngine_CancelledBeforeRun(t *testing.T) {
	hub := &fakeHub{}
	e := newTestEngine(t, hub, EngineOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := e.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if hub.dials != 0 {
		t.Errorf("dials = %d, want 0", hub.dials)
	}
	if e.State() != Disconnected {
		t.Errorf("State() = %v, want Disconnected", e.State())
	}
}

func TestDomainOf(t *testing.T) {
	tests := map[string]string{
		"light.kitchen": "light",
		"cover.garage":  "cover",
		"nodot":         "unknown",
	}
	for in, want := range tests {
		if got := domainOf(in); got != want {
			t.Errorf("domainOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{Disconnected, "Disconnected"},
		{Connecting, "Connecting"},
		{Authenticating, "Authenticating"},
		{Subscribed, "Subscribed"},
		{Streaming, "Streaming"},
		{Backoff, "Backoff"},
		{ConnectionState(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
