package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/subsubl/hass-quixi-bridge/internal/hass"
	"github.com/subsubl/hass-quixi-bridge/internal/state"
)

// defaultReconnectDelay is the fixed Backoff delay.
const defaultReconnectDelay = 5 * time.Second

// Resync triggers, recorded in telemetry and logs.
const (
	TriggerReconnect = "reconnect"
	TriggerCommand   = "command"
)

// HubClient is what the engine needs from the hub.
type HubClient interface {
	Dial(ctx context.Context) (HubConn, error)
	// FetchAllStatesErr reports a failed snapshot as an error wrapping
	// hass.ErrFetch, so an empty slice with a nil error means no entities.
	FetchAllStatesErr(ctx context.Context) ([]state.DeviceState, error)
}

// HubConn is one hub session.
type HubConn interface {
	Authenticate(ctx context.Context) error
	Subscribe(ctx context.Context) (<-chan hass.StateChangeEvent, <-chan error, error)
	Close() error
}

// Telemetry receives engine counters. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteStateTransition(from, to string)
	WriteEvent(domain string, applied bool)
	WriteResync(trigger string, devices int)
}

// Logger is the logging surface the engine needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Hub is required.
	Hub HubClient

	// Cache is required. The engine becomes its only writer.
	Cache *state.Cache

	// Notifier receives accepted changes. Default: no-op.
	Notifier ChangeNotifier

	// ReconnectDelay is the fixed Backoff delay. Default: 5s.
	ReconnectDelay time.Duration

	// Telemetry is optional.
	Telemetry Telemetry

	// Logger is optional.
	Logger Logger

	// Sleep waits between sessions; tests replace it. Default: timer + ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Stats is a point-in-time view of engine activity.
type Stats struct {
	State           ConnectionState `json:"state"`
	StateSince      time.Time       `json:"state_since"`
	Sessions        uint64          `json:"sessions"`
	Backoffs        uint64          `json:"backoffs"`
	EventsApplied   uint64          `json:"events_applied"`
	EventsDropped   uint64          `json:"events_dropped"`
	Resyncs         uint64          `json:"resyncs"`
	LastResyncCount int             `json:"last_resync_count"`
	LastError       string          `json:"last_error,omitempty"`
	CachedEntities  int             `json:"cached_entities"`
}

// Engine drives the hub connection state machine and owns the state cache.
type Engine struct {
	hub            HubClient
	cache          *state.Cache
	notifier       ChangeNotifier
	reconnectDelay time.Duration
	telemetry      Telemetry
	logger         Logger
	sleep          func(ctx context.Context, d time.Duration) error

	state atomic.Int32

	// writeMu serialises cache writes: a resync (fetch + replace) holds it
	// so events arriving meanwhile are applied after the new snapshot.
	writeMu sync.Mutex

	sessions      atomic.Uint64
	backoffs      atomic.Uint64
	eventsApplied atomic.Uint64
	eventsDropped atomic.Uint64
	resyncs       atomic.Uint64

	infoMu          sync.RWMutex
	stateSince      time.Time
	lastResyncCount int
	lastError       string
}

// NewEngine validates opts and returns an engine in the Disconnected state.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Hub == nil {
		return nil, fmt.Errorf("%w: hub client", ErrMissingDependency)
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("%w: state cache", ErrMissingDependency)
	}

	e := &Engine{
		hub:            opts.Hub,
		cache:          opts.Cache,
		notifier:       opts.Notifier,
		reconnectDelay: opts.ReconnectDelay,
		telemetry:      opts.Telemetry,
		logger:         opts.Logger,
		sleep:          opts.Sleep,
		stateSince:     time.Now(),
	}
	if e.notifier == nil {
		e.notifier = NopNotifier{}
	}
	if e.reconnectDelay <= 0 {
		e.reconnectDelay = defaultReconnectDelay
	}
	if e.telemetry == nil {
		e.telemetry = nopTelemetry{}
	}
	if e.logger == nil {
		e.logger = nopLogger{}
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	return e, nil
}

// Run drives the state machine until ctx is cancelled, then returns nil.
// Hub failures never end Run; they lead to Backoff and a new session.
func (e *Engine) Run(ctx context.Context) error {
	defer e.setState(Disconnected)

	for ctx.Err() == nil {
		err := e.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		e.recordError(err)
		e.setState(Backoff)
		e.backoffs.Add(1)
		e.logger.Warn("hub session ended, backing off",
			"error", err,
			"retry_in", e.reconnectDelay.String(),
		)

		if err := e.sleep(ctx, e.reconnectDelay); err != nil {
			return nil
		}
	}
	return nil
}

// session runs one connect → stream cycle. It always returns non-nil.
func (e *Engine) session(ctx context.Context) error {
	e.setState(Connecting)
	conn, err := e.hub.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	e.setState(Authenticating)
	if err := conn.Authenticate(ctx); err != nil {
		return err
	}

	events, errs, err := conn.Subscribe(ctx)
	if err != nil {
		return err
	}
	e.setState(Subscribed)

	e.setState(Streaming)
	e.sessions.Add(1)
	e.resync(ctx, TriggerReconnect)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return ErrStreamEnded
				}
			}
			e.apply(ctx, ev)
		}
	}
}

// apply runs change detection for one event.
func (e *Engine) apply(ctx context.Context, ev hass.StateChangeEvent) {
	e.writeMu.Lock()
	old, _ := e.cache.Get(ev.EntityID)
	changed := e.cache.Apply(ev.EntityID, ev.NewState)
	e.writeMu.Unlock()

	e.telemetry.WriteEvent(domainOf(ev.EntityID), changed)

	if !changed {
		e.eventsDropped.Add(1)
		e.logger.Debug("state unchanged", "entity_id", ev.EntityID, "state", ev.NewState)
		return
	}

	e.eventsApplied.Add(1)
	e.logger.Info("state changed",
		"entity_id", ev.EntityID,
		"old_state", old,
		"new_state", ev.NewState,
	)
	e.notifier.NotifyChange(ctx, Change{EntityID: ev.EntityID, OldState: old, NewState: ev.NewState})
}

// Resync fetches every hub state and replaces the cache wholesale.
// A failed fetch leaves the previous snapshot in place.
// It returns the number of entities now cached.
func (e *Engine) Resync(ctx context.Context) int {
	return e.resync(ctx, TriggerCommand)
}

func (e *Engine) resync(ctx context.Context, trigger string) int {
	e.writeMu.Lock()
	states, err := e.hub.FetchAllStatesErr(ctx)
	if err == nil {
		e.cache.Replace(states)
	}
	n := e.cache.Len()
	e.writeMu.Unlock()

	if err != nil {
		e.recordError(err)
		e.logger.Warn("state fetch failed, keeping cached snapshot",
			"trigger", trigger,
			"cached", n,
			"error", err,
		)
		return n
	}

	e.resyncs.Add(1)
	e.infoMu.Lock()
	e.lastResyncCount = n
	e.infoMu.Unlock()

	e.telemetry.WriteResync(trigger, n)
	e.logger.Info("state cache resynced", "trigger", trigger, "devices", n)
	return n
}

// State returns the current connection state.
func (e *Engine) State() ConnectionState {
	return ConnectionState(e.state.Load())
}

// Cache returns a read-only view of the state cache.
func (e *Engine) Cache() state.Reader {
	return e.cache
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	e.infoMu.RLock()
	defer e.infoMu.RUnlock()

	return Stats{
		State:           e.State(),
		StateSince:      e.stateSince,
		Sessions:        e.sessions.Load(),
		Backoffs:        e.backoffs.Load(),
		EventsApplied:   e.eventsApplied.Load(),
		EventsDropped:   e.eventsDropped.Load(),
		Resyncs:         e.resyncs.Load(),
		LastResyncCount: e.lastResyncCount,
		LastError:       e.lastError,
		CachedEntities:  e.cache.Len(),
	}
}

func (e *Engine) setState(next ConnectionState) {
	prev := ConnectionState(e.state.Swap(int32(next)))
	if prev == next {
		return
	}

	e.infoMu.Lock()
	e.stateSince = time.Now()
	e.infoMu.Unlock()

	e.telemetry.WriteStateTransition(prev.String(), next.String())
	e.logger.Info("hub connection state", "from", prev.String(), "to", next.String())
}

func (e *Engine) recordError(err error) {
	if err == nil {
		return
	}
	e.infoMu.Lock()
	e.lastError = err.Error()
	e.infoMu.Unlock()
}

// domainOf returns the part of an entity id before the first '.'.
func domainOf(entityID string) string {
	domain, _, found := strings.Cut(entityID, ".")
	if !found {
		return "unknown"
	}
	return domain
}

// sleepContext waits for d or ctx, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopTelemetry struct{}

func (nopTelemetry) WriteStateTransition(string, string) {}
func (nopTelemetry) WriteEvent(string, bool)             {}
func (nopTelemetry) WriteResync(string, int)             {}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
