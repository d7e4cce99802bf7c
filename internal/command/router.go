package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/subsubl/hass-quixi-bridge/internal/audit"
	"github.com/subsubl/hass-quixi-bridge/internal/state"
)

// defaultDeviceListLimit caps the devices reply.
const defaultDeviceListLimit = 10

// Fixed replies.
const (
	UsageControl = "Usage: control <entity_id> <command> [params]"
	ReplyEmpty   = "Empty command. Use 'help' for available commands."
	HelpText     = "Available commands:\n" +
		"status - Check connection status\n" +
		"devices - List devices\n" +
		"control <entity_id> <on|off|toggle> - Control device\n" +
		"sync - Force sync all states\n" +
		"help - Show this help"
)

// auditTimeout bounds one audit write.
const auditTimeout = 2 * time.Second

// Hub is the part of the hub client the router uses. *hass.Client satisfies it.
type Hub interface {
	URL() string
	FetchAllStates(ctx context.Context) []state.DeviceState
	InvokeService(ctx context.Context, entityID, domain, service string, params map[string]any) bool
}

// Resyncer replaces the state cache from a full hub fetch. *bridge.Engine
// satisfies it; the cache has a single writer.
type Resyncer interface {
	Resync(ctx context.Context) int
}

// Replier delivers a reply to a sender. *quixi.Client satisfies it.
type Replier interface {
	Send(ctx context.Context, address, text string) bool
}

// Telemetry records command outcomes. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteCommand(name string, success bool, latency time.Duration)
}

// Logger is the logging surface the router needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Router.
type Options struct {
	Hub      Hub      // required
	Resyncer Resyncer // required
	Replier  Replier  // required

	// DeviceListLimit is the number of entities listed by "devices".
	// Default: 10.
	DeviceListLimit int

	Audit     audit.Repository // optional
	Telemetry Telemetry        // optional
	Logger    Logger           // optional
}

// Result is the outcome of one handled message.
type Result struct {
	Command   Command
	Reply     string
	Success   bool
	Delivered bool
	Err       error
}

// Router dispatches parsed commands and replies to the sender.
type Router struct {
	hub       Hub
	resyncer  Resyncer
	replier   Replier
	audit     audit.Repository
	telemetry Telemetry
	logger    Logger
	listLimit int

	handlers map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, cmd Command) (reply string, success bool, err error)

// NewRouter creates a Router.
func NewRouter(opts Options) (*Router, error) {
	switch {
	case opts.Hub == nil:
		return nil, errors.New("command: hub is required")
	case opts.Resyncer == nil:
		return nil, errors.New("command: resyncer is required")
	case opts.Replier == nil:
		return nil, errors.New("command: replier is required")
	}

	r := &Router{
		hub:       opts.Hub,
		resyncer:  opts.Resyncer,
		replier:   opts.Replier,
		audit:     opts.Audit,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
		listLimit: opts.DeviceListLimit,
	}
	if r.listLimit <= 0 {
		r.listLimit = defaultDeviceListLimit
	}
	if r.logger == nil {
		r.logger = nopLogger{}
	}

	r.handlers = map[string]handlerFunc{
		NameStatus:  r.handleStatus,
		NameDevices: r.handleDevices,
		NameControl: r.handleControl,
		NameSync:    r.handleSync,
		NameHelp:    r.handleHelp,
	}
	return r, nil
}

// Handle parses msg, dispatches it and sends exactly one reply.
func (r *Router) Handle(ctx context.Context, msg Inbound) Result {
	start := time.Now()

	cmd, err := Parse(msg.Sender, msg.Text)
	var res Result
	if err != nil {
		res = Result{Command: cmd, Reply: ReplyEmpty, Err: err}
	} else {
		r.logger.Info("processing command", "sender", cmd.Sender, "command", cmd.Name, "args", cmd.Args)
		reply, success, herr := r.Dispatch(ctx, cmd)
		res = Result{Command: cmd, Reply: reply, Success: success, Err: herr}
	}

	res.Delivered = r.replier.Send(ctx, msg.Sender, res.Reply)
	if !res.Delivered {
		r.logger.Warn("reply not delivered", "sender", msg.Sender, "command", cmd.Name)
	}
	if res.Err != nil {
		r.logger.Warn("command failed", "sender", msg.Sender, "command", cmd.Name, "error", res.Err)
	}

	latency := time.Since(start)
	if r.telemetry != nil {
		r.telemetry.WriteCommand(metricName(cmd.Name), res.Success, latency)
	}
	r.record(ctx, res, latency)
	return res
}

// Dispatch runs one command and returns its reply text.
func (r *Router) Dispatch(ctx context.Context, cmd Command) (reply string, success bool, err error) {
	h, ok := r.handlers[cmd.Name]
	if !ok {
		return fmt.Sprintf("Unknown command: %s. Use 'help' for available commands.", cmd.Name), false, nil
	}
	return h(ctx, cmd)
}

func (r *Router) handleStatus(_ context.Context, _ Command) (string, bool, error) {
	return "Home Assistant sync active. Connected to " + r.hub.URL(), true, nil
}

func (r *Router) handleDevices(ctx context.Context, _ Command) (string, bool, error) {
	states := r.hub.FetchAllStates(ctx)

	listed := states
	if len(listed) > r.listLimit {
		listed = listed[:r.listLimit]
	}

	lines := make([]string, 0, len(listed))
	for _, s := range listed {
		lines = append(lines, s.EntityID+": "+s.State)
	}

	var b strings.Builder
	b.WriteString("Devices:\n")
	b.WriteString(strings.Join(lines, "\n"))
	if len(states) > r.listLimit {
		fmt.Fprintf(&b, "\n... and %d more", len(states)-r.listLimit)
	}
	return b.String(), true, nil
}

func (r *Router) handleControl(ctx context.Context, cmd Command) (string, bool, error) {
	if len(cmd.Args) < 2 {
		return UsageControl, false, nil
	}

	entityID := cmd.Args[0]
	action := strings.ToLower(cmd.Args[1])

	service, ok := ServiceFor(action)
	if !ok {
		return "Unknown action: " + action, false, nil
	}

	failed := fmt.Sprintf("Control command failed: %s %s", entityID, action)

	domain, _, err := SplitEntityID(entityID)
	if err != nil {
		return failed, false, err
	}

	params, ignored := ParseParams(cmd.Args[2:])
	if len(ignored) > 0 {
		r.logger.Debug("ignoring control arguments", "entity_id", entityID, "args", ignored)
	}

	if !r.hub.InvokeService(ctx, entityID, domain, service, params) {
		return failed, false, nil
	}
	return fmt.Sprintf("Control command successful: %s %s", entityID, action), true, nil
}

func (r *Router) handleSync(ctx context.Context, _ Command) (string, bool, error) {
	n := r.resyncer.Resync(ctx)
	return fmt.Sprintf("Synced %d devices", n), true, nil
}

func (r *Router) handleHelp(context.Context, Command) (string, bool, error) {
	return HelpText, true, nil
}

// record writes the audit entry. Failures are logged only.
func (r *Router) record(ctx context.Context, res Result, latency time.Duration) {
	if r.audit == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	err := r.audit.Create(ctx, &audit.Entry{
		Sender:   res.Command.Sender,
		Command:  res.Command.Name,
		Args:     res.Command.Args,
		Reply:    res.Reply,
		Success:  res.Success,
		Duration: latency,
	})
	if err != nil {
		r.logger.Error("failed to record command", "command", res.Command.Name, "error", err)
	}
}

// metricName maps names outside the dispatch table to a fixed tag value.
func metricName(name string) string {
	switch name {
	case NameStatus, NameDevices, NameControl, NameSync, NameHelp:
		return name
	case "":
		return "empty"
	default:
		return "unknown"
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
