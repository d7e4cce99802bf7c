package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/mqtt"
)

// Change is one accepted state change. OldState is empty for a new entity.
type Change struct {
	EntityID string
	OldState string
	NewState string
}

// ChangeNotifier receives every accepted change, in hub order, on the
// engine goroutine. Implementations must not block for long and must
// swallow their own errors: delivery is best effort.
type ChangeNotifier interface {
	NotifyChange(ctx context.Context, change Change)
}

// NopNotifier discards changes. It is the engine default.
type NopNotifier struct{}

// NotifyChange does nothing.
func (NopNotifier) NotifyChange(context.Context, Change) {}

// NotifierFunc adapts a function to ChangeNotifier.
type NotifierFunc func(ctx context.Context, change Change)

// NotifyChange calls f.
func (f NotifierFunc) NotifyChange(ctx context.Context, change Change) {
	f(ctx, change)
}

// MultiNotifier fans a change out to each notifier in order. Nil entries
// are skipped.
type MultiNotifier []ChangeNotifier

// NotifyChange forwards change to every notifier.
func (m MultiNotifier) NotifyChange(ctx context.Context, change Change) {
	for _, n := range m {
		if n != nil {
			n.NotifyChange(ctx, change)
		}
	}
}

// Publisher publishes MQTT messages. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// MQTTNotifier mirrors accepted changes to hassbridge/state/<entity_id>
// as retained messages.
type MQTTNotifier struct {
	Publisher Publisher
	QoS       byte
	Logger    Logger
}

type stateMessage struct {
	EntityID  string    `json:"entity_id"`
	State     string    `json:"state"`
	OldState  string    `json:"old_state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NotifyChange publishes the change. Failures are logged and dropped.
func (n MQTTNotifier) NotifyChange(_ context.Context, change Change) {
	if n.Publisher == nil || !n.Publisher.IsConnected() {
		return
	}

	payload, err := json.Marshal(stateMessage{
		EntityID:  change.EntityID,
		State:     change.NewState,
		OldState:  change.OldState,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}

	if err := n.Publisher.Publish(mqtt.Topics{}.DeviceState(change.EntityID), payload, n.QoS, true); err != nil && n.Logger != nil {
		n.Logger.Warn("state mirror publish failed", "entity_id", change.EntityID, "error", err)
	}
}
