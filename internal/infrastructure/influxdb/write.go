package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSync    = "hass_sync"
	MeasurementCommand = "command"
)

// WriteStateTransition records one hub connection state change.
func (c *Client) WriteStateTransition(from, to string) {
	c.writePoint(MeasurementSync,
		map[string]string{"kind": "transition", "from": from, "to": to},
		map[string]any{"count": 1},
	)
}

// WriteEvent records one hub state_changed event and whether it changed
// the cache. Entity ids are deliberately not tagged to keep cardinality low.
func (c *Client) WriteEvent(domain string, applied bool) {
	c.writePoint(MeasurementSync,
		map[string]string{"kind": "event", "domain": domain},
		map[string]any{"applied": applied, "count": 1},
	)
}

// WriteResync records a full cache replacement and how many entities it held.
func (c *Client) WriteResync(trigger string, devices int) {
	c.writePoint(MeasurementSync,
		map[string]string{"kind": "resync", "trigger": trigger},
		map[string]any{"devices": devices},
	)
}

// WriteCommand records one processed chat command.
func (c *Client) WriteCommand(name string, success bool, latency time.Duration) {
	c.writePoint(MeasurementCommand,
		map[string]string{"name": name},
		map[string]any{
			"success":    success,
			"latency_ms": float64(latency.Microseconds()) / 1000,
		},
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
	c.points.Add(1)
}
