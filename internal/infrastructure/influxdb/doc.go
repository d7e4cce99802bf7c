// Package influxdb records bridge telemetry in InfluxDB 2.x.
//
// Two measurements are written:
//
//	hass_sync  kind=transition|event|resync  (connection state changes,
//	           events applied or dropped, full resync sizes)
//	command    name=<command>                (success, latency_ms)
//
// Writes go through the non-blocking batched write API of
// influxdb-client-go v2. A nil *Client is a valid "telemetry off" value,
// so callers never need to branch on whether InfluxDB is configured.
package influxdb
