// Package hass talks to Home Assistant.
//
// Two channels are used, both authenticated with the same long-lived token:
//
//   - the websocket API (Dial, Conn.Authenticate, Conn.Subscribe) for the live
//     state_changed event stream
//   - the REST API (FetchAllStates, InvokeService) for full state snapshots
//     and service calls
//
// The REST base URL is derived from the configured websocket URL:
// ws:// becomes http://, wss:// becomes https://, and a trailing
// /api/websocket is dropped.
//
// Failures never escape as panics. Dial returns ErrConnect, Authenticate
// ErrConnect or ErrAuth. FetchAllStates degrades to an empty slice after its
// retry budget; FetchAllStatesErr reports the same failure as ErrFetch so
// callers can keep what they had. InvokeService reports a bool and is never
// retried.
package hass
