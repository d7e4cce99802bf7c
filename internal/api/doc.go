// Package api implements the bridge's HTTP status API.
//
// This package provides:
//   - GET /api/v1/health: liveness, no auth
//   - GET /api/v1/metrics: runtime and connection metrics, no auth
//   - GET /api/v1/status: hub connection state and engine counters
//   - GET /api/v1/devices: sorted snapshot of the state cache
//   - GET /api/v1/commands: paginated command audit log
//   - GET /api/v1/ws: live stream of accepted state changes
//
// When security.jwt.secret is set, every route except health and metrics
// requires an HS256 bearer token. The websocket endpoint also accepts the
// token as a ?token= query parameter.
//
// The server follows the same lifecycle pattern as other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
