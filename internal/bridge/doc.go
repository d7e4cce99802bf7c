// Package bridge keeps the local state cache in step with Home Assistant
// and runs the bridge's long-lived tasks.
//
// # Sync engine
//
// Engine owns the hub connection and is the only writer of the state cache:
//
//	Disconnected → Connecting → Authenticating → Subscribed → Streaming
//	                    ▲                                       │
//	                    └──────── Backoff (fixed delay) ◀───────┘ (any failure)
//
// On entering Streaming it fetches every state and replaces the cache
// wholesale. Each later event is compared with the cached value: an equal
// value is dropped, anything else updates the cache and is handed to the
// ChangeNotifier (a no-op unless configured).
//
// # Bridge
//
// Bridge runs the engine and the command loop side by side under one
// errgroup so that a hung hub never stalls command handling and vice versa.
// Both stop when the shared context is cancelled.
package bridge
