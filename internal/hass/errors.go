package hass

import "errors"

var (
	// ErrConnect is returned when the websocket cannot be opened or written.
	ErrConnect = errors.New("hass: connect failed")

	// ErrAuth is returned when the hub rejects the token or closes the
	// stream during the handshake.
	ErrAuth = errors.New("hass: authentication failed")

	// ErrSubscribe is returned when the state_changed subscription is refused.
	ErrSubscribe = errors.New("hass: subscribe failed")

	// ErrStream is reported when the event stream breaks after subscribing.
	ErrStream = errors.New("hass: event stream closed")

	// ErrFetch wraps every failed state snapshot attempt.
	ErrFetch = errors.New("hass: fetch states failed")

	// ErrServiceInvoke wraps a failed service call.
	ErrServiceInvoke = errors.New("hass: service call failed")

	// ErrInvalidURL is returned by NewClient for a non-ws/wss hub URL.
	ErrInvalidURL = errors.New("hass: hub url must use ws:// or wss://")
)
