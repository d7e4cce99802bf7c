package mqtt

import "errors"

var (
	// ErrNotConnected means the broker link is down. The paho client keeps
	// reconnecting in the background, so callers may simply retry later.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnect wraps a failed initial connection.
	ErrConnect = errors.New("mqtt: connect")

	// ErrPublish wraps a rejected or timed out publish.
	ErrPublish = errors.New("mqtt: publish")

	// ErrSubscribe wraps a rejected or timed out (un)subscribe.
	ErrSubscribe = errors.New("mqtt: subscribe")

	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
