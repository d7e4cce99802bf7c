package command

import "errors"

var (
	// ErrMalformedCommand is returned by Parse for empty command text.
	ErrMalformedCommand = errors.New("command: malformed command")

	// ErrMalformedEntityID marks an entity id without a "<domain>.<object>" shape.
	ErrMalformedEntityID = errors.New("command: malformed entity id")

	// ErrSourceClosed is returned by a Source that will yield nothing more.
	ErrSourceClosed = errors.New("command: source closed")

	// ErrInvalidPayload marks an inbound message that could not be decoded.
	ErrInvalidPayload = errors.New("command: invalid payload")
)
