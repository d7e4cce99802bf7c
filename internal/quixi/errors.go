package quixi

import "errors"

var (
	// ErrNotify indicates a chat message could not be delivered.
	ErrNotify = errors.New("quixi: send failed")

	// ErrSign indicates a message could not be signed.
	ErrSign = errors.New("quixi: signing failed")

	// ErrInvalidKey indicates a key file could not be parsed.
	ErrInvalidKey = errors.New("quixi: invalid key")

	// ErrInvalidSignature indicates a signature did not verify.
	ErrInvalidSignature = errors.New("quixi: invalid signature")
)
