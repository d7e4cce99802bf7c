package bridge

import "errors"

var (
	// ErrStreamEnded is returned by a session whose event stream closed
	// without reporting a cause.
	ErrStreamEnded = errors.New("bridge: hub event stream ended")

	// ErrMissingDependency is returned by constructors missing a required collaborator.
	ErrMissingDependency = errors.New("bridge: missing dependency")

	// ErrAlreadyStarted is returned by a second call to Bridge.Start.
	ErrAlreadyStarted = errors.New("bridge: already started")
)
