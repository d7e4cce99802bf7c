package bridge

// ConnectionState is the sync engine's view of the hub connection.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Authenticating
	Subscribed
	Streaming
	Backoff
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Authenticating:
		return "Authenticating"
	case Subscribed:
		return "Subscribed"
	case Streaming:
		return "Streaming"
	case Backoff:
		return "Backoff"
	default:
		return "Unknown"
	}
}

// MarshalText renders the state name in JSON output.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
