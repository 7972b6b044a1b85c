package domain

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateChange describes one transition of the connection state machine.
// Err is set when the transition was caused by a failure.
type StateChange struct {
	From ConnectionState
	To   ConnectionState
	Err  error
}
