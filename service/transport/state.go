package transport

// State is the connection state machine:
// Disconnected -> Connecting -> Subscribed -> (Degraded | Disconnected).
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// stateNames is used to zero out inactive states on the metrics gauge.
var stateNames = []string{"disconnected", "connecting", "subscribed", "degraded"}
