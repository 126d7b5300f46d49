package directory

// State is the lifecycle of the managed directory connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Event drives every state change of the manager.
type Event int

const (
	EventConnect    Event = iota // a connect attempt starts
	EventBound                   // dial and bind succeeded
	EventBindFailed              // dial or bind failed
	EventConnLost                // current connection broke
	EventIdle                    // current connection idle for too long
	EventReconnect               // someone asked for a fresh connection
	EventShutdown
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventBound:
		return "bound"
	case EventBindFailed:
		return "bind_failed"
	case EventConnLost:
		return "conn_lost"
	case EventIdle:
		return "idle"
	case EventReconnect:
		return "reconnect"
	case EventShutdown:
		return "shutdown"
	default:
		return "invalid"
	}
}

type action uint8

const (
	actionNone    action = 0
	actionConnect action = 1 << iota
	actionRetry
	actionRelease
)

// transition is the whole state machine. Side effects are carried out by the
// manager according to the returned action.
func transition(from State, ev Event) (State, action) {
	if from == StateClosed {
		return StateClosed, actionNone
	}

	switch ev {
	case EventShutdown:
		return StateClosed, actionRelease
	case EventConnect:
		return StateConnecting, actionNone
	case EventBound:
		return StateBound, actionNone
	case EventBindFailed:
		return StateDisconnected, actionRetry
	case EventConnLost, EventIdle, EventReconnect:
		if from == StateConnecting {
			return StateConnecting, actionNone
		}
		return StateConnecting, actionConnect
	}
	return from, actionNone
}
