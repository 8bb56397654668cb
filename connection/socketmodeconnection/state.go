package socketmodeconnection

// State of the connection manager. Disconnected -> Connecting -> Open -> Closing loops for
// the life of the manager; ShutDown is terminal and only entered when the relay disables
// socket mode for the app.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	ShutDown
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Open:
		return "Open"
	case Closing:
		return "Closing"
	case ShutDown:
		return "ShutDown"
	default:
		return "Unknown"
	}
}
