package domain

// SupervisorState — состояние машины переподключений.
type SupervisorState int32

const (
	StateStarting SupervisorState = iota
	StateConnected
	StateDisconnected
	StateReconnecting
	StateFatal
	StateShuttingDown
)

func (s SupervisorState) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFatal:
		return "FATAL"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "UNKNOWN"
	}
}
