package core

// ConnState is the coarse state of the underlying peer connection.
type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDegraded
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDegraded:
		return "degraded"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionHealth is owned by the connection manager and only proposed
// upward; the orchestrator decides what to do with transitions.
type ConnectionHealth struct {
	State           ConnState
	RecoveryAttempt int
	MaxAttempts     int
}

// CanRecover reports whether automatic recovery attempts remain.
func (h ConnectionHealth) CanRecover() bool {
	return h.RecoveryAttempt < h.MaxAttempts
}
