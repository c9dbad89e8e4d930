package orch

// State is the orchestrator's position in the session lifecycle.
//
//	Idle -> Searching -> Matched -> Negotiating -> Connected <-> Degraded
//	any -> Ending -> Idle
//	Negotiating/Connected/Degraded -> Failed (recovery exhausted)
type State int

const (
	StateIdle State = iota
	StateSearching
	StateMatched
	StateNegotiating
	StateConnected
	StateDegraded
	StateEnding
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateMatched:
		return "matched"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateEnding:
		return "ending"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// inSession reports whether a media session can exist in this state.
func (s State) inSession() bool {
	switch s {
	case StateMatched, StateNegotiating, StateConnected, StateDegraded, StateFailed:
		return true
	default:
		return false
	}
}
