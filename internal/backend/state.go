package backend

// State is the connection lifecycle position. Transitions past Connected are
// driven by the session relay as the handshake progresses; Closed is terminal
// and reachable from any state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateCheckedIn
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateCheckedIn:
		return "checked-in"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Advance moves the connection forward through the handshake states.
// It never resurrects a Closed connection and never moves backwards.
// Closing goes through Close, not Advance.
func (c *Conn) Advance(next State) bool {
	if next > StateAuthenticated {
		return false
	}
	for {
		cur := c.state.Load()
		if State(cur) == StateClosed || State(cur) >= next {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}
