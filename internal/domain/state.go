package domain

// SessionState is the voice session's listening mode.
type SessionState int

const (
	// SessionIdle — waiting for a wake word; input is discarded.
	SessionIdle SessionState = iota
	// SessionActive — wake word heard; input is forwarded until the
	// inactivity timeout expires.
	SessionActive
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionActive:
		return "active"
	default:
		return "unknown"
	}
}
