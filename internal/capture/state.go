package capture

// State is the lifecycle state of a Session.
type State string

// Session states.
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// Active reports whether the platform stream may be allocated.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}
