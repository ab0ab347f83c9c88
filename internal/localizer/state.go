package localizer

import "fmt"

// State is the supervisor's lifecycle state.
type State int

const (
	// AwaitingFirstOdometry idles the loop until odometry arrives.
	AwaitingFirstOdometry State = iota
	// SteadyState runs predict/update every UpdateRate ticks and broadcasts
	// on every tick.
	SteadyState
)

func (s State) String() string {
	switch s {
	case AwaitingFirstOdometry:
		return "awaiting_first_odometry"
	case SteadyState:
		return "steady_state"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "awaiting_first_odometry":
		*s = AwaitingFirstOdometry
	case "steady_state":
		*s = SteadyState
	default:
		return fmt.Errorf("localizer: unknown state %q", b)
	}
	return nil
}
