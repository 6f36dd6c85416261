package engine

import "fmt"

// State is the scheduler lifecycle state. Transitions:
//
//	Idle --Start--> Scheduled --tick--> RunActive --run ends--> Scheduled
//	any --Stop--> Stopped
//
// Stopped is terminal.
type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateRunActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunActive:
		return "run_active"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
