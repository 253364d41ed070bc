package daemon

import "github.com/kildhq/kild/internal/kilderr"

// State is the per-DaemonSession finite-state machine of spec §4.4.
type State int

// The three states, numbered with iota; String gives their log names.
const (
	New State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SetRunning transitions New -> Running. Any other starting state is an
// illegal transition.
func (s State) SetRunning() (State, error) {
	if s != New {
		return s, kilderr.InvalidStateTransition(s.String(), Running.String())
	}
	return Running, nil
}

// SetStopped transitions Running -> Stopped. Stopped -> Stopped is
// idempotent (no error, no change). New -> Stopped is the early-exit
// race permitted by spec §4.5.
func (s State) SetStopped() (State, error) {
	switch s {
	case Stopped:
		return Stopped, nil
	case Running, New:
		return Stopped, nil
	default:
		return s, kilderr.InvalidStateTransition(s.String(), Stopped.String())
	}
}
