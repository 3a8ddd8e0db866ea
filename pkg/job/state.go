// Package job implements the job-control state machine and the table of
// running jobs a shell front-end drives through it (components G and H
// of spec.md §4). The state machine itself is a pure function: given a
// state and an event it returns the next state, with no side effects and
// no dependency on pkg/process, so its transition table can be verified
// in isolation from real child processes.
package job

import "fmt"

// State is a job's position in its lifecycle.
type State int

const (
	None State = iota
	Foreground
	Background
	Stopped
	Terminated
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	case Stopped:
		return "stopped"
	case Terminated:
		return "terminated"
	default:
		return "invalid"
	}
}

// Event is an input to the state machine.
type Event int

const (
	Spawn Event = iota
	SpawnBg
	CtrlC
	CtrlZ
	FgCmd
	BgCmd
	ChildExit
	// ChildStop is the kernel reporting a child as stopped (WIFSTOPPED)
	// without having exited, for any reason: Ctrl+Z forwarded as
	// SIGTSTP, or the job stopping itself.
	ChildStop
	// TtyRead models a background job's attempted read of the real
	// controlling terminal triggering SIGTTIN. Kept distinct from
	// ChildStop for API fidelity to the original state table (both
	// transition to the same target state from every row that defines
	// them), but this only fires for a channel 0 that is the actual
	// ctty fd — pkg/process's pipe-based channel 0 has no ctty to
	// generate that signal against, so in this module ChildStop alone
	// covers every stop a background job can autonomously reach.
	TtyRead
	Timeout
	Error
)

func (e Event) String() string {
	switch e {
	case Spawn:
		return "spawn"
	case SpawnBg:
		return "spawn_bg"
	case CtrlC:
		return "ctrl_c"
	case CtrlZ:
		return "ctrl_z"
	case FgCmd:
		return "fg_cmd"
	case BgCmd:
		return "bg_cmd"
	case ChildExit:
		return "child_exit"
	case ChildStop:
		return "child_stop"
	case TtyRead:
		return "tty_read"
	case Timeout:
		return "timeout"
	case Error:
		return "error"
	default:
		return "invalid"
	}
}

// ErrInvalidTransition reports an event with no defined transition from
// the given state; callers should treat it as a no-op, not a crash.
type ErrInvalidTransition struct {
	From  State
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("job: no transition for event %s in state %s", e.Event, e.From)
}

// Transition is the pure state-machine function. Terminated is absorbing:
// no event moves a job out of it.
func Transition(from State, ev Event) (State, error) {
	if from == Terminated {
		return Terminated, &ErrInvalidTransition{From: from, Event: ev}
	}

	switch from {
	case None:
		switch ev {
		case Spawn:
			return Foreground, nil
		case SpawnBg:
			return Background, nil
		}

	case Foreground:
		switch ev {
		case CtrlC:
			return Terminated, nil
		case CtrlZ, ChildStop:
			return Stopped, nil
		case ChildExit:
			return Terminated, nil
		case Error:
			return Terminated, nil
		}

	case Background:
		switch ev {
		case FgCmd:
			return Foreground, nil
		case BgCmd:
			return Background, nil
		case ChildExit:
			return Terminated, nil
		case ChildStop, TtyRead:
			return Stopped, nil
		case Error:
			return Terminated, nil
		}

	case Stopped:
		switch ev {
		case FgCmd:
			return Foreground, nil
		case BgCmd:
			return Background, nil
		case CtrlC:
			return Terminated, nil
		case ChildExit:
			return Terminated, nil
		case Error:
			return Terminated, nil
		}
	}

	return from, &ErrInvalidTransition{From: from, Event: ev}
}

// CanTransition reports whether ev has a defined effect from state.
func CanTransition(from State, ev Event) bool {
	_, err := Transition(from, ev)
	return err == nil
}

// ValidEvents lists every event with a defined transition from state.
func ValidEvents(from State) []Event {
	all := []Event{Spawn, SpawnBg, CtrlC, CtrlZ, FgCmd, BgCmd, ChildExit, ChildStop, TtyRead, Timeout, Error}
	var out []Event
	for _, ev := range all {
		if CanTransition(from, ev) {
			out = append(out, ev)
		}
	}
	return out
}
