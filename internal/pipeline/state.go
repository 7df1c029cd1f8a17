package pipeline

import "fmt"

// State is the orchestrator's position in the two-stage pipeline. The
// machine only ever moves forward; FAILED is terminal and reachable from
// any non-terminal state.
type State int

const (
	StateInit State = iota
	StateStagingOptical
	StateRunningOptical
	StateParsingOptical
	StateStagingAcoustic
	StateRunningAcoustic
	StateParsingAcoustic
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateInit:            "INIT",
	StateStagingOptical:  "STAGING_OPTICAL",
	StateRunningOptical:  "RUNNING_OPTICAL",
	StateParsingOptical:  "PARSING_OPTICAL",
	StateStagingAcoustic: "STAGING_ACOUSTIC",
	StateRunningAcoustic: "RUNNING_ACOUSTIC",
	StateParsingAcoustic: "PARSING_ACOUSTIC",
	StateDone:            "DONE",
	StateFailed:          "FAILED",
}

// String implements the fmt.Stringer interface.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Failure is the terminal error of a failed run: the stage the machine was
// in and the cause that moved it to FAILED.
type Failure struct {
	Stage State
	Cause error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("pipeline failed during %s: %v", f.Stage, f.Cause)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (f *Failure) Unwrap() error {
	return f.Cause
}
