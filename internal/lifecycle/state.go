package lifecycle

import (
	"errors"
	"fmt"
)

// RunState is the orchestrator's position in a single run.
type RunState int

const (
	StateIdle RunState = iota
	StateGating
	StateLaunching
	StateVerifying
	StateReady
	StateShuttingDown
	StateStopped
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateGating:       "gating",
	StateLaunching:    "launching",
	StateVerifying:    "verifying",
	StateReady:        "ready",
	StateShuttingDown: "shutting_down",
	StateStopped:      "stopped",
}

func (s RunState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s RunState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RunState) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = RunState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", b)
}

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool { return s == StateStopped }

// StateNames lists every state name, in order.
func StateNames() []string {
	out := make([]string, len(stateNames))
	copy(out, stateNames[:])
	return out
}

// ErrInvalidTransition is returned when a transition is not in the table.
var ErrInvalidTransition = errors.New("invalid run state transition")

// Launching is only reachable through a successful gate. ShuttingDown is
// only reachable once a child has been started.
var transitions = map[RunState][]RunState{
	StateIdle:         {StateGating},
	StateGating:       {StateLaunching, StateStopped},
	StateLaunching:    {StateVerifying, StateStopped},
	StateVerifying:    {StateReady, StateShuttingDown},
	StateReady:        {StateShuttingDown},
	StateShuttingDown: {StateStopped},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to RunState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
