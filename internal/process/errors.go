package process

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunchFailed classifies errors where the spawn call itself failed.
	ErrLaunchFailed = errors.New("launch failed")
	// ErrEarlyExit classifies a child that was spawned but exited during the grace period.
	ErrEarlyExit = errors.New("exited during grace period")
	// ErrAlreadyRunning is returned when Launch is called while a child is still owned.
	ErrAlreadyRunning = errors.New("a supervised process is already running")
	// ErrTermination classifies failures while stopping the child.
	ErrTermination = errors.New("termination failed")
)

// LaunchError reports a failed spawn of Command.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error        { return e.Err }
func (e *LaunchError) Is(target error) bool { return target == ErrLaunchFailed }

// EarlyExitError reports a child that did not survive the grace period.
type EarlyExitError struct {
	Command  string
	PID      int
	ExitCode int
	Grace    string
	Err      error
}

func (e *EarlyExitError) Error() string {
	msg := fmt.Sprintf("%q (pid %d) exited with code %d within %s", e.Command, e.PID, e.ExitCode, e.Grace)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EarlyExitError) Unwrap() error        { return e.Err }
func (e *EarlyExitError) Is(target error) bool { return target == ErrEarlyExit }

// TerminationError reports a child that could not be stopped cleanly.
type TerminationError struct {
	PID int
	Err error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate pid %d: %v", e.PID, e.Err)
}

func (e *TerminationError) Unwrap() error        { return e.Err }
func (e *TerminationError) Is(target error) bool { return target == ErrTermination }
