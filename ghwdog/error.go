package ghwdog

import (
	"fmt"
)

// FatalExitCode is the process exit status used by [*Bridge.Shutdown]
// and by [*Bridge.Init] when the device cannot be opened.
const FatalExitCode = 1

// OpenExhaustedError indicates that [*Bridge.Init] failed to open
// the watchdog device on every allowed attempt.
//
// In production the process has already exited by the time this would be returned;
// it is only observable when the exit hook is replaced with [WithExit].
type OpenExhaustedError struct {
	DevicePath string
	Attempts   int

	// The error from the final open attempt.
	Last error
}

func (e OpenExhaustedError) Error() string {
	return fmt.Sprintf(
		"failed to open watchdog device %s after %d attempt(s): %v",
		e.DevicePath, e.Attempts, e.Last,
	)
}

func (e OpenExhaustedError) Unwrap() error {
	return e.Last
}

// ShortWriteError indicates the device accepted a different number of bytes
// than the single byte written.
type ShortWriteError struct {
	Written int
}

func (e ShortWriteError) Error() string {
	return fmt.Sprintf("short write to watchdog device: wrote %d of 1 byte(s)", e.Written)
}
