package shell

import (
	"errors"
	"fmt"

	"rshell/pkg/watchdog"
)

var (
	ErrClosed = errors.New("shell is closed")
	// ErrStreamEnded is returned when the remote shell exited, the next
	// command starts a new one
	ErrStreamEnded = errors.New("shell stream ended")
	ErrNoTransfer  = errors.New("no file transfer available")
)

// TimeoutError carries what the shell printed before and after the break
type TimeoutError struct {
	Command string
	Output  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("shell command %q timed out", e.Command)
}

func (e *TimeoutError) Unwrap() error {
	return watchdog.ErrTimeout
}
