package session

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("session is closed")

// ConnectError reports a session that could not be built
type ConnectError struct {
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ProbeError reports a session that stopped answering
type ProbeError struct {
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("session probe failed: %v", e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}
