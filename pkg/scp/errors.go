package scp

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("remote file not found")
	ErrMultipleFiles = errors.New("expected exactly one file")
)

// ProtocolError is a negative ack of the remote scp. A non fatal error
// usually means scp is missing or restricted on the remote side.
type ProtocolError struct {
	Fatal   bool
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Fatal {
		return "transfer protocol fatal error: " + e.Message
	}
	return "transfer protocol error: " + e.Message
}

// MalformedResponseError is a control line that could not be parsed
type MalformedResponseError struct {
	Line string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed transfer control line %q", e.Line)
}
