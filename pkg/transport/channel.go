// Package transport turns ConnectionOptions into an authenticated SSH
// connection and exposes the remote streams behind a small capability
// interface, so the engines above never touch x/crypto/ssh types.
package transport

import (
	"errors"
	"fmt"
	"io"
)

type Kind string

const (
	KindExec  Kind = "exec"
	KindShell Kind = "shell"
	KindSFTP  Kind = "sftp"
)

// NoExitStatus is reported by Wait when the remote side closed without one
const NoExitStatus = -1

// Channel is one duplex remote stream. Read returns stdout, Write feeds stdin.
type Channel interface {
	io.Reader
	io.Writer
	Stderr() io.Reader
	// CloseWrite signals EOF on stdin
	CloseWrite() error
	// Wait blocks until the remote command finished and returns its exit
	// status, NoExitStatus when none was reported. Safe to call more than once.
	Wait() (int, error)
	Close() error
}

// Opener opens channels. command is only meaningful for KindExec.
type Opener interface {
	Open(kind Kind, command string) (Channel, error)
}

var ErrUnsupportedKind = errors.New("unsupported channel kind")

func unsupported(kind Kind) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
}
