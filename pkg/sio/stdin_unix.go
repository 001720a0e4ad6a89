//go:build !windows

package sio

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

const (
	stdinChunk   = 4096
	pollInterval = 50000 // microseconds
)

// CopyStdinCancellable feeds stdin to a remote command input until done is closed,
// polling with select(2) so the copy can stop without a pending read.
// It also returns on stdin EOF or when dst rejects a write.
func CopyStdinCancellable(dst io.Writer, done <-chan struct{}) {
	stdinFd := int(os.Stdin.Fd())
	buf := make([]byte, stdinChunk)

	for {
		select {
		case <-done:
			return
		default:
		}

		var readfds unix.FdSet
		readfds.Zero()
		readfds.Set(stdinFd)

		timeout := unix.Timeval{Sec: 0, Usec: pollInterval}

		n, err := unix.Select(stdinFd+1, &readfds, nil, nil, &timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}

		if n == 0 {
			continue
		}

		if readfds.IsSet(stdinFd) {
			nr, readErr := os.Stdin.Read(buf)
			if readErr != nil {
				if closer, ok := dst.(interface{ CloseWrite() error }); ok && readErr == io.EOF {
					_ = closer.CloseWrite()
				}
				return
			}
			if nr > 0 {
				_, writeErr := dst.Write(buf[:nr])
				if writeErr != nil {
					return
				}
			}
		}
	}
}
