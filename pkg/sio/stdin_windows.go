//go:build windows

package sio

import (
	"io"
	"os"

	"github.com/mattn/go-tty"
)

// CopyStdinCancellable feeds console input to a remote command until done is closed.
// Without a console it degrades to a blocking copy of stdin.
func CopyStdinCancellable(dst io.Writer, done <-chan struct{}) {
	// Try to use go-tty for Windows console
	t, err := tty.Open()
	if err != nil {
		_, _ = io.Copy(dst, os.Stdin)
		if closer, ok := dst.(interface{ CloseWrite() error }); ok {
			_ = closer.CloseWrite()
		}
		return
	}
	defer t.Close()

	for {
		select {
		case <-done:
			return
		default:
		}

		r, err := t.ReadRune()
		if err != nil {
			return
		}
		_, writeErr := dst.Write([]byte(string(r)))
		if writeErr != nil {
			return
		}
	}
}
