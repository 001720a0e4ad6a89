package sio

import (
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// PipeWithCancel joins a and b until either direction stops, then closes both.
// It returns the bytes copied from b to a and from a to b.
func PipeWithCancel(a io.ReadWriteCloser, b io.ReadWriteCloser) (int64, int64) {
	var toA, toB int64
	var once sync.Once
	stop := func() {
		_ = a.Close()
		_ = b.Close()
	}

	var g errgroup.Group
	g.Go(func() error {
		var err error
		toA, err = io.Copy(a, b)
		once.Do(stop)
		return err
	})
	g.Go(func() error {
		var err error
		toB, err = io.Copy(b, a)
		once.Do(stop)
		return err
	})
	// a closed pipe always ends one side with an error
	_ = g.Wait()

	return toA, toB
}
