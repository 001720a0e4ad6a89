// Package watchdog bounds the duration of a remote operation. When it fires
// it sends Ctrl-C to the remote side and interrupts the local readers.
package watchdog

import (
	"errors"
	"io"
	"sync"
	"time"

	"rshell/pkg/conf"
)

// ErrTimeout is wrapped by every timeout error of the module
var ErrTimeout = errors.New("operation timed out")

type Watchdog struct {
	timeout time.Duration
	breaker io.Writer

	mu         sync.Mutex
	interrupts []func()
	timer      *time.Timer
	fired      bool
	stopped    bool
}

// New returns a watchdog writing the break byte to breaker on expiry.
// A zero timeout never fires.
func New(timeout time.Duration, breaker io.Writer) *Watchdog {
	return &Watchdog{timeout: timeout, breaker: breaker}
}

// Register adds a function called when the watchdog fires
func (w *Watchdog) Register(interrupt func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.interrupts = append(w.interrupts, interrupt)
}

func (w *Watchdog) Start() {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil || w.stopped {
		return
	}
	w.timer = time.AfterFunc(w.timeout, w.fire)
}

// Stop disarms the watchdog. It reports whether the watchdog had fired.
func (w *Watchdog) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	return w.fired
}

func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.stopped || w.fired {
		w.mu.Unlock()
		return
	}
	w.fired = true
	interrupts := append([]func(){}, w.interrupts...)
	w.mu.Unlock()

	if w.breaker != nil {
		_, _ = w.breaker.Write([]byte{conf.KeyBreak})
	}
	for _, interrupt := range interrupts {
		interrupt()
	}
}
