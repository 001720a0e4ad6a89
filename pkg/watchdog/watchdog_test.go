package watchdog

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte{}, s.buf.Bytes()...)
}

func TestWatchdogFires(t *testing.T) {
	breaker := &syncBuffer{}
	w := New(20*time.Millisecond, breaker)

	interrupted := make(chan struct{})
	var calls atomic.Int32
	w.Register(func() {
		if calls.Add(1) == 1 {
			close(interrupted)
		}
	})
	w.Start()

	select {
	case <-interrupted:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire")
	}
	if !w.Fired() {
		t.Error("Fired() = false after interrupt")
	}
	if got := breaker.Bytes(); !bytes.Equal(got, []byte{0x03}) {
		t.Errorf("breaker received % x, want 03", got)
	}
	if !w.Stop() {
		t.Error("Stop() must report the watchdog fired")
	}
	if calls.Load() != 1 {
		t.Errorf("interrupt called %d times", calls.Load())
	}
}

func TestWatchdogStopped(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
	}{
		{name: "Stopped before expiry", timeout: 50 * time.Millisecond},
		{name: "Disabled", timeout: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := &syncBuffer{}
			w := New(tt.timeout, breaker)
			var called atomic.Bool
			w.Register(func() { called.Store(true) })
			w.Start()
			if w.Stop() {
				t.Error("Stop() reported a fire")
			}
			time.Sleep(100 * time.Millisecond)
			if called.Load() || w.Fired() || len(breaker.Bytes()) != 0 {
				t.Error("stopped watchdog fired")
			}
		})
	}
}
