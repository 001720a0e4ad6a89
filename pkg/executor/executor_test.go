package executor

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"rshell/pkg/options"
	"rshell/pkg/slog"
	"rshell/pkg/transport"
	"rshell/pkg/watchdog"
)

type mockChannel struct {
	stdout io.Reader
	stderr io.Reader
	status int
	// delays the exit status
	lag    time.Duration

	mu     sync.Mutex
	stdin  bytes.Buffer
	closed bool
	onEnd  func()
}

func (m *mockChannel) Read(p []byte) (int, error) { return m.stdout.Read(p) }
func (m *mockChannel) Stderr() io.Reader          { return m.stderr }
func (m *mockChannel) CloseWrite() error          { return nil }

func (m *mockChannel) Wait() (int, error) {
	time.Sleep(m.lag)
	return m.status, nil
}

func (m *mockChannel) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stdin.Write(p)
}

func (m *mockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed && m.onEnd != nil {
		m.onEnd()
	}
	m.closed = true
	return nil
}

func (m *mockChannel) written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte{}, m.stdin.Bytes()...)
}

type mockOpener struct {
	ch       *mockChannel
	commands []string
	err      error
}

func (o *mockOpener) Open(kind transport.Kind, command string) (transport.Channel, error) {
	if o.err != nil {
		return nil, o.err
	}
	if kind != transport.KindExec {
		return nil, errors.New("unexpected kind")
	}
	o.commands = append(o.commands, command)
	return o.ch, nil
}

func newExecutor(ch *mockChannel, timeout time.Duration) (*Executor, *mockOpener) {
	o := &mockOpener{ch: ch}
	opts := options.New(options.WithTimeout(timeout), options.WithCharset("UTF-8"))
	return New(o, opts, slog.NewLogger("executor")), o
}

func TestExecuteWithStatus(t *testing.T) {
	tests := []struct {
		name     string
		stdout   string
		stderr   string
		status   int
		wantOut  string
		wantCode int
	}{
		{name: "echo 42", stdout: "42\n", wantOut: "42"},
		{name: "false", status: 1, wantOut: "", wantCode: 1},
		{name: "Lines joined, CR dropped", stdout: "a\r\nb\r\nc", wantOut: "a\nb\nc"},
		{name: "Stderr kept apart", stdout: "out\n", stderr: "warn\n", status: 2, wantOut: "out", wantCode: 2},
		{name: "No status", stdout: "x\n", status: transport.NoExitStatus, wantOut: "x", wantCode: transport.NoExitStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &mockChannel{stdout: strings.NewReader(tt.stdout), stderr: strings.NewReader(tt.stderr), status: tt.status}
			e, o := newExecutor(ch, 0)

			out, code, err := e.ExecuteWithStatus(tt.name)
			if err != nil {
				t.Fatalf("ExecuteWithStatus() error = %v", err)
			}
			if out != tt.wantOut {
				t.Errorf("out = %q, want %q", out, tt.wantOut)
			}
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if !ch.closed {
				t.Error("channel not closed")
			}
			if len(o.commands) != 1 || o.commands[0] != tt.name {
				t.Errorf("commands = %v", o.commands)
			}
		})
	}
}

func TestRunEvents(t *testing.T) {
	ch := &mockChannel{stdout: strings.NewReader("one\ntwo\n"), stderr: strings.NewReader("err\n"), status: 3}
	e, _ := newExecutor(ch, time.Minute)

	var events []Event
	if err := e.Run("cmd", func(ev Event) { events = append(events, ev) }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var stdout []string
	terminals := 0
	for i, ev := range events {
		if ev.Terminal() {
			terminals++
			if i != len(events)-1 {
				t.Error("terminal event is not last")
			}
			if ev.Kind != EventEnd || ev.ExitCode != 3 {
				t.Errorf("terminal = %+v", ev)
			}
			continue
		}
		if ev.Stream == Stdout {
			stdout = append(stdout, ev.Text)
		} else if ev.Text != "err" {
			t.Errorf("stderr part = %q", ev.Text)
		}
	}
	if terminals != 1 {
		t.Errorf("got %d terminal events", terminals)
	}
	if strings.Join(stdout, ",") != "one,two" {
		t.Errorf("stdout parts = %v", stdout)
	}
}

func TestExecuteTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	ch := &mockChannel{
		stdout: pr,
		stderr: strings.NewReader(""),
		status: 0,
		onEnd:  func() { _ = pr.CloseWithError(io.ErrClosedPipe) },
	}
	e, _ := newExecutor(ch, 50*time.Millisecond)

	go func() { _, _ = pw.Write([]byte("partial line\nstuck")) }()

	start := time.Now()
	out, code, err := e.ExecuteWithStatus("sleep 100")
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not release the call")
	}

	var tErr *TimeoutError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
	if !errors.Is(err, watchdog.ErrTimeout) {
		t.Error("TimeoutError must wrap watchdog.ErrTimeout")
	}
	if !strings.HasPrefix(tErr.Stdout, "partial line") || out != tErr.Stdout {
		t.Errorf("partial output = %q, out = %q", tErr.Stdout, out)
	}
	if code != transport.NoExitStatus {
		t.Errorf("code = %d", code)
	}
	if !bytes.Equal(ch.written(), []byte{0x03}) {
		t.Errorf("channel received % x, want the break byte", ch.written())
	}
	if !ch.closed {
		t.Error("channel not released")
	}
}

func TestStatusBeforeTimeout(t *testing.T) {
	ch := &mockChannel{stdout: strings.NewReader("done\n"), stderr: strings.NewReader(""), status: 7, lag: 150 * time.Millisecond}
	e, _ := newExecutor(ch, 50*time.Millisecond)

	var terminal Event
	err := e.Run("make", func(ev Event) {
		if ev.Terminal() {
			terminal = ev
		}
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if terminal.Kind != EventEnd || terminal.ExitCode != 7 {
		t.Errorf("terminal = %+v, want the reported exit status", terminal)
	}
}

func TestStartInput(t *testing.T) {
	pr, pw := io.Pipe()
	ch := &mockChannel{stdout: pr, stderr: strings.NewReader("")}
	e, _ := newExecutor(ch, 0)

	var mu sync.Mutex
	var lines []string
	x, err := e.Start("cat", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Kind == EventPart {
			lines = append(lines, ev.Text)
		}
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err = x.GiveInputLine("hello"); err != nil {
		t.Fatalf("GiveInputLine() error = %v", err)
	}
	if string(ch.written()) != "hello\n" {
		t.Errorf("stdin = %q", ch.written())
	}

	_, _ = pw.Write([]byte("hello\n"))
	_ = pw.Close()
	if code, wErr := x.Wait(); wErr != nil || code != 0 {
		t.Errorf("Wait() = %d, %v", code, wErr)
	}
	_ = x.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 || lines[0] != "hello" {
		t.Errorf("lines = %q", lines)
	}
}

func TestOpenFailure(t *testing.T) {
	e, o := newExecutor(nil, 0)
	o.err = errors.New("no session")
	if _, err := e.Execute("true"); err == nil || !errors.Is(err, o.err) {
		t.Errorf("Execute() error = %v", err)
	}
}
