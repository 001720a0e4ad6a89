// Package localpty runs the exec and shell channel kinds against the local
// machine, which lets every engine work without an SSH server.
package localpty

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"rshell/pkg/conf"
	"rshell/pkg/slog"
	"rshell/pkg/transport"
)

var ErrClosed = errors.New("local opener is closed")

// Opener starts local processes. SFTP is not available locally.
type Opener struct {
	Shell    string
	ExecArgs []string
	logger   *slog.Logger
	closed   atomic.Bool
}

// New finds a usable shell on this system
func New(logger *slog.Logger) (*Opener, error) {
	shell, execArgs := findShell()
	if shell == "" {
		return nil, errors.New("can not find a suitable local shell")
	}
	return &Opener{Shell: shell, ExecArgs: execArgs, logger: logger}, nil
}

func (o *Opener) Open(kind transport.Kind, command string) (transport.Channel, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	switch kind {
	case transport.KindExec:
		args := append(append([]string{}, o.ExecArgs...), command)
		return startExec(exec.Command(o.Shell, args...)) //nolint:gosec
	case transport.KindShell:
		o.logger.DebugWith("Starting local shell on PTY", slog.F("shell", o.Shell))
		return startPty(o.Shell, conf.DefaultTerminalWidth, conf.DefaultTerminalHeight)
	default:
		return nil, fmt.Errorf("local %w: %q", transport.ErrUnsupportedKind, kind)
	}
}

// SendRequest answers keepalives, a local opener is alive until closed
func (o *Opener) SendRequest(name string, _ bool, _ []byte) (bool, []byte, error) {
	if o.closed.Load() {
		return false, nil, ErrClosed
	}
	return name == conf.SSHRequestKeepAlive, nil, nil
}

func (o *Opener) Close() error {
	o.closed.Store(true)
	return nil
}

// execChannel runs a command with separate pipes
type execChannel struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.Reader
	stderr   io.Reader
	waitOnce sync.Once
	status   int
	waitErr  error
}

func startExec(cmd *exec.Cmd) (*execChannel, error) {
	stdin, iErr := cmd.StdinPipe()
	if iErr != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", iErr)
	}
	stdout, oErr := cmd.StdoutPipe()
	if oErr != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", oErr)
	}
	stderr, eErr := cmd.StderrPipe()
	if eErr != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", eErr)
	}
	if sErr := cmd.Start(); sErr != nil {
		return nil, fmt.Errorf("failed to start command: %w", sErr)
	}
	return &execChannel{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		status: transport.NoExitStatus,
	}, nil
}

func (e *execChannel) Read(p []byte) (int, error)  { return e.stdout.Read(p) }
func (e *execChannel) Write(p []byte) (int, error) { return e.stdin.Write(p) }
func (e *execChannel) Stderr() io.Reader           { return e.stderr }
func (e *execChannel) CloseWrite() error           { return e.stdin.Close() }

func (e *execChannel) Wait() (int, error) {
	e.waitOnce.Do(func() {
		e.status, e.waitErr = exitStatus(e.cmd.Wait())
	})
	return e.status, e.waitErr
}

func (e *execChannel) Close() error {
	_ = e.stdin.Close()
	// Kill reports os.ErrProcessDone once the process was reaped
	_ = e.cmd.Process.Kill()
	_, _ = e.Wait()
	return nil
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		return transport.NoExitStatus, nil
	}
	return transport.NoExitStatus, err
}
