//go:build !windows

package localpty

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"syscall"

	"rshell/pkg/conf"
	"rshell/pkg/transport"

	"github.com/creack/pty"
)

var (
	safeShells = []string{
		"/bin/sh",
	}
	extShells = []string{
		"/bin/bash",
		"/bin/zsh",
		"/bin/ksh",
	}
	cmdArgs = []string{"-c"}
)

// findShell prefers $SHELL, then the first existing known shell
func findShell() (string, []string) {
	if sh := os.Getenv("SHELL"); sh != "" && !strings.Contains(sh, "fish") {
		if _, err := os.Stat(sh); err == nil {
			return sh, cmdArgs
		}
	}
	for _, sh := range slices.Concat(safeShells, extShells) {
		if _, err := os.Stat(sh); !os.IsNotExist(err) {
			return sh, cmdArgs
		}
	}
	return "", nil
}

type ptyChannel struct {
	file     *os.File
	cmd      *exec.Cmd
	waitOnce sync.Once
	status   int
	waitErr  error
}

func startPty(shell string, cols, rows uint16) (transport.Channel, error) {
	cmd := exec.Command(shell) //nolint:gosec
	cmd.Env = append(os.Environ(), "TERM="+conf.DefaultTerminalType)
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}
	return &ptyChannel{file: f, cmd: cmd, status: transport.NoExitStatus}, nil
}

// Read maps the EIO a closed PTY returns on Linux to EOF
func (p *ptyChannel) Read(b []byte) (int, error) {
	n, err := p.file.Read(b)
	if err != nil && (errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)) {
		return n, io.EOF
	}
	return n, err
}

func (p *ptyChannel) Write(b []byte) (int, error) { return p.file.Write(b) }

// Stderr is merged into the terminal output
func (p *ptyChannel) Stderr() io.Reader { return strings.NewReader("") }

func (p *ptyChannel) CloseWrite() error {
	_, err := p.file.Write([]byte{conf.KeyEOT})
	return err
}

func (p *ptyChannel) Wait() (int, error) {
	p.waitOnce.Do(func() {
		p.status, p.waitErr = exitStatus(p.cmd.Wait())
	})
	return p.status, p.waitErr
}

func (p *ptyChannel) Close() error {
	err := p.file.Close()
	// Kill reports os.ErrProcessDone once the process was reaped
	_ = p.cmd.Process.Kill()
	_, _ = p.Wait()
	return err
}
