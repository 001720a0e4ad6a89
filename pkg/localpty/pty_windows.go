//go:build windows

package localpty

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"rshell/pkg/conf"
	"rshell/pkg/transport"

	"github.com/UserExistsError/conpty"
)

const cmdPrompt = "Windows\\system32\\cmd.exe"

var cmdArgs = []string{"/C"}

func findShell() (string, []string) {
	systemDrive := os.Getenv("SYSTEMDRIVE")
	if systemDrive == "" {
		systemDrive = "C:"
	}
	return fmt.Sprintf("%s\\%s", systemDrive, cmdPrompt), cmdArgs
}

type conPtyChannel struct {
	cpty     *conpty.ConPty
	waitOnce sync.Once
	status   int
	waitErr  error
}

func startPty(shell string, cols, rows uint16) (transport.Channel, error) {
	cpty, err := conpty.Start(
		shell,
		conpty.ConPtyDimensions(int(cols), int(rows)),
		conpty.ConPtyEnv(append(os.Environ(), "TERM="+conf.DefaultTerminalType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start conpty: %w", err)
	}
	return &conPtyChannel{cpty: cpty, status: transport.NoExitStatus}, nil
}

func (c *conPtyChannel) Read(b []byte) (int, error)  { return c.cpty.Read(b) }
func (c *conPtyChannel) Write(b []byte) (int, error) { return c.cpty.Write(b) }
func (c *conPtyChannel) Stderr() io.Reader           { return strings.NewReader("") }

func (c *conPtyChannel) CloseWrite() error {
	_, err := c.cpty.Write([]byte{conf.KeyEOT})
	return err
}

func (c *conPtyChannel) Wait() (int, error) {
	c.waitOnce.Do(func() {
		code, err := c.cpty.Wait(context.Background())
		if err != nil {
			c.waitErr = err
			return
		}
		c.status = int(code)
	})
	return c.status, c.waitErr
}

func (c *conPtyChannel) Close() error {
	return c.cpty.Close()
}
