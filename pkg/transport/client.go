package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"rshell/pkg/conf"
	"rshell/pkg/options"
	"rshell/pkg/slog"

	"golang.org/x/crypto/ssh"
)

// Client is an authenticated SSH connection
type Client struct {
	*ssh.Client
	opts      *options.Options
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

func newClient(c *ssh.Client, opts *options.Options, logger *slog.Logger) *Client {
	cl := &Client{
		Client: c,
		opts:   opts,
		logger: logger,
		done:   make(chan struct{}),
	}
	go cl.keepalive()
	return cl
}

// Open starts a session channel of the requested kind. Shells always get a
// dumb PTY, exec channels only when ExecWithPty is set.
func (c *Client) Open(kind Kind, command string) (Channel, error) {
	sess, sErr := c.NewSession()
	if sErr != nil {
		return nil, fmt.Errorf("failed to open session channel: %w", sErr)
	}

	ch, pErr := newSessionChannel(sess)
	if pErr != nil {
		_ = sess.Close()
		return nil, pErr
	}

	var err error
	switch kind {
	case KindExec:
		if c.opts.ExecWithPty {
			err = requestPty(sess)
		}
		if err == nil {
			err = sess.Start(command)
		}
	case KindShell:
		if err = requestPty(sess); err == nil {
			err = sess.Shell()
		}
	case KindSFTP:
		err = sess.RequestSubsystem(conf.SSHSubsystemSFTP)
	default:
		err = unsupported(kind)
	}
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("failed to start %s channel: %w", kind, err)
	}

	c.logger.DebugWith("Channel opened",
		slog.F("kind", kind),
		slog.F("host", c.opts.Address()),
		slog.F("command", command))
	return ch, nil
}

func requestPty(sess *ssh.Session) error {
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	return sess.RequestPty(conf.DefaultTerminalType, conf.DefaultTerminalHeight, conf.DefaultTerminalWidth, modes)
}

// Ping sends a keepalive global request
func (c *Client) Ping() error {
	_, _, err := c.SendRequest(conf.SSHRequestKeepAlive, true, nil)
	return err
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.Client.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

// keepalive closes the connection after ServerAliveCountMax unanswered probes
func (c *Client) keepalive() {
	interval := sessionDuration(c.opts, conf.SSHConfigServerAliveInterval, conf.Keepalive)
	maxMissed := sessionInt(c.opts, conf.SSHConfigServerAliveCountMax, conf.KeepaliveCountMax)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				missed++
				c.logger.DebugWith("Keepalive failed",
					slog.F("host", c.opts.Address()),
					slog.F("missed", missed),
					slog.F("err", err))
				if missed >= maxMissed {
					c.logger.WarnWith("Server stopped answering keepalives, closing connection",
						slog.F("host", c.opts.Address()))
					_ = c.Close()
					return
				}
				continue
			}
			missed = 0
		}
	}
}

// sessionChannel adapts an ssh.Session to Channel
type sessionChannel struct {
	sess     *ssh.Session
	stdin    io.WriteCloser
	stdout   io.Reader
	stderr   io.Reader
	waitOnce sync.Once
	status   int
	waitErr  error
}

func newSessionChannel(sess *ssh.Session) (*sessionChannel, error) {
	stdin, iErr := sess.StdinPipe()
	if iErr != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", iErr)
	}
	stdout, oErr := sess.StdoutPipe()
	if oErr != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", oErr)
	}
	stderr, eErr := sess.StderrPipe()
	if eErr != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", eErr)
	}
	return &sessionChannel{
		sess:   sess,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		status: NoExitStatus,
	}, nil
}

func (s *sessionChannel) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sessionChannel) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sessionChannel) Stderr() io.Reader {
	return s.stderr
}

func (s *sessionChannel) CloseWrite() error {
	return s.stdin.Close()
}

func (s *sessionChannel) Wait() (int, error) {
	s.waitOnce.Do(func() {
		err := s.sess.Wait()
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case err == nil:
			s.status = 0
		case errors.As(err, &exitErr):
			s.status = exitErr.ExitStatus()
		case errors.As(err, &missingErr):
			s.status = NoExitStatus
		default:
			s.waitErr = err
		}
	})
	return s.status, s.waitErr
}

func (s *sessionChannel) Close() error {
	err := s.sess.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
