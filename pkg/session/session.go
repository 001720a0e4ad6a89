// Package session owns the connection shared by every engine of a remote
// handle. The connection is built on first use, probed before reuse and
// rebuilt once when the probe fails.
package session

import (
	"sync"
	"sync/atomic"

	"rshell/pkg/conf"
	"rshell/pkg/options"
	"rshell/pkg/slog"
	"rshell/pkg/transport"
)

// Conn is what a session needs from a connection
type Conn interface {
	transport.Opener
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Close() error
}

// Dialer builds a connection from options
type Dialer func(opts *options.Options, logger *slog.Logger) (Conn, error)

// DialSSH is the default Dialer
func DialSSH(opts *options.Options, logger *slog.Logger) (Conn, error) {
	c, err := transport.Dial(opts, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type Session struct {
	opts   *options.Options
	logger *slog.Logger
	dial   Dialer

	mu     sync.Mutex
	conn   Conn
	builds int
	closed bool

	fallback atomic.Bool
}

type Option func(*Session)

// WithDialer replaces the SSH dialer
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dial = d }
}

func New(opts *options.Options, logger *slog.Logger, sessOpts ...Option) *Session {
	s := &Session{
		opts:   opts,
		logger: logger,
		dial:   DialSSH,
	}
	for _, o := range sessOpts {
		o(s)
	}
	return s
}

func (s *Session) Options() *options.Options {
	return s.opts
}

// Open returns a new channel on a healthy connection
func (s *Session) Open(kind transport.Kind, command string) (transport.Channel, error) {
	conn, err := s.Conn()
	if err != nil {
		return nil, err
	}
	return conn.Open(kind, command)
}

// Conn connects on first call, later calls probe the existing connection
func (s *Session) Conn() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(); err != nil {
		return nil, err
	}
	return s.conn, nil
}

// Probe validates the connection, rebuilding it once when it does not answer
func (s *Session) Probe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked()
}

func (s *Session) ensureLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.conn == nil {
		return s.buildLocked()
	}

	pErr := probe(s.conn)
	if pErr == nil {
		return nil
	}
	s.logger.WarnWith("Session probe failed, rebuilding",
		slog.F("host", s.opts.String()),
		slog.F("err", pErr))
	_ = s.conn.Close()
	s.conn = nil
	return s.buildLocked()
}

func (s *Session) buildLocked() error {
	conn, err := s.dial(s.opts, s.logger)
	if err != nil {
		return &ConnectError{Host: s.opts.Address(), Err: err}
	}
	s.conn = conn
	s.builds++
	s.logger.DebugWith("Session built",
		slog.F("host", s.opts.String()),
		slog.F("builds", s.builds))
	return nil
}

func probe(conn Conn) error {
	if _, _, err := conn.SendRequest(conf.SSHRequestKeepAlive, true, nil); err != nil {
		return &ProbeError{Err: err}
	}
	ch, oErr := conn.Open(transport.KindExec, "true")
	if oErr != nil {
		return &ProbeError{Err: oErr}
	}
	defer func() { _ = ch.Close() }()
	if _, wErr := ch.Wait(); wErr != nil {
		return &ProbeError{Err: wErr}
	}
	return nil
}

// Builds returns how many times the connection was built
func (s *Session) Builds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builds
}

// Fallback reports whether transfers on this session skip the copy protocol
func (s *Session) Fallback() bool {
	return s.fallback.Load()
}

func (s *Session) MarkFallback() {
	if !s.fallback.Swap(true) {
		s.logger.InfoWith("Copy protocol unavailable, using SFTP from now on", slog.F("host", s.opts.String()))
	}
}

// Close disconnects, calling it again is a no-op
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
