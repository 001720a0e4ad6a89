// Package socks serves a local SOCKS5 proxy whose connections leave from
// the remote side of an SSH session.
package socks

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"rshell/pkg/portforward"
	"rshell/pkg/slog"

	"github.com/armon/go-socks5"
)

// remoteResolver leaves names unresolved so the server side looks them up
type remoteResolver struct{}

func (remoteResolver) Resolve(ctx context.Context, _ string) (context.Context, net.IP, error) {
	return ctx, nil, nil
}

// Server is a SOCKS5 server dialing through an SSH connection
type Server struct {
	listener net.Listener
	port     int
	server   *socks5.Server
	conn     portforward.ConnFunc
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewServer listens on port, 0 picking a free one. The listener binds to
// all interfaces when expose is set and to loopback otherwise.
func NewServer(port int, expose bool, conn portforward.ConnFunc, logger *slog.Logger) (*Server, error) {
	addr := "127.0.0.1"
	if expose {
		addr = "0.0.0.0"
	}

	s := &Server{
		conn:   conn,
		logger: logger,
	}
	server, err := socks5.New(&socks5.Config{
		Logger:   slog.NewDummyLog(),
		Resolver: remoteResolver{},
		Dial:     s.dial,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 server: %w", err)
	}
	s.server = server

	listener, lErr := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if lErr != nil {
		return nil, fmt.Errorf("failed to create listener: %w", lErr)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	return s, nil
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) dial(_ context.Context, _, addr string) (net.Conn, error) {
	host, portStr, sErr := net.SplitHostPort(addr)
	if sErr != nil {
		return nil, sErr
	}
	port, pErr := strconv.Atoi(portStr)
	if pErr != nil {
		return nil, fmt.Errorf("invalid port in %q: %w", addr, pErr)
	}
	conn, cErr := s.conn()
	if cErr != nil {
		return nil, cErr
	}
	s.logger.DebugWith("SOCKS5 dial",
		slog.F("dst_host", host),
		slog.F("dst_port", port))
	// the reply to the client carries LocalAddr, which must be a TCP address
	return portforward.DialChannel(conn, host, port, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
}

// Serve accepts and serves SOCKS5 connections until Close
func (s *Server) Serve() {
	defer func() {
		s.wg.Wait()
		s.logger.InfoWith("Local SOCKS server stopped")
	}()

	s.logger.InfoWith("Local SOCKS server listening", slog.F("port", s.port))

	for {
		conn, aErr := s.listener.Accept()
		if aErr != nil {
			return
		}
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { _ = c.Close() }()
			s.logger.DebugWith("Serving SOCKS5 connection",
				slog.F("remote", c.RemoteAddr()))
			if sErr := s.server.ServeConn(c); sErr != nil {
				s.logger.DebugWith("SOCKS5 connection error",
					slog.F("err", sErr))
			}
		}(conn)
	}
}

// Close stops accepting, connections in flight run to completion
func (s *Server) Close() error {
	return s.listener.Close()
}
