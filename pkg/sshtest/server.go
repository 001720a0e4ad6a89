// Package sshtest runs an in-process SSH server for tests. It serves exec
// commands, a prompt echoing shell, scp sink and source over an in-memory
// file map, an SFTP subsystem, and TCP forwarding.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rshell/pkg/conf"
	"rshell/pkg/options"
	"rshell/pkg/sio"
	"rshell/pkg/slog"
	"rshell/pkg/types"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Command is a scripted exec command, it returns the exit status
type Command func(stdin io.Reader, stdout, stderr io.Writer) int

type Server struct {
	// Files backs scp, SFTP has its own in-memory tree
	Files    *Files
	User     string
	Password string

	hostKey  ssh.Signer
	listener net.Listener
	logger   *slog.Logger
	sftp     sftp.Handlers
	wg       sync.WaitGroup

	mu       sync.Mutex
	commands map[string]Command
	conns    []net.Conn
	noSCP    bool

	keepalives atomic.Int32
	sessions   atomic.Int32
}

// NewServer listens on a random local port and serves until Close.
// Any user is accepted with Password or with any public key.
func NewServer() (*Server, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		Files:    NewFiles(),
		User:     "tester",
		Password: "secret",
		hostKey:  signer,
		listener: l,
		logger:   slog.NewLogger("sshtest"),
		sftp:     sftp.InMemHandler(),
		commands: map[string]Command{},
	}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) HostKey() ssh.PublicKey {
	return s.hostKey.PublicKey()
}

// Options targets the server with password authentication only, extra
// options are applied last
func (s *Server) Options(extra ...options.Option) *options.Options {
	opts := []options.Option{
		options.WithHost("127.0.0.1", s.Port()),
		options.WithUsername(s.User),
		options.WithPassword(s.Password),
		options.WithIdentities(),
		options.WithTimeout(5 * time.Second),
		options.WithRetry(0, 0),
	}
	return options.New(append(opts, extra...)...)
}

// Handle scripts cmd, matched exactly
func (s *Server) Handle(cmd string, c Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[cmd] = c
}

// DisableSCP makes scp behave as a missing program
func (s *Server) DisableSCP() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noSCP = true
}

// Keepalives counts the keepalive global requests received
func (s *Server) Keepalives() int {
	return int(s.keepalives.Load())
}

// Sessions counts the session channels opened
func (s *Server) Sessions() int {
	return int(s.sessions.Load())
}

// DropConnections closes every client connection, the listener stays up
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) Close() error {
	err := s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
	return err
}

func (s *Server) config() *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == s.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(s.hostKey)
	return cfg
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config())
	if err != nil {
		s.logger.DebugWith("Handshake failed", slog.F("err", err))
		return
	}
	defer func() { _ = sshConn.Close() }()
	go s.globalRequests(sshConn, reqs)

	for nc := range chans {
		switch nc.ChannelType() {
		case conf.SSHChannelSession:
			s.sessions.Add(1)
			go s.session(nc)
		case conf.SSHChannelDirectTCPIP:
			go s.directTCPIP(nc)
		default:
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

func (s *Server) globalRequests(conn *ssh.ServerConn, reqs <-chan *ssh.Request) {
	forwards := map[uint32]net.Listener{}
	defer func() {
		for _, l := range forwards {
			_ = l.Close()
		}
	}()
	for req := range reqs {
		switch req.Type {
		case conf.SSHRequestKeepAlive:
			s.keepalives.Add(1)
			_ = req.Reply(true, nil)
		case conf.SSHRequestTcpIpForward:
			var fwd types.TcpIpFwdRequest
			if err := ssh.Unmarshal(req.Payload, &fwd); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(fwd.BindPort))))
			if err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			port := uint32(l.Addr().(*net.TCPAddr).Port)
			forwards[port] = l
			_ = req.Reply(true, ssh.Marshal(types.TcpIpReqSuccess{BoundPort: port}))
			go s.forwardListener(conn, l, fwd.BindAddress, port)
		case conf.SSHRequestCancelTcpIpForward:
			var fwd types.TcpIpFwdRequest
			_ = ssh.Unmarshal(req.Payload, &fwd)
			if l, ok := forwards[fwd.BindPort]; ok {
				_ = l.Close()
				delete(forwards, fwd.BindPort)
			}
			_ = req.Reply(true, nil)
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) forwardListener(conn *ssh.ServerConn, l net.Listener, bindAddr string, port uint32) {
	for {
		c, err := l.Accept()
		if err != nil {
			return
		}
		go func() {
			defer func() { _ = c.Close() }()
			origin := c.RemoteAddr().(*net.TCPAddr)
			payload := ssh.Marshal(types.TcpIpChannelMsg{
				DstHost: bindAddr,
				DstPort: port,
				SrcHost: origin.IP.String(),
				SrcPort: uint32(origin.Port),
			})
			ch, reqs, err := conn.OpenChannel(conf.SSHChannelForwardedTCPIP, payload)
			if err != nil {
				return
			}
			go ssh.DiscardRequests(reqs)
			_, _ = sio.PipeWithCancel(c, ch)
			_ = ch.Close()
		}()
	}
}

func (s *Server) directTCPIP(nc ssh.NewChannel) {
	var msg types.TcpIpChannelMsg
	if err := ssh.Unmarshal(nc.ExtraData(), &msg); err != nil {
		_ = nc.Reject(ssh.ConnectionFailed, "bad payload")
		return
	}
	target, err := net.Dial("tcp", net.JoinHostPort(msg.DstHost, strconv.Itoa(int(msg.DstPort))))
	if err != nil {
		_ = nc.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	defer func() { _ = target.Close() }()
	ch, reqs, err := nc.Accept()
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	_, _ = sio.PipeWithCancel(target, ch)
	_ = ch.Close()
}

func (s *Server) session(nc ssh.NewChannel) {
	ch, reqs, err := nc.Accept()
	if err != nil {
		return
	}
	started := false
	for req := range reqs {
		ok := true
		switch req.Type {
		case conf.SSHRequestPTY, conf.SSHRequestEnv, conf.SSHRequestWindowChange:
		case conf.SSHRequestExec:
			var exec types.ExecRequest
			if ok = ssh.Unmarshal(req.Payload, &exec) == nil && !started; ok {
				started = true
				go s.finish(ch, func() int { return s.exec(exec.Command, ch, ch, ch.Stderr()) })
			}
		case conf.SSHRequestShell:
			if ok = !started; ok {
				started = true
				go s.finish(ch, func() int { return s.shell(ch) })
			}
		case conf.SSHRequestSubsystem:
			var sub types.SubsystemRequest
			if ok = ssh.Unmarshal(req.Payload, &sub) == nil && sub.Name == "sftp" && !started; ok {
				started = true
				go func() {
					srv := sftp.NewRequestServer(ch, s.sftp)
					_ = srv.Serve()
					_ = srv.Close()
					_ = ch.Close()
				}()
			}
		default:
			ok = false
		}
		if req.WantReply {
			_ = req.Reply(ok, nil)
		}
	}
}

func (s *Server) finish(ch ssh.Channel, run func() int) {
	code := run()
	_ = ch.CloseWrite()
	_, _ = ch.SendRequest(conf.SSHRequestExitStatus, false, ssh.Marshal(types.ExitStatus{Status: uint32(code)}))
	_ = ch.Close()
}

// exec runs one command line
func (s *Server) exec(cmd string, stdin io.Reader, stdout, stderr io.Writer) int {
	s.mu.Lock()
	scripted, ok := s.commands[cmd]
	noSCP := s.noSCP
	s.mu.Unlock()
	if ok {
		return scripted(stdin, stdout, stderr)
	}

	name, args, _ := strings.Cut(cmd, " ")
	switch name {
	case "true":
		return 0
	case "false":
		return 1
	case "echo":
		_, _ = fmt.Fprintln(stdout, unquote(args))
		return 0
	case "cat":
		_, _ = io.Copy(stdout, stdin)
		return 0
	case "sleep":
		// blocks until the client gives up
		_, _ = io.Copy(io.Discard, stdin)
		return 130
	case "scp":
		if noSCP {
			break
		}
		return ServeScp(s.Files, cmd, stdin, stdout)
	}
	_, _ = fmt.Fprintf(stderr, "sh: 1: %s: not found\n", name)
	return 127
}
