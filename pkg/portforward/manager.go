// Package portforward runs local and remote TCP forwards over the SSH
// connection of a session.
package portforward

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"rshell/pkg/conf"
	"rshell/pkg/sconn"
	"rshell/pkg/sio"
	"rshell/pkg/slog"
	"rshell/pkg/types"

	"golang.org/x/crypto/ssh"
)

// Conn is what forwarding needs from an SSH connection
type Conn interface {
	OpenChannel(name string, payload []byte) (ssh.Channel, <-chan *ssh.Request, error)
	Listen(network, addr string) (net.Listener, error)
}

// ConnFunc returns the current connection. It is called for every forwarded
// connection so a rebuilt session is picked up.
type ConnFunc func() (Conn, error)

type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Mapping describes one running forward
type Mapping struct {
	Kind   Kind
	Port   int
	Target string
}

func (m Mapping) String() string {
	if m.Kind == KindLocal {
		return fmt.Sprintf("L %d -> %s", m.Port, m.Target)
	}
	return fmt.Sprintf("R %d -> %s", m.Port, m.Target)
}

type forward struct {
	Mapping
	listener net.Listener
}

// Manager handles port forwarding operations, both local and remote
type Manager struct {
	logger *slog.Logger
	conn   ConnFunc

	mutex   sync.Mutex
	locals  map[int]*forward
	remotes map[int]*forward
	wg      sync.WaitGroup
}

func NewManager(logger *slog.Logger, conn ConnFunc) *Manager {
	return &Manager{
		logger:  logger,
		conn:    conn,
		locals:  make(map[int]*forward),
		remotes: make(map[int]*forward),
	}
}

// Local listens on 127.0.0.1:lport and forwards every connection to
// host:hport from the remote side. A zero lport picks a free port, the
// bound port is returned.
func (m *Manager) Local(lport int, host string, hport int) (int, error) {
	listener, lErr := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(lport)))
	if lErr != nil {
		return 0, fmt.Errorf("failed to listen on port %d: %w", lport, lErr)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	fwd := &forward{
		Mapping: Mapping{
			Kind:   KindLocal,
			Port:   port,
			Target: net.JoinHostPort(host, strconv.Itoa(hport)),
		},
		listener: listener,
	}

	m.mutex.Lock()
	m.locals[port] = fwd
	m.mutex.Unlock()

	m.logger.DebugWith("Endpoint listening",
		slog.F("channel_type", conf.SSHChannelDirectTCPIP),
		slog.F("src_port", port),
		slog.F("dst_host", host),
		slog.F("dst_port", hport))

	m.wg.Add(1)
	go m.serve(fwd, func(c net.Conn) {
		m.handleLocal(c, host, hport)
	})
	return port, nil
}

func (m *Manager) handleLocal(c net.Conn, host string, hport int) {
	defer func() { _ = c.Close() }()

	conn, cErr := m.conn()
	if cErr != nil {
		m.logger.ErrorWith("Failed to get connection",
			slog.F("dst_host", host),
			slog.F("dst_port", hport),
			slog.F("err", cErr))
		return
	}
	remote, dErr := DialChannel(conn, host, hport, c.RemoteAddr())
	if dErr != nil {
		m.logger.ErrorWith("Failed to open channel",
			slog.F("channel_type", conf.SSHChannelDirectTCPIP),
			slog.F("err", dErr))
		return
	}
	trx, rcv := sio.PipeWithCancel(c, remote)
	m.logger.DebugWith("Completed direct-tcpip channel",
		slog.F("dst_host", host),
		slog.F("dst_port", hport),
		slog.F("bytes_sent", trx),
		slog.F("bytes_received", rcv))
}

// DialChannel opens a direct-tcpip channel to host:port and returns it as a
// net.Conn. origin is reported to the server as the originator address.
func DialChannel(conn Conn, host string, port int, origin net.Addr) (net.Conn, error) {
	msg := &types.TcpIpChannelMsg{
		DstHost: host,
		DstPort: uint32(port),
		SrcHost: "127.0.0.1",
	}
	if tcp, ok := origin.(*net.TCPAddr); ok {
		msg.SrcHost = tcp.IP.String()
		msg.SrcPort = uint32(tcp.Port)
	}
	ch, reqs, oErr := conn.OpenChannel(conf.SSHChannelDirectTCPIP, ssh.Marshal(msg))
	if oErr != nil {
		return nil, fmt.Errorf("failed to open %q channel to %s: %w",
			conf.SSHChannelDirectTCPIP, net.JoinHostPort(host, strconv.Itoa(port)), oErr)
	}
	go ssh.DiscardRequests(reqs)

	dst := &net.TCPAddr{IP: net.ParseIP(host), Port: port}
	return sconn.SSHChannelToNetConn(ch, origin, dst), nil
}

// Remote asks the server to listen on rport and forwards every connection
// it accepts to lhost:lport from this side. A zero rport lets the server
// pick the port, the bound port is returned.
func (m *Manager) Remote(rport int, lhost string, lport int) (int, error) {
	conn, cErr := m.conn()
	if cErr != nil {
		return 0, cErr
	}
	listener, lErr := conn.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(rport)))
	if lErr != nil {
		return 0, fmt.Errorf("failed to send %q request: %w", conf.SSHRequestTcpIpForward, lErr)
	}
	port := rport
	if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	target := net.JoinHostPort(lhost, strconv.Itoa(lport))
	fwd := &forward{
		Mapping: Mapping{
			Kind:   KindRemote,
			Port:   port,
			Target: target,
		},
		listener: listener,
	}

	m.mutex.Lock()
	m.remotes[port] = fwd
	m.mutex.Unlock()

	m.logger.DebugWith("Remote endpoint listening",
		slog.F("request_channel", conf.SSHRequestTcpIpForward),
		slog.F("fwd_port", port),
		slog.F("dst", target))

	m.wg.Add(1)
	go m.serve(fwd, func(c net.Conn) {
		m.handleRemote(c, target)
	})
	return port, nil
}

func (m *Manager) handleRemote(c net.Conn, target string) {
	defer func() { _ = c.Close() }()

	local, dErr := net.DialTimeout("tcp", target, conf.Timeout)
	if dErr != nil {
		m.logger.ErrorWith("Failed to connect to host",
			slog.F("dst", target),
			slog.F("err", dErr))
		return
	}
	trx, rcv := sio.PipeWithCancel(local, c)
	m.logger.DebugWith("Completed forwarded-tcpip channel",
		slog.F("dst", target),
		slog.F("bytes_sent", trx),
		slog.F("bytes_received", rcv))
}

func (m *Manager) serve(fwd *forward, handle func(net.Conn)) {
	defer m.wg.Done()
	for {
		c, aErr := fwd.listener.Accept()
		if aErr != nil {
			m.logger.DebugWith("Endpoint listener stopped",
				slog.F("kind", fwd.Kind),
				slog.F("port", fwd.Port))
			return
		}
		go handle(c)
	}
}

// Stop closes the forward listening on port, local forwards are looked up
// first. Closing a remote listener cancels the forward on the server.
func (m *Manager) Stop(port int) error {
	m.mutex.Lock()
	fwd, ok := m.locals[port]
	if ok {
		delete(m.locals, port)
	} else if fwd, ok = m.remotes[port]; ok {
		delete(m.remotes, port)
	}
	m.mutex.Unlock()

	if !ok {
		return fmt.Errorf("port %d not found", port)
	}
	if cErr := fwd.listener.Close(); cErr != nil {
		return fmt.Errorf("failed to stop forward on port %d: %w", port, cErr)
	}
	m.logger.DebugWith("Stopped forward",
		slog.F("kind", fwd.Kind),
		slog.F("port", port))
	return nil
}

// List returns the running forwards, local first, ordered by port
func (m *Manager) List() []Mapping {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	list := make([]Mapping, 0, len(m.locals)+len(m.remotes))
	for _, f := range m.locals {
		list = append(list, f.Mapping)
	}
	for _, f := range m.remotes {
		list = append(list, f.Mapping)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Kind != list[j].Kind {
			return list[i].Kind == KindLocal
		}
		return list[i].Port < list[j].Port
	})
	return list
}

// Close stops every forward and waits for the listeners to return
func (m *Manager) Close() error {
	for _, mapping := range m.List() {
		if sErr := m.Stop(mapping.Port); sErr != nil {
			m.logger.DebugWith("Failed to stop forward",
				slog.F("port", mapping.Port),
				slog.F("err", sErr))
		}
	}
	m.wg.Wait()
	return nil
}
