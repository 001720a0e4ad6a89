package portforward

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"rshell/pkg/slog"
	"rshell/pkg/sshtest"
	"rshell/pkg/transport"
)

// startEcho serves an upper-casing line echo on a random local port
func startEcho(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			c, aErr := l.Accept()
			if aErr != nil {
				return
			}
			go func() {
				defer func() { _ = c.Close() }()
				r := bufio.NewReader(c)
				for {
					line, rErr := r.ReadString('\n')
					if rErr != nil {
						return
					}
					if _, wErr := io.WriteString(c, strings.ToUpper(line)); wErr != nil {
						return
					}
				}
			}()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	srv, err := sshtest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	client, dErr := transport.Dial(srv.Options(), slog.NewLogger("test"))
	if dErr != nil {
		t.Fatalf("Dial: %v", dErr)
	}
	t.Cleanup(func() { _ = client.Close() })

	m := NewManager(slog.NewLogger("portforward"), func() (Conn, error) { return client, nil })
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func roundTrip(t *testing.T, port int, msg string) string {
	t.Helper()
	c, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial forward: %v", err)
	}
	defer func() { _ = c.Close() }()
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	if _, wErr := io.WriteString(c, msg+"\n"); wErr != nil {
		t.Fatalf("Write: %v", wErr)
	}
	line, rErr := bufio.NewReader(c).ReadString('\n')
	if rErr != nil {
		t.Fatalf("Read: %v", rErr)
	}
	return strings.TrimSuffix(line, "\n")
}

func TestLocalForward(t *testing.T) {
	echoPort := startEcho(t)
	m := newManager(t)

	port, err := m.Local(0, "127.0.0.1", echoPort)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	if port == 0 {
		t.Fatal("Expected a bound port")
	}
	if got := roundTrip(t, port, "ping"); got != "PING" {
		t.Errorf("Expected PING, got %q", got)
	}
	// a second connection reuses the listener
	if got := roundTrip(t, port, "again"); got != "AGAIN" {
		t.Errorf("Expected AGAIN, got %q", got)
	}
}

func TestRemoteForward(t *testing.T) {
	echoPort := startEcho(t)
	m := newManager(t)

	port, err := m.Remote(0, "127.0.0.1", echoPort)
	if err != nil {
		t.Fatalf("Remote: %v", err)
	}
	if port == 0 {
		t.Fatal("Expected the server to report the bound port")
	}
	if got := roundTrip(t, port, "reverse"); got != "REVERSE" {
		t.Errorf("Expected REVERSE, got %q", got)
	}
}

func TestListAndStop(t *testing.T) {
	echoPort := startEcho(t)
	m := newManager(t)

	lport, err := m.Local(0, "127.0.0.1", echoPort)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	rport, err := m.Remote(0, "127.0.0.1", echoPort)
	if err != nil {
		t.Fatalf("Remote: %v", err)
	}

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("Expected 2 mappings, got %v", list)
	}
	if list[0].Kind != KindLocal || list[0].Port != lport {
		t.Errorf("Unexpected first mapping %v", list[0])
	}
	if list[1].Kind != KindRemote || list[1].Port != rport {
		t.Errorf("Unexpected second mapping %v", list[1])
	}

	if sErr := m.Stop(lport); sErr != nil {
		t.Fatalf("Stop: %v", sErr)
	}
	if _, dErr := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(lport)), time.Second); dErr == nil {
		t.Error("Expected the stopped listener to refuse connections")
	}
	if sErr := m.Stop(lport); sErr == nil {
		t.Error("Expected an error stopping an unknown port")
	}
	if got := len(m.List()); got != 1 {
		t.Errorf("Expected 1 mapping left, got %d", got)
	}
}

func TestLocalForwardUnreachable(t *testing.T) {
	m := newManager(t)

	// nothing listens on the target, the client connection is dropped
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	port, lErr := m.Local(0, "127.0.0.1", dead)
	if lErr != nil {
		t.Fatalf("Local: %v", lErr)
	}
	c, dErr := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	if dErr != nil {
		t.Fatalf("Dial: %v", dErr)
	}
	defer func() { _ = c.Close() }()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, rErr := c.Read(make([]byte, 1)); rErr == nil {
		t.Error("Expected the connection to be closed")
	}
}
