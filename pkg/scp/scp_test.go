package scp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"rshell/pkg/options"
	"rshell/pkg/slog"
	"rshell/pkg/sshtest"
	"rshell/pkg/transport"
)

type remoteFunc = sshtest.Program

type recordingOpener struct {
	mu    sync.Mutex
	cmds  []string
	serve func(cmd string) remoteFunc
}

func (o *recordingOpener) Open(kind transport.Kind, cmd string) (transport.Channel, error) {
	if kind != transport.KindExec {
		return nil, transport.ErrUnsupportedKind
	}
	o.mu.Lock()
	o.cmds = append(o.cmds, cmd)
	o.mu.Unlock()
	return sshtest.Exec(o.serve(cmd)), nil
}

func filesOpener(files *sshtest.Files) *recordingOpener {
	return &recordingOpener{serve: func(cmd string) remoteFunc {
		return func(in io.Reader, out io.Writer) int { return sshtest.ServeScp(files, cmd, in, out) }
	}}
}

func fixedOpener(serve remoteFunc) *recordingOpener {
	return &recordingOpener{serve: func(string) remoteFunc { return serve }}
}

func newClient(o transport.Opener) *Client {
	return New(o, options.New(options.WithCharset("UTF-8")), slog.NewLogger("scp"))
}

func TestPushPull(t *testing.T) {
	files := sshtest.NewFiles()
	o := filesOpener(files)
	c := newClient(o)

	if err := c.Put("héllo", "/tmp/a.txt"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if o.cmds[0] != "scp -t /tmp" {
		t.Errorf("push command = %q", o.cmds[0])
	}
	if data, ok := files.Get("/tmp/a.txt"); !ok || string(data) != "héllo" {
		t.Errorf("remote content = %q, %v", data, ok)
	}
	if mode := files.Mode("/tmp/a.txt"); mode != 0644 {
		t.Errorf("remote mode = %o", mode)
	}

	got, ok, err := c.Get("/tmp/a.txt")
	if err != nil || !ok || got != "héllo" {
		t.Errorf("Get = %q, %v, %v", got, ok, err)
	}

	var buf bytes.Buffer
	if err = c.Receive("/tmp/a.txt", &buf); err != nil || buf.String() != "héllo" {
		t.Errorf("Receive = %q, %v", buf.String(), err)
	}
}

func TestQuotedDestination(t *testing.T) {
	files := sshtest.NewFiles()
	o := filesOpener(files)
	c := newClient(o)
	if err := c.PutBytes([]byte("x"), "/my dir/it's"); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if o.cmds[0] != "scp -t '/my dir'" {
		t.Errorf("push command = %q", o.cmds[0])
	}
	if _, ok := files.Get("/my dir/it's"); !ok {
		t.Errorf("file not stored")
	}
}

func TestPullMask(t *testing.T) {
	files := sshtest.NewFiles()
	files.Put("/var/log/a.log", []byte("a"), 0644)
	files.Put("/var/log/b.log", []byte("bb"), 0600)
	files.Put("/var/log/c.txt", []byte("c"), 0644)
	c := newClient(filesOpener(files))

	got := map[string]*strings.Builder{}
	modes := map[string]os.FileMode{}
	n, err := c.Pull("/var/log/*.log", func(name string, mode os.FileMode, _ int64) (io.Writer, error) {
		got[name] = &strings.Builder{}
		modes[name] = mode
		return got[name], nil
	})
	if err != nil || n != 2 {
		t.Fatalf("Pull = %d, %v", n, err)
	}
	if got["a.log"].String() != "a" || got["b.log"].String() != "bb" || modes["b.log"] != 0600 {
		t.Errorf("unexpected pulled files, modes %v", modes)
	}

	if _, err = c.GetBytes("/var/log/*.log"); !errors.Is(err, ErrMultipleFiles) {
		t.Errorf("GetBytes with two matches: %v", err)
	}
}

func TestPullNothing(t *testing.T) {
	c := newClient(filesOpener(sshtest.NewFiles()))
	data, err := c.GetBytes("/nope")
	if err != nil || data != nil {
		t.Errorf("GetBytes = %v, %v", data, err)
	}
	if _, ok, gErr := c.Get("/nope"); gErr != nil || ok {
		t.Errorf("Get = %v, %v", ok, gErr)
	}
	if err = c.Receive("/nope", io.Discard); !errors.Is(err, ErrNotFound) {
		t.Errorf("Receive = %v", err)
	}
}

func TestProtocolErrors(t *testing.T) {
	missing := func(io.Reader, io.Writer) int { return 127 }
	fatal := func(_ io.Reader, out io.Writer) int {
		_, _ = out.Write([]byte("\x02boom\n"))
		return 1
	}
	refused := func(_ io.Reader, out io.Writer) int {
		_, _ = out.Write([]byte("\x01scp: /ro: Permission denied"))
		return 1
	}

	tests := []struct {
		name    string
		remote  remoteFunc
		fatal   bool
		message string
	}{
		{"scp missing", missing, false, "remote scp exited with status 127"},
		{"fatal ack", fatal, true, "boom"},
		{"error ack without newline", refused, false, "scp: /ro: Permission denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(fixedOpener(tt.remote))
			err := c.PutBytes([]byte("x"), "/ro/f")
			var pErr *ProtocolError
			if !errors.As(err, &pErr) {
				t.Fatalf("err = %v, want a protocol error", err)
			}
			if pErr.Fatal != tt.fatal || pErr.Message != tt.message {
				t.Errorf("got %+v", pErr)
			}
		})
	}

	c := newClient(fixedOpener(missing))
	var pErr *ProtocolError
	if _, err := c.GetBytes("/f"); !errors.As(err, &pErr) || pErr.Fatal {
		t.Errorf("pull with scp missing: %v", err)
	}
	if got := (&ProtocolError{Fatal: true, Message: "x"}).Error(); got != "transfer protocol fatal error: x" {
		t.Errorf("Error() = %q", got)
	}
}

func TestMalformedHeader(t *testing.T) {
	tests := []string{
		"Cxx44 12 name\n",
		"C0644 abc name\n",
		"C0644 12",
	}
	for _, line := range tests {
		t.Run(line, func(t *testing.T) {
			c := newClient(fixedOpener(func(in io.Reader, out io.Writer) int {
				_, _ = bufio.NewReader(in).ReadByte()
				_, _ = io.WriteString(out, line)
				return 1
			}))
			_, err := c.GetBytes("/f")
			var mErr *MalformedResponseError
			if !errors.As(err, &mErr) {
				t.Errorf("err = %v, want a malformed response", err)
			}
		})
	}
}

func TestPullStopsOnNonFileRecord(t *testing.T) {
	c := newClient(fixedOpener(func(in io.Reader, out io.Writer) int {
		r := bufio.NewReader(in)
		_, _ = r.ReadByte()
		_, _ = io.WriteString(out, "C0644 2 a\n")
		_, _ = r.ReadByte()
		_, _ = io.WriteString(out, "hi\x00")
		_, _ = r.ReadByte()
		_, _ = io.WriteString(out, "D0755 0 sub\n")
		return 0
	}))

	var got bytes.Buffer
	n, err := c.Pull("/f*", func(name string, _ os.FileMode, _ int64) (io.Writer, error) {
		return &got, nil
	})
	if err != nil || n != 1 {
		t.Fatalf("Pull = %d, %v, want 1 file", n, err)
	}
	if got.String() != "hi" {
		t.Errorf("content = %q", got.String())
	}
}

func TestSend(t *testing.T) {
	local := filepath.Join(t.TempDir(), "report.csv")
	if err := os.WriteFile(local, []byte("a,b\n"), 0600); err != nil {
		t.Fatal(err)
	}
	files := sshtest.NewFiles()
	c := newClient(filesOpener(files))
	if err := c.Send(local, "/upload/"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	data, ok := files.Get("/upload/report.csv")
	if !ok || string(data) != "a,b\n" {
		t.Errorf("remote content = %q, %v", data, ok)
	}
	if mode := files.Mode("/upload/report.csv"); mode != 0600 {
		t.Errorf("remote mode = %o", mode)
	}
}

func TestSplitDestination(t *testing.T) {
	tests := []struct {
		in, dir, name string
	}{
		{"file", ".", "file"},
		{"/file", "/", "file"},
		{"a/b/c", "a/b", "c"},
		{"/up/", "/up", ""},
	}
	for _, tt := range tests {
		dir, name := splitDestination(tt.in)
		if dir != tt.dir || name != tt.name {
			t.Errorf("splitDestination(%q) = %q, %q", tt.in, dir, name)
		}
	}
}
