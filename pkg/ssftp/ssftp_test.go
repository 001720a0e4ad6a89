package ssftp

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rshell/pkg/options"
	"rshell/pkg/slog"
	"rshell/pkg/sshtest"
	"rshell/pkg/transport"

	"github.com/pkg/sftp"
)

type memOpener struct {
	handlers sftp.Handlers
}

func (o memOpener) Open(kind transport.Kind, _ string) (transport.Channel, error) {
	if kind != transport.KindSFTP {
		return nil, transport.ErrUnsupportedKind
	}
	return sshtest.SFTP(o.handlers), nil
}

func openClient(t *testing.T) *Client {
	t.Helper()
	c, err := Open(memOpener{handlers: sftp.InMemHandler()}, options.New(options.WithCharset("UTF-8")), slog.NewLogger("sftp"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := openClient(t)
	if err := c.Put("hello", "/a.txt"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get("/a.txt")
	if err != nil || !ok || got != "hello" {
		t.Errorf("Get = %q, %v, %v", got, ok, err)
	}

	if err = c.PutFromStream(strings.NewReader("0123456789"), 4, "/b.txt"); err != nil {
		t.Fatalf("PutFromStream: %v", err)
	}
	if data, _ := c.GetBytes("/b.txt"); string(data) != "0123" {
		t.Errorf("partial stream stored %q", data)
	}

	data, err := c.GetBytes("/missing")
	if err != nil || data != nil {
		t.Errorf("GetBytes(missing) = %v, %v", data, err)
	}
	if err = c.Receive("/missing", io.Discard); err == nil {
		t.Errorf("Receive(missing) succeeded")
	}
}

func TestDirectories(t *testing.T) {
	c := openClient(t)
	if err := c.Mkdir("/work"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := c.Cd("work"); err != nil {
		t.Fatalf("Cd: %v", err)
	}
	if c.Pwd() != "/work" {
		t.Errorf("Pwd = %q", c.Pwd())
	}
	if err := c.PutBytes([]byte("x"), "rel.txt"); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if err := c.Rename("rel.txt", "moved.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	entries, err := c.Ls(".")
	if err != nil || len(entries) != 1 || entries[0].Name() != "moved.txt" {
		t.Fatalf("Ls = %v, %v", entries, err)
	}
	if err = c.Cd("moved.txt"); err == nil {
		t.Errorf("Cd into a file succeeded")
	}
	if err = c.Rm("/work/moved.txt"); err != nil {
		t.Errorf("Rm: %v", err)
	}
	if err = c.Cd("/"); err != nil {
		t.Fatalf("Cd: %v", err)
	}
	if err = c.Rmdir("work"); err != nil {
		t.Errorf("Rmdir: %v", err)
	}
	if _, err = c.Stat("/work"); err == nil {
		t.Errorf("directory still present")
	}
}

func TestSend(t *testing.T) {
	local := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(local, []byte("notes"), 0600); err != nil {
		t.Fatal(err)
	}
	c := openClient(t)
	if err := c.Send(local, "/"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if data, _ := c.GetBytes("/notes.txt"); string(data) != "notes" {
		t.Errorf("remote content = %q", data)
	}
}
