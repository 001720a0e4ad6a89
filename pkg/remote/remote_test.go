package remote

import (
	"errors"
	"testing"

	"rshell/pkg/options"
	"rshell/pkg/shell"
	"rshell/pkg/slog"
	"rshell/pkg/ssftp"
	"rshell/pkg/sshtest"
	"rshell/pkg/transfer"
)

func newServer(t *testing.T) *sshtest.Server {
	t.Helper()
	srv, err := sshtest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestOnce(t *testing.T) {
	srv := newServer(t)

	err := Once(srv.Options(), func(r *Remote) error {
		out, err := r.Execute("echo 42")
		if err != nil {
			return err
		}
		if out != "42" {
			t.Errorf("Expected 42, got %q", out)
		}

		out, code, err := r.ExecuteWithStatus("false")
		if err != nil {
			return err
		}
		if out != "" || code != 1 {
			t.Errorf("Expected (\"\", 1), got (%q, %d)", out, code)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Once: %v", err)
	}
}

func TestOnceDefaultTimeout(t *testing.T) {
	opts := options.New()
	if got := onceOptions(opts).Timeout; got == 0 {
		t.Error("Expected a default timeout")
	}
	if opts.Timeout != 0 {
		t.Error("Expected the caller options to be left untouched")
	}
	custom := options.New(options.WithTimeout(7))
	if got := onceOptions(custom).Timeout; got != 7 {
		t.Errorf("Expected the given timeout, got %v", got)
	}
}

func TestOnceReturnsCallbackError(t *testing.T) {
	srv := newServer(t)
	boom := errors.New("boom")
	err := Once(srv.Options(), func(r *Remote) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
}

func TestWithShell(t *testing.T) {
	srv := newServer(t)

	err := WithShell(srv.Options(), func(s *shell.Shell) error {
		out, err := s.Execute("echo hello")
		if err != nil {
			return err
		}
		if out != "hello" {
			t.Errorf("Expected hello, got %q", out)
		}
		out, code, err := s.ExecuteWithStatus("false")
		if err != nil {
			return err
		}
		if out != "" || code != 1 {
			t.Errorf("Expected (\"\", 1), got (%q, %d)", out, code)
		}
		who, err := s.ExecuteAndTrim("whoami")
		if err != nil {
			return err
		}
		if who != srv.User {
			t.Errorf("Expected %s, got %q", srv.User, who)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithShell: %v", err)
	}
}

func TestWithScp(t *testing.T) {
	srv := newServer(t)

	err := WithScp(srv.Options(), func(tr *transfer.Transfer) error {
		if err := tr.Put("payload", "/tmp/data.txt"); err != nil {
			return err
		}
		got, err := tr.GetBytes("/tmp/data.txt")
		if err != nil {
			return err
		}
		if string(got) != "payload" {
			t.Errorf("Expected payload, got %q", got)
		}

		if err := tr.PutBytes(nil, "/tmp/empty"); err != nil {
			return err
		}
		empty, err := tr.GetBytes("/tmp/empty")
		if err != nil {
			return err
		}
		if empty == nil || len(empty) != 0 {
			t.Errorf("Expected an empty file, got %v", empty)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithScp: %v", err)
	}
	if _, ok := srv.Files.Get("/tmp/data.txt"); !ok {
		t.Error("Expected the file to be written by scp")
	}
}

func TestScpFallsBackToSFTP(t *testing.T) {
	srv := newServer(t)
	srv.DisableSCP()

	r := New(srv.Options())
	defer func() { _ = r.Close() }()

	if err := r.Transfer().Put("via sftp", "/fallback.txt"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !r.Session().Fallback() {
		t.Error("Expected the session to stick to SFTP")
	}
	got, err := r.Transfer().GetBytes("/fallback.txt")
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	if string(got) != "via sftp" {
		t.Errorf("Expected via sftp, got %q", got)
	}
}

func TestWithFtp(t *testing.T) {
	srv := newServer(t)

	err := WithFtp(srv.Options(), func(c *ssftp.Client) error {
		if err := c.MkdirAll("/a/b"); err != nil {
			return err
		}
		if err := c.PutBytes([]byte("x"), "/a/b/c"); err != nil {
			return err
		}
		got, err := c.GetBytes("/a/b/c")
		if err != nil {
			return err
		}
		if string(got) != "x" {
			t.Errorf("Expected x, got %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithFtp: %v", err)
	}
}

func TestSessionRebuild(t *testing.T) {
	srv := newServer(t)
	r := New(srv.Options())
	defer func() { _ = r.Close() }()

	if _, err := r.Execute("true"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := r.Execute("true"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := r.Session().Builds(); got != 1 {
		t.Fatalf("Expected 1 build on a healthy session, got %d", got)
	}

	srv.DropConnections()
	out, err := r.Execute("echo back")
	if err != nil {
		t.Fatalf("Execute after drop: %v", err)
	}
	if out != "back" {
		t.Errorf("Expected back, got %q", out)
	}
	if got := r.Session().Builds(); got != 2 {
		t.Errorf("Expected exactly one rebuild, got %d builds", got)
	}
}

func TestTunnel(t *testing.T) {
	srv := newServer(t)
	r := New(srv.Options())
	defer func() { _ = r.Close() }()

	// the server forwards to itself
	tunneled, err := r.Tunnel(srv.Options())
	if err != nil {
		t.Fatalf("Tunnel: %v", err)
	}
	if tunneled.Options().Host != "127.0.0.1" || tunneled.Options().Port == srv.Port() {
		t.Errorf("Expected a handle on the local end, got %s", tunneled.Options().Address())
	}
	out, eErr := tunneled.Execute("echo through")
	if eErr != nil {
		t.Fatalf("Execute: %v", eErr)
	}
	if out != "through" {
		t.Errorf("Expected through, got %q", out)
	}
	if got := len(r.Forwards().List()); got != 1 {
		t.Errorf("Expected 1 forward, got %d", got)
	}

	_ = tunneled.Close()
	if got := len(r.Forwards().List()); got != 0 {
		t.Errorf("Expected the forward to stop with the tunnel, got %d", got)
	}
}

func TestLocalHasNoForwarding(t *testing.T) {
	r := Local(slog.NewLogger("local"))
	defer func() { _ = r.Close() }()

	out, err := r.Execute("echo 42")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "42" {
		t.Errorf("Expected 42, got %q", out)
	}
	if _, tErr := r.Tunnel(options.New()); !errors.Is(tErr, ErrNoForwarding) {
		t.Errorf("Expected ErrNoForwarding, got %v", tErr)
	}
}
