package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseForwardSpec(t *testing.T) {
	tests := []struct {
		name      string
		spec      string
		want      forwardSpec
		expectErr bool
	}{
		{name: "Valid", spec: "8080:db.internal:5432", want: forwardSpec{bindPort: 8080, host: "db.internal", port: 5432}},
		{name: "Free local port", spec: "0:localhost:22", want: forwardSpec{bindPort: 0, host: "localhost", port: 22}},
		{name: "Missing part", spec: "8080:5432", expectErr: true},
		{name: "Bad bind port", spec: "x:host:22", expectErr: true},
		{name: "Zero target port", spec: "80:host:0", expectErr: true},
		{name: "Empty host", spec: "80::22", expectErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseForwardSpec(tt.spec)
			if tt.expectErr {
				if err == nil {
					t.Errorf("Expected an error for %q", tt.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	err := fmt.Errorf("exec: %w", exitCode(3))
	var code exitCode
	if !errors.As(err, &code) || code != 3 {
		t.Errorf("Expected exit code 3, got %v", err)
	}
}

func TestConnectOptionsPrecedence(t *testing.T) {
	dir := t.TempDir()
	profiles := filepath.Join(dir, "profiles.yaml")
	data := "db:\n  host: db.example\n  port: 2200\n  user: dbadmin\n  timeout: 30s\n"
	if err := os.WriteFile(profiles, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RSHELL_PROFILES", profiles)
	t.Setenv("RSHELL_USER", "envuser")
	t.Setenv("RSHELL_PASSWORD", "envpass")
	t.Setenv("RSHELL_TIMEOUT", "5s")

	profile = "db"
	defer func() { profile = "" }()
	// merges the persistent flags of the root command
	_ = execCmd.InheritedFlags()
	if err := execCmd.Flags().Set("timeout", "1m"); err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = execCmd.Flags().Set("timeout", "0s")
		execCmd.Flags().Lookup("timeout").Changed = false
	}()

	opts, err := connectOptions(execCmd, "")
	if err != nil {
		t.Fatalf("connectOptions: %v", err)
	}
	if opts.Host != "db.example" || opts.Port != 2200 {
		t.Errorf("Expected the profile host, got %s", opts.Address())
	}
	if opts.Username != "dbadmin" {
		t.Errorf("Expected the profile user over the environment, got %s", opts.Username)
	}
	if opts.Password != "envpass" {
		t.Errorf("Expected the environment password, got %q", opts.Password)
	}
	if opts.Timeout != time.Minute {
		t.Errorf("Expected the flag timeout, got %v", opts.Timeout)
	}

	// the target argument wins over the profile
	opts, err = connectOptions(execCmd, "root@other:2222")
	if err != nil {
		t.Fatalf("connectOptions: %v", err)
	}
	if opts.Host != "other" || opts.Port != 2222 || opts.Username != "root" {
		t.Errorf("Expected root@other:2222, got %s@%s", opts.Username, opts.Address())
	}
}

func TestConsolePipedInput(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe failed: %v", err)
	}
	stdin := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = stdin }()

	_, _ = w.WriteString("cd /tmp\npwd\n")
	_ = w.Close()

	c, err := newConsole("> ")
	if err != nil {
		t.Fatalf("newConsole failed: %v", err)
	}
	defer c.restore()
	if c.out != os.Stdout {
		t.Error("Expected plain stdout when stdin is not a terminal")
	}
	for _, want := range []string{"cd /tmp", "pwd"} {
		line, rErr := c.readLine()
		if rErr != nil || line != want {
			t.Errorf("Expected %q, got %q (%v)", want, line, rErr)
		}
	}
	if _, rErr := c.readLine(); !errors.Is(rErr, io.EOF) {
		t.Errorf("Expected io.EOF at the end of input, got %v", rErr)
	}
}
