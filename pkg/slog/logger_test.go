package slog

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newBufferLogger(prefix string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := NewLogger(prefix)
	l.SetOutput(buf)
	return l, buf
}

func TestSetLevel(t *testing.T) {
	testCases := []struct {
		verbosity   string
		expected    Level
		expectError bool
	}{
		{verbosity: "debug", expected: LevelDebug},
		{verbosity: "INFO", expected: LevelInfo},
		{verbosity: "Warn", expected: LevelWarn},
		{verbosity: "error", expected: LevelError},
		{verbosity: "off", expected: LevelOff},
		{verbosity: "verbose", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.verbosity, func(t *testing.T) {
			l := NewLogger("test ")
			err := l.SetLevel(tc.verbosity)
			if tc.expectError {
				if err == nil {
					t.Errorf("Expected error for level '%s'", tc.verbosity)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if l.Level() != tc.expected {
				t.Errorf("Expected level %s, got %s", tc.expected, l.Level())
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger("[ssh] ")
	l.WithWarn()

	l.Debugf("hidden %d", 1)
	l.Infof("hidden %d", 2)
	l.Warnf("shown %d", 3)
	l.Errorf("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Filtered entries were written: %q", out)
	}
	if strings.Count(out, "shown") != 2 {
		t.Errorf("Expected 2 entries, got %q", out)
	}
	if !strings.Contains(out, "[ssh] WARN - shown 3") {
		t.Errorf("Unexpected format: %q", out)
	}
}

func TestFieldsText(t *testing.T) {
	l, buf := newBufferLogger("")
	l.InfoWith("Channel opened",
		F("kind", "exec"),
		F("command", "echo hello"),
		F("err", errors.New("boom")),
		F("empty", ""),
	)

	out := buf.String()
	for _, want := range []string{"kind=exec", `command="echo hello"`, "err=boom", `empty=""`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}
}

func TestJSON(t *testing.T) {
	l, buf := newBufferLogger("[scp] ")
	l.WithJSON(true)
	l.WithDebug()

	l.DebugWith("Pushed file", F("size", 12), F("err", errors.New("none")))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["level"] != "DEBUG" || entry["msg"] != "Pushed file" || entry["logger"] != "[scp]" {
		t.Errorf("Unexpected entry %v", entry)
	}
	if entry["size"] != float64(12) || entry["err"] != "none" {
		t.Errorf("Unexpected fields %v", entry)
	}
}

func TestWithCaller(t *testing.T) {
	l, buf := newBufferLogger("")
	l.WithCaller().Infof("where")

	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("Expected caller info, got %q", buf.String())
	}

	buf.Reset()
	l.Infof("plain")
	if strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("Caller info leaked into the parent logger: %q", buf.String())
	}
}

func TestOff(t *testing.T) {
	l, buf := newBufferLogger("")
	_ = l.SetLevel("off")
	l.Errorf("nothing")
	if buf.Len() != 0 {
		t.Errorf("Expected no output, got %q", buf.String())
	}
}
