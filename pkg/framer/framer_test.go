package framer

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

const prompt = "_T-:+"

func TestTryExtractFrame(t *testing.T) {
	tests := []struct {
		name      string
		buffer    string
		wantFrame string
		wantOK    bool
	}{
		{name: "Echoed command and output", buffer: "echo hello\nhello\n" + prompt, wantFrame: "hello\n", wantOK: true},
		{name: "Multi line output", buffer: "ls\na\nb\n" + prompt, wantFrame: "a\nb\n", wantOK: true},
		{name: "No newline", buffer: "out" + prompt, wantFrame: "out", wantOK: true},
		{name: "Prompt only", buffer: prompt, wantFrame: "", wantOK: true},
		{name: "Assignment echo", buffer: "PS1=" + prompt},
		{name: "Prompt not at end", buffer: "a" + prompt + "b\n"},
		{name: "Empty buffer", buffer: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, rest, ok := TryExtractFrame(tt.buffer, prompt)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				if rest != tt.buffer {
					t.Errorf("remainder = %q, want the untouched buffer", rest)
				}
				return
			}
			if frame != tt.wantFrame {
				t.Errorf("frame = %q, want %q", frame, tt.wantFrame)
			}
			if rest != "" {
				t.Errorf("remainder = %q, want empty", rest)
			}
		})
	}
}

func TestFindReady(t *testing.T) {
	marker := "ready-1234"
	tests := []struct {
		name   string
		buffer string
		want   bool
	}{
		{name: "Quoted echo only", buffer: "$ echo 'ready-1234'\n", want: false},
		{name: "Echo then output", buffer: "$ echo 'ready-1234'\nready-1234\n", want: true},
		{name: "Start of buffer", buffer: "ready-1234", want: true},
		{name: "Absent", buffer: "ready-99", want: false},
		{name: "Empty marker", buffer: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := marker
			if tt.name == "Empty marker" {
				m = ""
			}
			if got := FindReady(tt.buffer, m); got != tt.want {
				t.Errorf("FindReady(%q) = %v, want %v", tt.buffer, got, tt.want)
			}
		})
	}
}

func TestDecoder(t *testing.T) {
	t.Run("ISO-8859-15", func(t *testing.T) {
		r, err := NewReader(bytes.NewReader([]byte{'p', 'r', 'i', 'x', ' ', 0xA4, '\r', '\n'}), "ISO-8859-15")
		if err != nil {
			t.Fatalf("NewReader() error = %v", err)
		}
		got, _ := io.ReadAll(r)
		if string(got) != "prix €\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("UTF-8 split across reads", func(t *testing.T) {
		r, err := NewReader(iotest.OneByteReader(strings.NewReader("héllo\r\n")), "UTF-8")
		if err != nil {
			t.Fatalf("NewReader() error = %v", err)
		}
		got, _ := io.ReadAll(r)
		if string(got) != "héllo\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("Unknown charset", func(t *testing.T) {
		if _, err := NewReader(strings.NewReader(""), "klingon-8"); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("Encode round trip", func(t *testing.T) {
		raw, err := Encode("€uro", "ISO-8859-15")
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if raw[0] != 0xA4 {
			t.Errorf("Encode() = % x", raw)
		}
		back, dErr := Decode(raw, "ISO-8859-15")
		if dErr != nil || back != "€uro" {
			t.Errorf("Decode() = %q, %v", back, dErr)
		}
	})
}

func TestLines(t *testing.T) {
	var got []string
	err := Lines(strings.NewReader("one\ntwo\n\nthree"), func(line string) {
		got = append(got, line)
	})
	if err != nil {
		t.Fatalf("Lines() error = %v", err)
	}
	want := []string{"one", "two", "", "three"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLineFramerInterrupt(t *testing.T) {
	pr, pw := io.Pipe()
	var got []string
	f := NewLineFramer(pr, func(line string) { got = append(got, line) })

	done := make(chan error, 1)
	go func() { done <- f.Run() }()

	_, _ = pw.Write([]byte("first\n"))
	f.Interrupt()
	_ = pr.CloseWithError(io.ErrClosedPipe)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("framer did not stop")
	}
	if !f.Interrupted() {
		t.Error("Interrupted() = false")
	}
	if len(got) != 1 || got[0] != "first" {
		t.Errorf("got %q", got)
	}
}

func nextFrame(t *testing.T, p *PromptFramer) string {
	t.Helper()
	select {
	case f, ok := <-p.Frames():
		if !ok {
			t.Fatal("frames closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
	}
	return ""
}

func TestPromptFramer(t *testing.T) {
	pr, pw := io.Pipe()
	replies := &bytes.Buffer{}
	p := NewPromptFramer(pr, replies, prompt, "ready-42")
	go p.Run()

	// Prompts before the ready marker are ignored
	_, _ = pw.Write([]byte("$ PS1='" + prompt + "'\n" + prompt))
	_, _ = pw.Write([]byte("echo 'ready-42'\n"))
	select {
	case <-p.Ready():
		t.Fatal("quoted marker must not make the stream ready")
	default:
	}
	_, _ = pw.Write([]byte("ready-42\n" + prompt))
	<-p.Ready()
	nextFrame(t, p)

	// An embedded prompt inside a chunk does not end the frame
	_, _ = pw.Write([]byte("cat f\nline " + prompt + " more\nend\n" + prompt))
	if got := nextFrame(t, p); got != "line "+prompt+" more\nend\n" {
		t.Errorf("frame = %q", got)
	}

	p.SetExpects([]Expect{{When: Contains("Password:"), Send: "pw\n"}})
	_, _ = pw.Write([]byte("su -\nPassword:"))
	_, _ = pw.Write([]byte("\n" + prompt))
	nextFrame(t, p)
	if replies.String() != "pw\n" {
		t.Errorf("expect reply = %q", replies.String())
	}
	if p.PendingExpects() != 0 {
		t.Errorf("PendingExpects() = %d", p.PendingExpects())
	}

	_, _ = pw.Write([]byte("partial"))
	_ = pw.Close()
	<-p.Done()
	if p.Partial() != "partial" {
		t.Errorf("Partial() = %q", p.Partial())
	}
	if _, ok := <-p.Frames(); ok {
		t.Error("frames must be closed after EOF")
	}
}

func TestPromptFramerReadBoundary(t *testing.T) {
	pr, pw := io.Pipe()
	p := NewPromptFramer(pr, nil, prompt, "")
	go p.Run()
	defer func() { _ = pw.Close() }()

	// a read ending right after an embedded prompt closes the frame there
	_, _ = pw.Write([]byte("cat f\nline " + prompt))
	if got := nextFrame(t, p); got != "line " {
		t.Errorf("frame = %q", got)
	}
	_, _ = pw.Write([]byte(" more\n" + prompt))
	if got := nextFrame(t, p); got != "" {
		t.Errorf("frame = %q", got)
	}
}
