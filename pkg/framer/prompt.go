package framer

import (
	"errors"
	"io"
	"strings"
	"sync"

	"rshell/pkg/conf"
)

// TryExtractFrame returns the text between the first line of buffer and a
// trailing prompt. A buffer ending in "="+prompt is an assignment echo, not
// a prompt.
func TryExtractFrame(buffer, prompt string) (frame, remainder string, ok bool) {
	if prompt == "" || !strings.HasSuffix(buffer, prompt) || strings.HasSuffix(buffer, "="+prompt) {
		return "", buffer, false
	}
	end := len(buffer) - len(prompt)
	start := strings.IndexByte(buffer[:end], '\n') + 1
	return buffer[start:end], "", true
}

// FindReady reports whether buffer holds marker outside of a quoted echo
func FindReady(buffer, marker string) bool {
	if marker == "" {
		return true
	}
	for from := 0; from < len(buffer); {
		idx := strings.Index(buffer[from:], marker)
		if idx < 0 {
			return false
		}
		pos := from + idx
		if pos == 0 || buffer[pos-1] != '\'' {
			return true
		}
		from = pos + 1
	}
	return false
}

// Expect answers a matching buffer, e.g. a password prompt
type Expect struct {
	When func(buffer string) bool
	Send string
}

// Contains is the usual Expect condition
func Contains(s string) func(string) bool {
	return func(buffer string) bool { return strings.Contains(buffer, s) }
}

// PromptFramer splits a shell stream into frames ended by the prompt.
// Nothing is framed before the ready marker shows up.
type PromptFramer struct {
	r      io.Reader
	w      io.Writer
	prompt string
	marker string
	frames chan string
	ready  chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	buffer  string
	isReady bool
	expects []Expect
	err     error
}

// NewPromptFramer reads decoded text from r, expect replies go to w.
// An empty marker means the stream is ready from the start.
func NewPromptFramer(r io.Reader, w io.Writer, prompt, marker string) *PromptFramer {
	p := &PromptFramer{
		r:      r,
		w:      w,
		prompt: prompt,
		marker: marker,
		frames: make(chan string, conf.ResponseQueueSize),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	if marker == "" {
		p.isReady = true
		close(p.ready)
	}
	return p
}

func (p *PromptFramer) Frames() <-chan string { return p.frames }
func (p *PromptFramer) Done() <-chan struct{} { return p.done }

// Ready is closed once the current marker was seen
func (p *PromptFramer) Ready() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Rearm waits for a new marker before framing again, e.g. after su
// started a fresh shell. Text received so far is dropped.
func (p *PromptFramer) Rearm(marker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marker = marker
	p.buffer = ""
	if marker == "" {
		return
	}
	p.isReady = false
	p.ready = make(chan struct{})
}

// Run is the reader loop, it closes Frames and Done when the stream ends
func (p *PromptFramer) Run() {
	defer close(p.done)
	defer close(p.frames)

	buf := make([]byte, conf.ReadBufferSize)
	for {
		n, err := p.r.Read(buf)
		if n > 0 {
			p.consume(string(buf[:n]))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.mu.Lock()
				p.err = err
				p.mu.Unlock()
			}
			return
		}
	}
}

func (p *PromptFramer) consume(chunk string) {
	p.mu.Lock()
	p.buffer += chunk
	if !p.isReady && FindReady(p.buffer, p.marker) {
		p.isReady = true
		close(p.ready)
	}
	if !p.isReady {
		p.mu.Unlock()
		return
	}
	p.answerExpectsLocked()
	// only the end of the buffer is checked, so an embedded prompt that
	// happens to close a read still ends the frame
	frame, rest, ok := TryExtractFrame(p.buffer, p.prompt)
	if ok {
		p.buffer = rest
	}
	p.mu.Unlock()

	if ok {
		p.frames <- frame
	}
}

func (p *PromptFramer) answerExpectsLocked() {
	if len(p.expects) == 0 {
		return
	}
	next := p.expects[0]
	if next.When == nil || !next.When(p.buffer) {
		return
	}
	p.expects = p.expects[1:]
	if p.w != nil {
		_, _ = io.WriteString(p.w, next.Send)
	}
}

// SetExpects replaces the pending expects
func (p *PromptFramer) SetExpects(expects []Expect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expects = append([]Expect{}, expects...)
}

// PendingExpects returns how many expects were not consumed
func (p *PromptFramer) PendingExpects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.expects)
}

// Partial returns the text received since the last frame
func (p *PromptFramer) Partial() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer
}

// TakePartial returns and clears the unframed text
func (p *PromptFramer) TakePartial() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.buffer
	p.buffer = ""
	return s
}

func (p *PromptFramer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
