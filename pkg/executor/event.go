package executor

import (
	"fmt"

	"rshell/pkg/watchdog"
)

type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

type EventKind int

const (
	EventPart EventKind = iota
	EventEnd
	EventTimeout
)

// Event is one step of a command run: any number of parts, then exactly
// one End or Timeout
type Event struct {
	Kind     EventKind
	Stream   Stream
	Text     string
	ExitCode int
}

func Part(stream Stream, text string) Event {
	return Event{Kind: EventPart, Stream: stream, Text: text}
}

func End(exitCode int) Event {
	return Event{Kind: EventEnd, ExitCode: exitCode}
}

func Timeout() Event {
	return Event{Kind: EventTimeout}
}

// Terminal reports whether no event follows e
func (e Event) Terminal() bool {
	return e.Kind != EventPart
}

// Handler receives events sequentially, never from two goroutines at once
type Handler func(Event)

// TimeoutError carries the output received before the watchdog fired
type TimeoutError struct {
	Command string
	Stdout  string
	Stderr  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q: %v", e.Command, watchdog.ErrTimeout)
}

func (e *TimeoutError) Unwrap() error {
	return watchdog.ErrTimeout
}
