// Package executor runs one command per exec channel and reports its
// output line by line.
package executor

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rshell/pkg/framer"
	"rshell/pkg/options"
	"rshell/pkg/slog"
	"rshell/pkg/transport"
	"rshell/pkg/watchdog"

	"golang.org/x/sync/errgroup"
)

type Executor struct {
	opener transport.Opener
	opts   *options.Options
	logger *slog.Logger
}

func New(opener transport.Opener, opts *options.Options, logger *slog.Logger) *Executor {
	return &Executor{opener: opener, opts: opts, logger: logger}
}

// Execute returns the stdout lines of cmd joined with "\n"
func (e *Executor) Execute(cmd string) (string, error) {
	out, _, err := e.ExecuteWithStatus(cmd)
	return out, err
}

func (e *Executor) ExecuteAndTrim(cmd string) (string, error) {
	out, err := e.Execute(cmd)
	return strings.TrimSpace(out), err
}

// ExecuteWithStatus also returns the exit code, transport.NoExitStatus when
// the remote side reported none. A failing command is not an error.
func (e *Executor) ExecuteWithStatus(cmd string) (string, int, error) {
	var stdout, stderr []string
	code := transport.NoExitStatus
	err := e.Run(cmd, func(ev Event) {
		switch ev.Kind {
		case EventPart:
			if ev.Stream == Stderr {
				stderr = append(stderr, ev.Text)
			} else {
				stdout = append(stdout, ev.Text)
			}
		case EventEnd:
			code = ev.ExitCode
		}
	})
	out := strings.Join(stdout, "\n")
	if errors.Is(err, watchdog.ErrTimeout) {
		return out, code, &TimeoutError{Command: cmd, Stdout: out, Stderr: strings.Join(stderr, "\n")}
	}
	return out, code, err
}

// Run streams the events of cmd to handler and returns once the command
// ended or timed out
func (e *Executor) Run(cmd string, handler Handler) error {
	x, err := e.Start(cmd, handler)
	if err != nil {
		return err
	}
	defer func() { _ = x.Close() }()
	_, err = x.Wait()
	return err
}

// Start launches cmd and returns while it runs
func (e *Executor) Start(cmd string, handler Handler) (*Execution, error) {
	ch, oErr := e.opener.Open(transport.KindExec, cmd)
	if oErr != nil {
		return nil, fmt.Errorf("failed to open exec channel: %w", oErr)
	}
	stdout, dErr := framer.NewReader(ch, e.opts.Charset)
	if dErr != nil {
		_ = ch.Close()
		return nil, dErr
	}
	stderr, _ := framer.NewReader(ch.Stderr(), e.opts.Charset)

	x := &Execution{
		cmd:     cmd,
		ch:      ch,
		charset: e.opts.Charset,
		handler: handler,
		logger:  e.logger,
		started: time.Now(),
		wd:      watchdog.New(e.opts.Timeout, ch),
	}
	outF := framer.NewLineFramer(stdout, x.emitter(Stdout))
	errF := framer.NewLineFramer(stderr, x.emitter(Stderr))
	x.wd.Register(outF.Interrupt)
	x.wd.Register(errF.Interrupt)
	x.wd.Register(func() { _ = ch.Close() })

	x.group.Go(outF.Run)
	x.group.Go(errF.Run)
	x.wd.Start()

	e.logger.DebugWith("Command started", slog.F("command", cmd), slog.F("timeout", e.opts.Timeout))
	return x, nil
}

// Execution is a running command
type Execution struct {
	cmd     string
	ch      transport.Channel
	charset string
	handler Handler
	logger  *slog.Logger
	started time.Time
	wd      *watchdog.Watchdog
	group   errgroup.Group

	emitMu   sync.Mutex
	waitOnce sync.Once
	code     int
	err      error
}

func (x *Execution) emitter(stream Stream) func(string) {
	return func(line string) { x.emit(Part(stream, line)) }
}

func (x *Execution) emit(ev Event) {
	if x.handler == nil {
		return
	}
	x.emitMu.Lock()
	defer x.emitMu.Unlock()
	x.handler(ev)
}

// GiveInputLine sends line and a newline to the command stdin
func (x *Execution) GiveInputLine(line string) error {
	raw, err := framer.Encode(line+"\n", x.charset)
	if err != nil {
		return err
	}
	_, err = x.ch.Write(raw)
	return err
}

// Write sends raw bytes to the command stdin
func (x *Execution) Write(p []byte) (int, error) {
	return x.ch.Write(p)
}

// CloseWrite signals EOF on the command stdin
func (x *Execution) CloseWrite() error {
	return x.ch.CloseWrite()
}

// Wait joins both readers and the watchdog, then emits the terminal event
func (x *Execution) Wait() (int, error) {
	x.waitOnce.Do(func() {
		rErr := x.group.Wait()
		x.code = transport.NoExitStatus
		var wErr error
		if !x.wd.Fired() {
			x.code, wErr = x.ch.Wait()
		}
		// an exit status reported before the channel was torn down wins
		fired := x.wd.Stop()
		if fired && wErr == nil && x.code != transport.NoExitStatus {
			fired = false
		}
		if fired {
			x.code = transport.NoExitStatus
			x.emit(Timeout())
			x.err = fmt.Errorf("command %q: %w", x.cmd, watchdog.ErrTimeout)
			x.logger.WarnWith("Command timed out", slog.F("command", x.cmd), slog.F("after", time.Since(x.started)))
			return
		}
		switch {
		case rErr != nil:
			x.err = fmt.Errorf("failed to read command output: %w", rErr)
		case wErr != nil:
			x.err = fmt.Errorf("failed to wait for command: %w", wErr)
		}
		x.emit(End(x.code))
		x.logger.DebugWith("Command ended",
			slog.F("command", x.cmd),
			slog.F("exit_code", x.code),
			slog.F("duration", time.Since(x.started)))
	})
	return x.code, x.err
}

// Close releases the channel
func (x *Execution) Close() error {
	x.wd.Stop()
	return x.ch.Close()
}
