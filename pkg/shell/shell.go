// Package shell keeps a conversation with one interactive remote shell.
// Commands are written to the shell stdin and their output is framed by a
// known prompt, so the shell state (cwd, variables, su) survives between
// commands.
package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rshell/pkg/conf"
	"rshell/pkg/framer"
	"rshell/pkg/ops"
	"rshell/pkg/options"
	"rshell/pkg/slog"
	"rshell/pkg/transport"
	"rshell/pkg/watchdog"

	"github.com/google/uuid"
)

// Settle times of su and sudo before the password and the new init
var (
	suSettle       = 2 * time.Second
	passwordSettle = 1 * time.Second
	breakGrace     = conf.BreakGrace
)

const sudoProbeMessage = "SUDOOK"

// Files moves small files, CatData uses it to write and read back
type Files interface {
	PutBytes(data []byte, remote string) error
	GetBytes(remote string) ([]byte, error)
}

type Shell struct {
	opener transport.Opener
	opts   *options.Options
	logger *slog.Logger
	files  Files

	// mu keeps a single command in flight
	mu    sync.Mutex
	state atomic.Int32

	chMu   sync.Mutex
	ch     transport.Channel
	framer *framer.PromptFramer

	// set after a timeout, the next command reframes the shell first
	resync bool
}

type Option func(*Shell)

func WithFiles(f Files) Option {
	return func(s *Shell) { s.files = f }
}

// New returns a shell conversation, the remote shell starts with the first command
func New(opener transport.Opener, opts *options.Options, logger *slog.Logger, shellOpts ...Option) *Shell {
	s := &Shell{
		opener: opener,
		opts:   opts,
		logger: logger,
	}
	for _, o := range shellOpts {
		o(s)
	}
	return s
}

func (s *Shell) State() State {
	return State(s.state.Load())
}

// setState never leaves Closed
func (s *Shell) setState(st State) bool {
	for {
		cur := s.state.Load()
		if State(cur) == Closed {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return true
		}
	}
}

// Execute runs cmd and returns its output without the trailing newline
func (s *Shell) Execute(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execute(cmd)
}

func (s *Shell) ExecuteAndTrim(cmd string) (string, error) {
	out, err := s.Execute(cmd)
	return strings.TrimSpace(out), err
}

// ExecuteWithStatus runs cmd then reads its exit code with echo $?
func (s *Shell) ExecuteWithStatus(cmd string) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.execute(cmd)
	if err != nil {
		return out, transport.NoExitStatus, err
	}
	rc, rErr := s.execute("echo $?")
	if rErr != nil {
		return out, transport.NoExitStatus, rErr
	}
	code, cErr := strconv.Atoi(strings.TrimSpace(rc))
	if cErr != nil {
		return out, transport.NoExitStatus, fmt.Errorf("unexpected exit status %q", rc)
	}
	return out, code, nil
}

// ExecuteWithExpects answers the expects in order while cmd runs. It
// returns the number of expects that never matched.
func (s *Shell) ExecuteWithExpects(cmd string, expects []framer.Expect) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepare(); err != nil {
		return "", len(expects), err
	}
	f := s.framer
	f.SetExpects(expects)
	defer f.SetExpects(nil)
	out, err := s.execute(cmd)
	return out, f.PendingExpects(), err
}

// Pid returns the process id of the remote shell
func (s *Shell) Pid() (int, error) {
	out, err := s.ExecuteAndTrim("echo $$")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(out)
}

// Ops runs the shell helpers through this conversation
func (s *Shell) Ops() *ops.Ops {
	return ops.New(s)
}

type runnerFunc func(cmd string) (string, error)

func (f runnerFunc) Execute(cmd string) (string, error) { return f(cmd) }

// unlocked is Ops for callers already holding mu
func (s *Shell) unlocked() *ops.Ops {
	return ops.New(runnerFunc(s.execute))
}

func (s *Shell) execute(cmd string) (string, error) {
	if err := s.prepare(); err != nil {
		return "", err
	}
	if err := s.send(cmd); err != nil {
		return "", err
	}
	s.setState(Busy)
	out, err := s.response(cmd)
	if s.State() == Busy {
		s.setState(Ready)
	}
	return strings.TrimSuffix(out, "\n"), err
}

// prepare leaves a ready shell with nothing pending from an earlier command
func (s *Shell) prepare() error {
	if err := s.ensure(); err != nil {
		return err
	}
	if s.resync {
		return s.reinit()
	}
	return nil
}

// ensure starts the remote shell when there is none
func (s *Shell) ensure() error {
	switch s.State() {
	case Closed:
		return ErrClosed
	case Uninitialized:
		return s.open()
	case Initializing:
		// an init that never completed leaves the stream unframed
		s.drop()
		return s.open()
	}
	return nil
}

func (s *Shell) open() error {
	ch, err := s.opener.Open(transport.KindShell, "")
	if err != nil {
		return fmt.Errorf("failed to open shell channel: %w", err)
	}
	r, dErr := framer.NewReader(ch, s.opts.Charset)
	if dErr != nil {
		_ = ch.Close()
		return dErr
	}
	marker := s.newMarker()
	f := framer.NewPromptFramer(r, ch, s.opts.EffectivePrompt(), marker)

	s.chMu.Lock()
	if s.State() == Closed {
		s.chMu.Unlock()
		_ = ch.Close()
		return ErrClosed
	}
	s.ch, s.framer = ch, f
	s.chMu.Unlock()

	go f.Run()
	s.logger.DebugWith("Shell channel opened", slog.F("host", s.opts.Address()), slog.F("custom_prompt", s.opts.HasCustomPrompt()))
	return s.init(marker)
}

func (s *Shell) newMarker() string {
	if s.opts.HasCustomPrompt() {
		return ""
	}
	return conf.ReadyPrefix + uuid.NewString()
}

// initScript sets the prompt and removes its own lines from the history
func initScript(prompt, marker string) []string {
	return []string{
		"unset LS_COLORS",
		"unset EDITOR",
		"unset PAGER",
		fmt.Sprintf("COLUMNS=%d", conf.DefaultTerminalWidth),
		fmt.Sprintf("SUDO_PS1='%s'", prompt),
		fmt.Sprintf("PS1='%s'", prompt),
		"history -d $((HISTCMD-3)) && history -d $((HISTCMD-2)) && history -d $((HISTCMD-1))",
		fmt.Sprintf("echo '%s'", marker),
	}
}

// init frames the shell, a failure drops the channel
func (s *Shell) init(marker string) (err error) {
	s.setState(Initializing)
	defer func() {
		if err != nil && !errors.Is(err, ErrClosed) {
			s.drop()
		}
	}()
	if marker != "" {
		for _, line := range initScript(s.opts.EffectivePrompt(), marker) {
			if err := s.send(line); err != nil {
				return err
			}
		}
	}
	if err := s.waitReady(); err != nil {
		return err
	}
	// ready echo, or the first prompt of a custom shell
	if _, err := s.response("init"); err != nil {
		return err
	}
	s.setState(Ready)
	return nil
}

func (s *Shell) waitReady() error {
	f := s.framer
	var expired <-chan time.Time
	if s.opts.Timeout > 0 {
		t := time.NewTimer(s.opts.Timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-f.Ready():
		return nil
	case <-f.Done():
		return s.streamEnded(f)
	case <-expired:
		return &TimeoutError{Command: "init", Output: f.TakePartial()}
	}
}

// reinit frames a fresh shell, e.g. after su
func (s *Shell) reinit() error {
	f := s.framer
	if f == nil {
		return s.ensure()
	}
	s.resync = false
	marker := s.newMarker()
	f.Rearm(marker)
	for drained := false; !drained; {
		select {
		case _, ok := <-f.Frames():
			if !ok {
				return s.streamEnded(f)
			}
		default:
			drained = true
		}
	}
	return s.init(marker)
}

func (s *Shell) send(line string) error {
	raw, err := framer.Encode(line+"\n", s.opts.Charset)
	if err != nil {
		return err
	}
	if _, wErr := s.ch.Write(raw); wErr != nil {
		if s.State() == Closed {
			return ErrClosed
		}
		return fmt.Errorf("failed to write to shell: %w", wErr)
	}
	return nil
}

// response waits for the next frame. On timeout it sends Ctrl-C and
// gives the shell breakGrace to print a prompt again.
func (s *Shell) response(cmd string) (string, error) {
	f := s.framer
	fired := make(chan struct{})
	wd := watchdog.New(s.opts.Timeout, s.ch)
	wd.Register(func() { close(fired) })
	wd.Start()
	defer wd.Stop()

	select {
	case frame, ok := <-f.Frames():
		if !ok {
			return "", s.streamEnded(f)
		}
		if !wd.Stop() {
			return frame, nil
		}
		s.resync = true
		return "", &TimeoutError{Command: cmd, Output: frame}
	case <-fired:
	}

	s.logger.WarnWith("Shell command timed out", slog.F("command", cmd), slog.F("timeout", s.opts.Timeout))
	s.resync = true
	grace := time.NewTimer(breakGrace)
	defer grace.Stop()
	select {
	case frame, ok := <-f.Frames():
		if ok {
			return "", &TimeoutError{Command: cmd, Output: frame}
		}
	case <-grace.C:
	}
	return "", &TimeoutError{Command: cmd, Output: f.TakePartial()}
}

// streamEnded drops a shell that exited, the next command opens a new one
func (s *Shell) streamEnded(f *framer.PromptFramer) error {
	if s.State() == Closed {
		return ErrClosed
	}
	if !s.drop() {
		return ErrClosed
	}
	s.logger.DebugWith("Shell stream ended", slog.F("host", s.opts.Address()))
	if err := f.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamEnded, err)
	}
	return ErrStreamEnded
}

// drop closes the channel and returns to Uninitialized unless the shell is closed
func (s *Shell) drop() bool {
	s.chMu.Lock()
	ch := s.ch
	s.ch, s.framer = nil, nil
	s.chMu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
	s.resync = false
	return s.setState(Uninitialized)
}

// Close sends EOT and closes the channel. A command in flight returns ErrClosed.
func (s *Shell) Close() error {
	if State(s.state.Swap(int32(Closed))) == Closed {
		return nil
	}
	s.chMu.Lock()
	ch := s.ch
	s.chMu.Unlock()
	if ch == nil {
		return nil
	}
	_, _ = ch.Write([]byte{conf.KeyEOT})
	return ch.Close()
}
