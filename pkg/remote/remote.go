// Package remote is the entry point of the module. A Remote shares one
// session between the command executor, the shell conversation, the file
// transfers and the port forwards of a host.
package remote

import (
	"errors"
	"fmt"
	"sync"

	"rshell/pkg/conf"
	"rshell/pkg/executor"
	"rshell/pkg/localpty"
	"rshell/pkg/ops"
	"rshell/pkg/options"
	"rshell/pkg/portforward"
	"rshell/pkg/session"
	"rshell/pkg/shell"
	"rshell/pkg/slog"
	"rshell/pkg/socks"
	"rshell/pkg/ssftp"
	"rshell/pkg/transfer"
)

// ErrNoForwarding is returned by forwarding calls on a session that is not
// backed by an SSH connection
var ErrNoForwarding = errors.New("connection does not support port forwarding")

type Remote struct {
	opts     *options.Options
	logger   *slog.Logger
	sessOpts []session.Option
	session  *session.Session
	executor *executor.Executor
	transfer *transfer.Transfer
	forwards *portforward.Manager

	mu      sync.Mutex
	shell   *shell.Shell
	onClose []func()
	closed  bool
}

type Option func(*Remote)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Remote) { r.logger = logger }
}

// WithSessionOptions is passed down to the session, mostly to inject a dialer
func WithSessionOptions(opts ...session.Option) Option {
	return func(r *Remote) { r.sessOpts = append(r.sessOpts, opts...) }
}

// New returns a handle on the host of opts. Nothing is dialed until the
// first operation.
func New(opts *options.Options, remoteOpts ...Option) *Remote {
	r := &Remote{opts: opts}
	for _, o := range remoteOpts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.NewLogger(fmt.Sprintf("remote(%s)", opts.Address()))
	}
	r.session = session.New(opts, r.logger, r.sessOpts...)
	r.executor = executor.New(r.session, opts, r.logger)
	r.transfer = transfer.New(r.session, r.session, r.executor, opts, r.logger)
	r.forwards = portforward.NewManager(r.logger, r.forwardConn)
	return r
}

// Local returns a handle on this machine, commands run in local processes
// and the shell on a local pseudo terminal
func Local(logger *slog.Logger) *Remote {
	opts := options.New(options.WithHost("localhost", conf.DefaultPort), options.WithName("local"))
	dialer := func(*options.Options, *slog.Logger) (session.Conn, error) {
		return localpty.New(logger)
	}
	return New(opts, WithLogger(logger), WithSessionOptions(session.WithDialer(dialer)))
}

func (r *Remote) Options() *options.Options {
	return r.opts
}

func (r *Remote) Session() *session.Session {
	return r.session
}

func (r *Remote) Execute(cmd string) (string, error) {
	return r.executor.Execute(cmd)
}

func (r *Remote) ExecuteAndTrim(cmd string) (string, error) {
	return r.executor.ExecuteAndTrim(cmd)
}

func (r *Remote) ExecuteWithStatus(cmd string) (string, int, error) {
	return r.executor.ExecuteWithStatus(cmd)
}

// Run streams the output of cmd to handler
func (r *Remote) Run(cmd string, handler executor.Handler) error {
	return r.executor.Run(cmd, handler)
}

func (r *Remote) Start(cmd string, handler executor.Handler) (*executor.Execution, error) {
	return r.executor.Start(cmd, handler)
}

func (r *Remote) Executor() *executor.Executor {
	return r.executor
}

// Ops runs the helpers on exec channels, Shell().Ops() runs them in the
// shell conversation
func (r *Remote) Ops() *ops.Ops {
	return ops.New(r.executor)
}

// Shell returns the shell conversation of the handle, created on first call
func (r *Remote) Shell() *shell.Shell {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shell == nil {
		r.shell = shell.New(r.session, r.opts, r.logger, shell.WithFiles(r.transfer))
	}
	return r.shell
}

func (r *Remote) Transfer() *transfer.Transfer {
	return r.transfer
}

func (r *Remote) SFTP() (*ssftp.Client, error) {
	return r.transfer.SFTP()
}

func (r *Remote) Forwards() *portforward.Manager {
	return r.forwards
}

func (r *Remote) forwardConn() (portforward.Conn, error) {
	conn, err := r.session.Conn()
	if err != nil {
		return nil, err
	}
	fc, ok := conn.(portforward.Conn)
	if !ok {
		return nil, ErrNoForwarding
	}
	return fc, nil
}

// Tunnel forwards a free local port to opts.Host:opts.Port through this
// handle and returns a handle reaching that host over the forward. Closing
// the returned handle stops the forward.
func (r *Remote) Tunnel(opts *options.Options) (*Remote, error) {
	if _, err := r.forwardConn(); err != nil {
		return nil, err
	}
	port, err := r.forwards.Local(0, opts.Host, opts.Port)
	if err != nil {
		return nil, err
	}
	r.logger.DebugWith("Tunnel established",
		slog.F("target", opts.String()),
		slog.F("local_port", port))

	tunneled := New(opts.With(options.WithHost("127.0.0.1", port)))
	tunneled.onClose = append(tunneled.onClose, func() {
		_ = r.forwards.Stop(port)
	})
	return tunneled, nil
}

// Socks serves a SOCKS5 proxy dialing from the remote side, the caller
// runs Serve
func (r *Remote) Socks(port int, expose bool) (*socks.Server, error) {
	if _, err := r.forwardConn(); err != nil {
		return nil, err
	}
	return socks.NewServer(port, expose, r.forwardConn, r.logger)
}

// Close releases the shell, the transfer channels, the forwards and the
// session. Calling it again is a no-op.
func (r *Remote) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sh := r.shell
	hooks := r.onClose
	r.mu.Unlock()

	var errs []error
	if sh != nil {
		errs = append(errs, sh.Close())
	}
	errs = append(errs, r.transfer.Close(), r.forwards.Close(), r.session.Close())
	for _, hook := range hooks {
		hook()
	}
	return errors.Join(errs...)
}
