package remote

import (
	"errors"

	"rshell/pkg/conf"
	"rshell/pkg/options"
	"rshell/pkg/shell"
	"rshell/pkg/ssftp"
	"rshell/pkg/transfer"
)

func onceOptions(opts *options.Options) *options.Options {
	if opts.Timeout > 0 {
		return opts
	}
	return opts.With(options.WithTimeout(conf.OnceTimeout))
}

// Once runs fn on a new handle and closes it afterwards. A zero timeout in
// opts becomes conf.OnceTimeout.
func Once(opts *options.Options, fn func(*Remote) error, remoteOpts ...Option) (err error) {
	r := New(onceOptions(opts), remoteOpts...)
	defer func() {
		err = errors.Join(err, r.Close())
	}()
	return fn(r)
}

// WithShell runs fn on the shell conversation of a new handle
func WithShell(opts *options.Options, fn func(*shell.Shell) error, remoteOpts ...Option) error {
	return Once(opts, func(r *Remote) error {
		return fn(r.Shell())
	}, remoteOpts...)
}

// WithFtp runs fn on an SFTP client of a new handle
func WithFtp(opts *options.Options, fn func(*ssftp.Client) error, remoteOpts ...Option) error {
	return Once(opts, func(r *Remote) error {
		c, err := r.SFTP()
		if err != nil {
			return err
		}
		return fn(c)
	}, remoteOpts...)
}

// WithScp runs fn on the transfer facade of a new handle, scp first with
// SFTP as fallback
func WithScp(opts *options.Options, fn func(*transfer.Transfer) error, remoteOpts ...Option) error {
	return Once(opts, func(r *Remote) error {
		return fn(r.Transfer())
	}, remoteOpts...)
}
