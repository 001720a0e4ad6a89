// Package transfer copies files with scp and switches a session to SFTP
// for good the first time scp is refused.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"rshell/pkg/ops"
	"rshell/pkg/options"
	"rshell/pkg/scp"
	"rshell/pkg/slog"
	"rshell/pkg/ssftp"
	"rshell/pkg/transport"
)

// FallbackState is owned by the session shared by every transfer
type FallbackState interface {
	Fallback() bool
	MarkFallback()
}

type Transfer struct {
	opener transport.Opener
	opts   *options.Options
	logger *slog.Logger
	state  FallbackState
	ops    *ops.Ops
	scp    *scp.Client

	mu   sync.Mutex
	sftp *ssftp.Client
}

// New returns a transfer facade. remote runs the shell helpers used by
// ReceiveDir and SendDir.
func New(opener transport.Opener, state FallbackState, remote ops.Runner, opts *options.Options, logger *slog.Logger) *Transfer {
	return &Transfer{
		opener: opener,
		opts:   opts,
		logger: logger,
		state:  state,
		ops:    ops.New(remote),
		scp:    scp.New(opener, opts, logger),
	}
}

// SFTP returns the fallback client, opened on first use
func (t *Transfer) SFTP() (*ssftp.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sftp != nil {
		return t.sftp, nil
	}
	c, err := ssftp.Open(t.opener, t.opts, t.logger)
	if err != nil {
		return nil, err
	}
	t.sftp = c
	return c, nil
}

// do runs viaSCP unless the session already fell back, and completes the
// call over SFTP when scp answers with a non fatal protocol error
func (t *Transfer) do(viaSCP func(*scp.Client) error, viaSFTP func(*ssftp.Client) error) error {
	if !t.state.Fallback() {
		err := viaSCP(t.scp)
		var pErr *scp.ProtocolError
		if !errors.As(err, &pErr) || pErr.Fatal {
			return err
		}
		t.logger.WarnWith("SCP refused, falling back to SFTP", slog.F("host", t.opts.Address()), slog.F("err", err))
		t.state.MarkFallback()
	}
	c, err := t.SFTP()
	if err != nil {
		return err
	}
	return viaSFTP(c)
}

func (t *Transfer) Get(remote string) (string, bool, error) {
	var s string
	var ok bool
	err := t.do(
		func(c *scp.Client) (err error) {
			s, ok, err = c.Get(remote)
			return
		},
		func(c *ssftp.Client) (err error) {
			s, ok, err = c.Get(remote)
			return
		},
	)
	return s, ok, err
}

func (t *Transfer) GetBytes(remote string) ([]byte, error) {
	var data []byte
	err := t.do(
		func(c *scp.Client) (err error) {
			data, err = c.GetBytes(remote)
			return
		},
		func(c *ssftp.Client) (err error) {
			data, err = c.GetBytes(remote)
			return
		},
	)
	return data, err
}

func (t *Transfer) Receive(remote string, w io.Writer) error {
	return t.do(
		func(c *scp.Client) error { return c.Receive(remote, w) },
		func(c *ssftp.Client) error { return c.Receive(remote, w) },
	)
}

func (t *Transfer) Put(data, dest string) error {
	return t.do(
		func(c *scp.Client) error { return c.Put(data, dest) },
		func(c *ssftp.Client) error { return c.Put(data, dest) },
	)
}

func (t *Transfer) PutBytes(data []byte, dest string) error {
	return t.do(
		func(c *scp.Client) error { return c.PutBytes(data, dest) },
		func(c *ssftp.Client) error { return c.PutBytes(data, dest) },
	)
}

func (t *Transfer) PutFromStream(r io.Reader, n int64, dest string) error {
	return t.do(
		func(c *scp.Client) error { return c.PutFromStream(r, n, dest) },
		func(c *ssftp.Client) error { return c.PutFromStream(r, n, dest) },
	)
}

func (t *Transfer) Send(local, dest string) error {
	return t.do(
		func(c *scp.Client) error { return c.Send(local, dest) },
		func(c *ssftp.Client) error { return c.Send(local, dest) },
	)
}

// ReceiveDir copies the remote tree under remoteDir into localDir
func (t *Transfer) ReceiveDir(remoteDir, localDir string) error {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return err
	}
	entries, err := t.ops.Ls(remoteDir)
	if err != nil {
		return err
	}
	for _, name := range entries {
		remote := path.Join(remoteDir, name)
		local := filepath.Join(localDir, name)
		isDir, dErr := t.ops.IsDirectory(remote)
		if dErr != nil {
			return dErr
		}
		if isDir {
			if err = t.ReceiveDir(remote, local); err != nil {
				return err
			}
			continue
		}
		if err = t.receiveFile(remote, local); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transfer) receiveFile(remote, local string) error {
	f, err := os.Create(local)
	if err != nil {
		return err
	}
	if err = t.Receive(remote, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to receive %s: %w", remote, err)
	}
	return f.Close()
}

// SendDir copies the local tree under localDir into remoteDir
func (t *Transfer) SendDir(localDir, remoteDir string) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return err
	}
	ok, err := t.ops.Mkdir(remoteDir)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("failed to create remote directory %s", remoteDir)
	}
	for _, e := range entries {
		local := filepath.Join(localDir, e.Name())
		remote := path.Join(remoteDir, e.Name())
		if e.IsDir() {
			err = t.SendDir(local, remote)
		} else {
			err = t.Send(local, remote)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases the SFTP client if one was opened
func (t *Transfer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sftp == nil {
		return nil
	}
	err := t.sftp.Close()
	t.sftp = nil
	return err
}
