// Package ssftp is the file transfer over the SFTP subsystem. It keeps a
// client side working directory for relative paths.
package ssftp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"rshell/pkg/framer"
	"rshell/pkg/options"
	"rshell/pkg/slog"
	"rshell/pkg/transport"

	"github.com/pkg/sftp"
)

type Client struct {
	client *sftp.Client
	ch     transport.Channel
	opts   *options.Options
	logger *slog.Logger

	mu  sync.Mutex
	cwd string
}

// Open starts the sftp subsystem on a new channel
func Open(opener transport.Opener, opts *options.Options, logger *slog.Logger) (*Client, error) {
	ch, err := opener.Open(transport.KindSFTP, "")
	if err != nil {
		return nil, fmt.Errorf("failed to open sftp channel: %w", err)
	}
	client, err := sftp.NewClientPipe(ch, ch)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to start sftp client: %w", err)
	}
	cwd, err := client.Getwd()
	if err != nil {
		cwd = "/"
	}
	logger.DebugWith("SFTP client started", slog.F("host", opts.Address()), slog.F("cwd", cwd))
	return &Client{client: client, ch: ch, opts: opts, logger: logger, cwd: cwd}, nil
}

func (c *Client) resolve(p string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(c.cwd, p)
}

func notFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Get returns the content of remote decoded with the configured charset,
// false when it does not exist
func (c *Client) Get(remote string) (string, bool, error) {
	data, err := c.GetBytes(remote)
	if err != nil || data == nil {
		return "", false, err
	}
	s, dErr := framer.Decode(data, c.opts.Charset)
	return s, dErr == nil, dErr
}

// GetBytes returns nil when remote does not exist
func (c *Client) GetBytes(remote string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.Receive(remote, &buf)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GetStream opens remote for reading, the caller closes it
func (c *Client) GetStream(remote string) (io.ReadCloser, error) {
	return c.client.Open(c.resolve(remote))
}

func (c *Client) Receive(remote string, w io.Writer) error {
	f, err := c.client.Open(c.resolve(remote))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err = f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to receive %s: %w", remote, err)
	}
	return nil
}

func (c *Client) Put(data, dest string) error {
	raw, err := framer.Encode(data, c.opts.Charset)
	if err != nil {
		return err
	}
	return c.PutBytes(raw, dest)
}

func (c *Client) PutBytes(data []byte, dest string) error {
	return c.PutFromStream(bytes.NewReader(data), int64(len(data)), dest)
}

// PutFromStream writes the next n bytes of r to dest, everything up to EOF
// when n is negative
func (c *Client) PutFromStream(r io.Reader, n int64, dest string) error {
	if n >= 0 {
		r = io.LimitReader(r, n)
	}
	f, err := c.client.OpenFile(c.resolve(dest), os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err = f.ReadFrom(r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to send %s: %w", dest, err)
	}
	return f.Close()
}

// Send uploads a local file. A dest ending with / keeps the local name.
func (c *Client) Send(local, dest string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if dest == "" || strings.HasSuffix(dest, "/") {
		dest += filepath.Base(local)
	}
	if err = c.PutFromStream(f, info.Size(), dest); err != nil {
		return err
	}
	// some servers refuse setstat
	if cErr := c.client.Chmod(c.resolve(dest), info.Mode().Perm()); cErr != nil {
		c.logger.DebugWith("Failed to set remote mode", slog.F("path", dest), slog.F("err", cErr))
	}
	return nil
}

func (c *Client) Rename(from, to string) error {
	return c.client.Rename(c.resolve(from), c.resolve(to))
}

func (c *Client) Ls(dir string) ([]os.FileInfo, error) {
	return c.client.ReadDir(c.resolve(dir))
}

func (c *Client) Stat(p string) (os.FileInfo, error) {
	return c.client.Stat(c.resolve(p))
}

func (c *Client) Rm(p string) error {
	return c.client.Remove(c.resolve(p))
}

func (c *Client) Rmdir(dir string) error {
	return c.client.RemoveDirectory(c.resolve(dir))
}

func (c *Client) Mkdir(dir string) error {
	return c.client.Mkdir(c.resolve(dir))
}

// MkdirAll creates dir and its missing parents
func (c *Client) MkdirAll(dir string) error {
	return c.client.MkdirAll(c.resolve(dir))
}

// Cd changes the working directory used for relative paths
func (c *Client) Cd(dir string) error {
	target := c.resolve(dir)
	info, err := c.client.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", target)
	}
	c.mu.Lock()
	c.cwd = target
	c.mu.Unlock()
	return nil
}

func (c *Client) Pwd() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwd
}

// Realpath asks the server to canonicalize p
func (c *Client) Realpath(p string) (string, error) {
	return c.client.RealPath(c.resolve(p))
}

func (c *Client) Close() error {
	err := c.client.Close()
	_ = c.ch.Close()
	return err
}
