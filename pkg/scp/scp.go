// Package scp copies files with the remote scp program over exec channels
package scp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"rshell/pkg/conf"
	"rshell/pkg/framer"
	"rshell/pkg/ops"
	"rshell/pkg/options"
	"rshell/pkg/slog"
	"rshell/pkg/transport"
)

// noSuchFile is how scp reports a mask matching nothing
const noSuchFile = "No such file or directory"

// Sink returns where a pulled file is written
type Sink func(name string, mode os.FileMode, size int64) (io.Writer, error)

type Client struct {
	opener transport.Opener
	opts   *options.Options
	logger *slog.Logger
}

func New(opener transport.Opener, opts *options.Options, logger *slog.Logger) *Client {
	return &Client{opener: opener, opts: opts, logger: logger}
}

func (c *Client) run(cmd string, fn func(ch transport.Channel, in *bufio.Reader) error) error {
	ch, err := c.opener.Open(transport.KindExec, cmd)
	if err != nil {
		return fmt.Errorf("failed to open transfer channel: %w", err)
	}
	defer func() { _ = ch.Close() }()
	if err = fn(ch, bufio.NewReaderSize(ch, conf.ReadBufferSize)); err != nil {
		return err
	}
	_ = ch.CloseWrite()
	return nil
}

// unavailable turns a remote scp that exited without talking into a
// non fatal protocol error
func unavailable(ch transport.Channel) error {
	code, _ := ch.Wait()
	return &ProtocolError{Message: fmt.Sprintf("remote scp exited with status %d", code)}
}

// Push uploads size bytes of r as dir/name
func (c *Client) Push(r io.Reader, size int64, mode os.FileMode, name, dir string) error {
	cmd := "scp -t " + ops.Quote(dir)
	err := c.run(cmd, func(ch transport.Channel, in *bufio.Reader) error {
		if err := expectOK(in); err != nil {
			if errors.Is(err, io.EOF) {
				return unavailable(ch)
			}
			return err
		}
		if _, err := fmt.Fprintf(ch, "C%04o %d %s\n", mode.Perm(), size, name); err != nil {
			return fmt.Errorf("failed to send control line: %w", err)
		}
		if err := expectOK(in); err != nil {
			return err
		}
		if _, err := io.CopyN(ch, r, size); err != nil {
			return fmt.Errorf("failed to send %s: %w", name, err)
		}
		if _, err := ch.Write(ack); err != nil {
			return fmt.Errorf("failed to send %s: %w", name, err)
		}
		return expectOK(in)
	})
	if err == nil {
		c.logger.DebugWith("Pushed file", slog.F("dir", dir), slog.F("name", name), slog.F("size", size))
	}
	return err
}

// Pull downloads every file matching mask into the writers returned by
// sink and returns how many files were copied
func (c *Client) Pull(mask string, sink Sink) (int, error) {
	count := 0
	cmd := "scp -f " + ops.QuoteGlob(mask)
	err := c.run(cmd, func(ch transport.Channel, in *bufio.Reader) error {
		if _, err := ch.Write(ack); err != nil {
			return fmt.Errorf("failed to start transfer: %w", err)
		}
		for {
			b, err := readAck(in)
			if errors.Is(err, io.EOF) {
				if count == 0 {
					if code, _ := ch.Wait(); code != 0 && code != transport.NoExitStatus {
						return unavailable(ch)
					}
				}
				return nil
			}
			var pErr *ProtocolError
			if errors.As(err, &pErr) && !pErr.Fatal && strings.Contains(pErr.Message, noSuchFile) {
				c.logger.DebugWith("No remote file matched", slog.F("mask", mask))
				return nil
			}
			if err != nil {
				return err
			}
			// directories and times are not followed
			if b != 'C' {
				c.logger.DebugWith("Pull stopped on a non file record", slog.F("mask", mask), slog.F("record", string(b)))
				return nil
			}

			mode, size, name, hErr := header(in)
			if hErr != nil {
				return hErr
			}
			if _, err = ch.Write(ack); err != nil {
				return fmt.Errorf("failed to ack %s: %w", name, err)
			}
			w, sErr := sink(name, mode, size)
			if sErr != nil {
				return sErr
			}
			if _, err = io.CopyN(w, in, size); err != nil {
				return fmt.Errorf("failed to receive %s: %w", name, err)
			}
			if err = expectOK(in); err != nil {
				return err
			}
			if _, err = ch.Write(ack); err != nil {
				return fmt.Errorf("failed to ack %s: %w", name, err)
			}
			count++
			c.logger.DebugWith("Pulled file", slog.F("mask", mask), slog.F("name", name), slog.F("size", size))
		}
	})
	return count, err
}

// Get returns the content of remote decoded with the configured charset,
// false when no file matched
func (c *Client) Get(remote string) (string, bool, error) {
	data, err := c.GetBytes(remote)
	if err != nil || data == nil {
		return "", false, err
	}
	s, dErr := framer.Decode(data, c.opts.Charset)
	return s, dErr == nil, dErr
}

// GetBytes returns the content of remote, nil when no file matched
func (c *Client) GetBytes(remote string) ([]byte, error) {
	var files []string
	var buf bytes.Buffer
	n, err := c.Pull(remote, func(name string, _ os.FileMode, _ int64) (io.Writer, error) {
		files = append(files, name)
		return &buf, nil
	})
	switch {
	case err != nil:
		return nil, err
	case n == 0:
		return nil, nil
	case n > 1:
		return nil, fmt.Errorf("%w, %s matched %s", ErrMultipleFiles, remote, strings.Join(files, ", "))
	}
	// an empty file is not a missing one
	if buf.Len() == 0 {
		return []byte{}, nil
	}
	return buf.Bytes(), nil
}

// Receive copies remote to w
func (c *Client) Receive(remote string, w io.Writer) error {
	n, err := c.Pull(remote, func(string, os.FileMode, int64) (io.Writer, error) { return w, nil })
	switch {
	case err != nil:
		return err
	case n == 0:
		return fmt.Errorf("%w: %s", ErrNotFound, remote)
	case n > 1:
		return fmt.Errorf("%w, %d matched %s", ErrMultipleFiles, n, remote)
	}
	return nil
}

// Put writes data encoded with the configured charset to dest
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

// PutFromStream writes the next n bytes of r to dest
func (c *Client) PutFromStream(r io.Reader, n int64, dest string) error {
	dir, name := splitDestination(dest)
	return c.Push(r, n, conf.DefaultFileMode, name, dir)
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
	dir, name := splitDestination(dest)
	if name == "" {
		name = filepath.Base(local)
	}
	return c.Push(f, info.Size(), info.Mode().Perm(), name, dir)
}
