package sshtest

import (
	"io"
	"net"
	"strings"

	"rshell/pkg/transport"

	"github.com/pkg/sftp"
)

// Program is the remote end of an exec channel, it returns the exit status
type Program func(stdin io.Reader, stdout io.Writer) int

// pipeChannel runs a Program in a goroutine in place of a remote command
type pipeChannel struct {
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	done    chan struct{}
	code    int
}

// Exec returns an exec channel served by p without any SSH connection
func Exec(p Program) transport.Channel {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ch := &pipeChannel{stdinW: inW, stdoutR: outR, done: make(chan struct{})}
	go func() {
		ch.code = p(inR, outW)
		_ = outW.Close()
		close(ch.done)
		// an exited command still swallows input
		_, _ = io.Copy(io.Discard, inR)
	}()
	return ch
}

func (p *pipeChannel) Read(b []byte) (int, error) { return p.stdoutR.Read(b) }

func (p *pipeChannel) Write(b []byte) (int, error) { return p.stdinW.Write(b) }

func (p *pipeChannel) Stderr() io.Reader { return strings.NewReader("") }

func (p *pipeChannel) CloseWrite() error { return p.stdinW.Close() }

func (p *pipeChannel) Wait() (int, error) {
	<-p.done
	return p.code, nil
}

func (p *pipeChannel) Close() error {
	_ = p.stdinW.Close()
	return p.stdoutR.Close()
}

type connChannel struct {
	net.Conn
}

func (c connChannel) Stderr() io.Reader { return strings.NewReader("") }

func (c connChannel) CloseWrite() error { return nil }

func (c connChannel) Wait() (int, error) { return 0, nil }

// SFTP returns an sftp subsystem channel served from h
func SFTP(h sftp.Handlers) transport.Channel {
	client, server := net.Pipe()
	go func() {
		srv := sftp.NewRequestServer(server, h)
		_ = srv.Serve()
		_ = srv.Close()
	}()
	return connChannel{client}
}
