package framer

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"rshell/pkg/conf"
)

// LineFramer emits one callback per line of a stream
type LineFramer struct {
	r           io.Reader
	emit        func(line string)
	interrupted atomic.Bool
}

func NewLineFramer(r io.Reader, emit func(line string)) *LineFramer {
	return &LineFramer{r: r, emit: emit}
}

// Interrupt stops the framer at the next read. Blocked reads are released
// by closing the underlying stream.
func (f *LineFramer) Interrupt() {
	f.interrupted.Store(true)
}

func (f *LineFramer) Interrupted() bool {
	return f.interrupted.Load()
}

// Run reads until EOF or interruption. A trailing partial line is flushed.
func (f *LineFramer) Run() error {
	br := bufio.NewReaderSize(f.r, conf.ReadBufferSize)
	for {
		line, err := br.ReadString('\n')
		if f.interrupted.Load() {
			if line != "" {
				f.emit(strings.TrimSuffix(line, "\n"))
			}
			return nil
		}
		if err == nil {
			f.emit(line[:len(line)-1])
			continue
		}
		if line != "" {
			f.emit(line)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

// Lines is the non interruptible shorthand
func Lines(r io.Reader, emit func(line string)) error {
	return NewLineFramer(r, emit).Run()
}
