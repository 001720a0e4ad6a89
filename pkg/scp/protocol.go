package scp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	ackOK    = 0
	ackError = 1
	ackFatal = 2
)

var ack = []byte{ackOK}

// readAck returns the next control byte. Error acks are returned as
// *ProtocolError once their message was consumed.
func readAck(r *bufio.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b == ackError || b == ackFatal {
		msg, _ := r.ReadString('\n')
		return b, &ProtocolError{Fatal: b == ackFatal, Message: strings.TrimSuffix(msg, "\n")}
	}
	return b, nil
}

func expectOK(r *bufio.Reader) error {
	b, err := readAck(r)
	if err != nil {
		return err
	}
	if b != ackOK {
		return &MalformedResponseError{Line: string(b)}
	}
	return nil
}

// header reads the rest of a "C0644 <size> <name>\n" line, the C already consumed
func header(r *bufio.Reader) (os.FileMode, int64, string, error) {
	perm := make([]byte, 5)
	if _, err := io.ReadFull(r, perm); err != nil {
		return 0, 0, "", headerErr(string(perm), err)
	}
	mode, err := strconv.ParseUint(string(perm[:4]), 8, 32)
	if err != nil || perm[4] != ' ' {
		return 0, 0, "", &MalformedResponseError{Line: "C" + string(perm)}
	}
	sizeField, err := r.ReadString(' ')
	if err != nil {
		return 0, 0, "", headerErr(string(perm)+sizeField, err)
	}
	size, err := strconv.ParseInt(strings.TrimSuffix(sizeField, " "), 10, 64)
	if err != nil || size < 0 {
		return 0, 0, "", &MalformedResponseError{Line: "C" + string(perm) + sizeField}
	}
	name, err := r.ReadString('\n')
	if err != nil {
		return 0, 0, "", headerErr(string(perm)+sizeField+name, err)
	}
	name = strings.TrimSuffix(name, "\n")
	if name == "" || strings.Contains(name, "/") {
		return 0, 0, "", &MalformedResponseError{Line: "C" + string(perm) + sizeField + name}
	}
	return os.FileMode(mode), size, name, nil
}

func headerErr(read string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &MalformedResponseError{Line: "C" + read}
	}
	return fmt.Errorf("failed to read control line: %w", err)
}

// splitDestination returns the directory and file name of a remote path
func splitDestination(dest string) (string, string) {
	idx := strings.LastIndex(dest, "/")
	if idx < 0 {
		return ".", dest
	}
	dir := dest[:idx]
	if dir == "" {
		dir = "/"
	}
	return dir, dest[idx+1:]
}
