package sshtest

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"rshell/pkg/conf"

	"golang.org/x/crypto/ssh"
)

// shell echoes input lines the way a shell on a dumb pty does and prints
// its prompt after each command. Unknown commands run as exec commands.
func (s *Server) shell(ch ssh.Channel) int {
	prompt := "$ "
	status := 0
	write := func(text string) {
		_, _ = io.WriteString(ch, strings.ReplaceAll(text, "\n", "\r\n"))
	}
	write(prompt)

	r := bufio.NewReader(ch)
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return status
		}
		switch b {
		case conf.KeyBreak:
			line = line[:0]
			write("^C\n" + prompt)
			continue
		case conf.KeyEOT:
			return status
		case '\r':
			continue
		case '\n':
		default:
			line = append(line, b)
			continue
		}

		cmd := string(line)
		line = line[:0]
		write(cmd + "\n")
		switch {
		case cmd == "exit":
			return status
		case strings.HasPrefix(cmd, "PS1="):
			prompt = unquote(strings.TrimPrefix(cmd, "PS1="))
			status = 0
		case strings.HasPrefix(cmd, "SUDO_PS1="), strings.HasPrefix(cmd, "COLUMNS="),
			strings.HasPrefix(cmd, "unset "), strings.HasPrefix(cmd, "history "), cmd == "":
			status = 0
		case cmd == "echo $?":
			write(strconv.Itoa(status) + "\n")
			status = 0
		case cmd == "echo $$":
			write("4242\n")
		case cmd == "whoami":
			write(s.User + "\n")
			status = 0
		default:
			var out bytes.Buffer
			status = s.exec(cmd, strings.NewReader(""), &out, &out)
			write(out.String())
		}
		write(prompt)
	}
}
