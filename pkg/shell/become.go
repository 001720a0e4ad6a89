package shell

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"rshell/pkg/ops"
	"rshell/pkg/slog"
)

// Become switches the conversation to user, with su first and sudo su when
// su failed. sudo uses the password of the connection, not password.
func (s *Shell) Become(user, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok, err := s.is(user); err != nil || ok {
		return ok, err
	}
	ok, err := s.becomeWithSU(user, password)
	if err != nil || ok {
		return ok, err
	}
	return s.becomeWithSudo(user)
}

// BecomeWithSU runs su - user. The password is only needed when the
// current user is not root.
func (s *Shell) BecomeWithSU(user, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.becomeWithSU(user, password)
}

// BecomeWithSudo runs sudo su - user, answering with the connection password
// when sudo asks for one
func (s *Shell) BecomeWithSudo(user string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.becomeWithSudo(user)
}

// SudoSuMinusOnlyWithoutPasswordTest reports whether sudo su - works
// without a password
func (s *Shell) SudoSuMinusOnlyWithoutPasswordTest() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sudoWithoutPassword()
}

func (s *Shell) becomeWithSU(user, password string) (bool, error) {
	current, err := s.unlocked().Whoami()
	if err != nil {
		return false, err
	}
	asRoot := current == "root"
	if !asRoot && password == "" {
		return s.is(user)
	}
	s.logger.DebugWith("Switching user", slog.F("from", current), slog.F("to", user), slog.F("method", "su"))
	if _, err = s.execute("LANG=en; export LANG"); err != nil {
		return false, err
	}
	if err = s.send("su - " + ops.Quote(user)); err != nil {
		return false, err
	}
	time.Sleep(suSettle)
	if !asRoot {
		if err = s.send(password); err != nil {
			return false, err
		}
		time.Sleep(passwordSettle)
	}
	if err = s.reinit(); err != nil {
		return false, err
	}
	return s.is(user)
}

func (s *Shell) becomeWithSudo(user string) (bool, error) {
	current, err := s.unlocked().Whoami()
	if err != nil {
		return false, err
	}
	noPassword, err := s.sudoWithoutPassword()
	if err != nil {
		return false, err
	}
	s.logger.DebugWith("Switching user", slog.F("from", current), slog.F("to", user), slog.F("method", "sudo"))
	if _, err = s.execute("LANG=en; export LANG"); err != nil {
		return false, err
	}
	if noPassword {
		if err = s.send("sudo -n su - " + ops.Quote(user)); err != nil {
			return false, err
		}
	} else {
		if err = s.send("sudo -S su - " + ops.Quote(user)); err != nil {
			return false, err
		}
		time.Sleep(suSettle)
		if current != "root" {
			if s.opts.Password != "" {
				if err = s.send(s.opts.Password); err != nil {
					return false, err
				}
			}
			time.Sleep(passwordSettle)
		}
	}
	if err = s.reinit(); err != nil {
		return false, err
	}
	return s.is(user)
}

func (s *Shell) sudoWithoutPassword() (bool, error) {
	out, err := s.execute(fmt.Sprintf(`echo "echo %s" | sudo -S su - 2>/dev/null`, sudoProbeMessage))
	if err != nil {
		return false, err
	}
	return strings.Contains(out, sudoProbeMessage), nil
}

func (s *Shell) is(user string) (bool, error) {
	current, err := s.unlocked().Whoami()
	return err == nil && current == user, err
}

// CatData writes data to a remote file through the file transfer and
// reports whether reading it back gives the same content
func (s *Shell) CatData(data []byte, remote string) (bool, error) {
	if s.files == nil {
		return false, ErrNoTransfer
	}
	s.mu.Lock()
	out, err := s.execute(fmt.Sprintf("touch %s >/dev/null 2>&1 ; echo $?", ops.Quote(remote)))
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(out) != "0" {
		return false, nil
	}
	if err = s.files.PutBytes(data, remote); err != nil {
		return false, err
	}
	back, err := s.files.GetBytes(remote)
	if err != nil {
		return false, err
	}
	return bytes.Equal(back, data), nil
}
