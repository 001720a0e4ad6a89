package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rshell/pkg/conf"
	"rshell/pkg/options"
	"rshell/pkg/slog"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// knownHostsMu serializes writers within the process, the file lock covers other processes
var knownHostsMu sync.Mutex

// Host key policies, as in the OpenSSH StrictHostKeyChecking setting
const (
	HostKeyStrict    = "yes"
	HostKeyAcceptNew = "accept-new"
	HostKeyIgnore    = "no"
)

// HostKeyCallback verifies server keys against opts.KnownHostsFile.
// Without a file every key is accepted.
func HostKeyCallback(opts *options.Options, logger *slog.Logger) (ssh.HostKeyCallback, error) {
	policy := strings.ToLower(opts.SessionConfig[conf.SSHConfigStrictHostKeyChecking])
	if policy == "" {
		policy = HostKeyAcceptNew
	}
	if opts.KnownHostsFile == "" || policy == HostKeyIgnore {
		logger.DebugWith("Host key verification disabled", slog.F("host", opts.Address()))
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := opts.KnownHostsFile
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create known_hosts directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if wErr := os.WriteFile(path, []byte{}, 0600); wErr != nil {
			return nil, fmt.Errorf("failed to create known_hosts file: %w", wErr)
		}
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := checkKnownHost(path, hostname, remote, key)
		if err == nil {
			return nil
		}
		if !isUnknownHost(err) {
			return fmt.Errorf("host key verification failed for %s (%s): %w",
				hostname, ssh.FingerprintSHA256(key), err)
		}
		if policy == HostKeyStrict {
			return fmt.Errorf("no host key is known for %s: %w", hostname, err)
		}
		return trustHostKey(path, hostname, remote, key, logger)
	}, nil
}

func checkKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	callback, err := knownhosts.New(path)
	if err != nil {
		return fmt.Errorf("failed to read known_hosts: %w", err)
	}
	return callback(hostname, remote, key)
}

// isUnknownHost tells a missing entry apart from a mismatching one
func isUnknownHost(err error) bool {
	var keyErr *knownhosts.KeyError
	return errors.As(err, &keyErr) && len(keyErr.Want) == 0
}

func trustHostKey(path, hostname string, remote net.Addr, key ssh.PublicKey, logger *slog.Logger) error {
	knownHostsMu.Lock()
	defer knownHostsMu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts for writing: %w", err)
	}
	defer func() { _ = f.Close() }()

	if lErr := lockFile(f); lErr != nil {
		return fmt.Errorf("failed to lock known_hosts: %w", lErr)
	}
	defer func() { _ = unlockFile(f) }()

	// Another process may have added it while we waited for the lock
	if cErr := checkKnownHost(path, hostname, remote, key); cErr == nil {
		return nil
	} else if !isUnknownHost(cErr) {
		return cErr
	}

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, wErr := f.WriteString(line + "\n"); wErr != nil {
		return fmt.Errorf("failed to write to known_hosts: %w", wErr)
	}
	logger.WarnWith("Permanently added host key",
		slog.F("host", hostname),
		slog.F("fingerprint", ssh.FingerprintSHA256(key)),
		slog.F("file", path))
	return nil
}
