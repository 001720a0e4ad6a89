package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"rshell/pkg/conf"
	"rshell/pkg/options"
	"rshell/pkg/slog"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AuthMethods returns the authentication methods built from opts, in the
// order given by the PreferredAuthentications session setting.
// Unreadable identity files are skipped, undecryptable ones are errors.
func AuthMethods(opts *options.Options, logger *slog.Logger) ([]ssh.AuthMethod, error) {
	signers, sErr := loadSigners(opts, logger)
	if sErr != nil {
		return nil, sErr
	}

	var agentSigners func() ([]ssh.Signer, error)
	if opts.UseAgent {
		agentSigners = agentCallback(logger)
	}

	available := map[string]ssh.AuthMethod{}
	if len(signers) > 0 || agentSigners != nil {
		available["publickey"] = ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			all := signers
			if agentSigners != nil {
				if fromAgent, aErr := agentSigners(); aErr == nil {
					all = append(fromAgent, signers...)
				}
			}
			return all, nil
		})
	}
	if opts.Password != "" {
		password := opts.Password
		available["password"] = ssh.Password(password)
		available["keyboard-interactive"] = ssh.KeyboardInteractive(
			func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			})
	}

	preferred := opts.SessionConfig[conf.SSHConfigPreferredAuthentications]
	if preferred == "" {
		preferred = conf.DefaultPreferredAuthentications
	}
	var methods []ssh.AuthMethod
	for _, name := range strings.Split(preferred, ",") {
		if m, ok := available[strings.TrimSpace(name)]; ok {
			methods = append(methods, m)
			delete(available, strings.TrimSpace(name))
		}
	}
	if len(methods) == 0 {
		logger.WarnWith("No authentication method available", slog.F("host", opts.Address()))
	}
	return methods, nil
}

func loadSigners(opts *options.Options, logger *slog.Logger) ([]ssh.Signer, error) {
	var signers []ssh.Signer
	for _, id := range opts.Identities {
		if id.PrivateKey == "" {
			continue
		}
		pem, rErr := os.ReadFile(id.PrivateKey)
		if rErr != nil {
			logger.DebugWith("Skipping identity", slog.F("key", id.PrivateKey), slog.F("err", rErr))
			continue
		}
		passphrase := id.Passphrase
		if passphrase == "" {
			passphrase = opts.Passphrase
		}
		signer, pErr := ParseIdentity(pem, passphrase)
		if pErr != nil {
			return nil, fmt.Errorf("failed to load identity %s: %w", id.PrivateKey, pErr)
		}
		logger.DebugWith("Loaded identity",
			slog.F("key", id.PrivateKey),
			slog.F("fingerprint", ssh.FingerprintSHA256(signer.PublicKey())))
		signers = append(signers, signer)
	}
	return signers, nil
}

// ParseIdentity parses a PEM private key, decrypting it with passphrase when protected
func ParseIdentity(pem []byte, passphrase string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(pem)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("private key is encrypted and no passphrase was given: %w", err)
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}
	return signer, nil
}

func agentCallback(logger *slog.Logger) func() ([]ssh.Signer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		logger.DebugWith("SSH agent requested but SSH_AUTH_SOCK is not set")
		return nil
	}
	return func() ([]ssh.Signer, error) {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			logger.WarnWith("Failed to reach SSH agent", slog.F("socket", sock), slog.F("err", err))
			return nil, err
		}
		return agent.NewClient(conn).Signers()
	}
}
