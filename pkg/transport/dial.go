package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"rshell/pkg/conf"
	"rshell/pkg/options"
	"rshell/pkg/slog"

	"golang.org/x/crypto/ssh"
)

// Dial resolves OpenSSH config aliases, obtains a stream to the server
// (directly, through a proxy or over a websocket), retrying network errors
// RetryCount times, then authenticates. Handshake and auth errors are not retried.
func Dial(opts *options.Options, logger *slog.Logger) (*Client, error) {
	resolved, rErr := ApplyOpenSSHConfig(opts)
	if rErr != nil {
		return nil, rErr
	}
	opts = resolved
	if opts.Compress > 0 {
		logger.DebugWith("Compression is not negotiated, ignoring level", slog.F("level", opts.Compress))
	}

	cfg, cErr := ClientConfig(opts, logger)
	if cErr != nil {
		return nil, cErr
	}

	conn, dErr := dialWithRetry(opts, logger)
	if dErr != nil {
		return nil, dErr
	}

	if opts.ConnectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(opts.ConnectTimeout))
	}
	sshConn, chans, reqs, hErr := ssh.NewClientConn(conn, opts.Address(), cfg)
	if hErr != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", opts.Address(), hErr)
	}
	_ = conn.SetDeadline(time.Time{})

	logger.DebugWith("SSH connection established",
		slog.F("host", opts.Address()),
		slog.F("user", opts.Username),
		slog.F("server_version", string(sshConn.ServerVersion())))

	return newClient(ssh.NewClient(sshConn, chans, reqs), opts, logger), nil
}

// ClientConfig builds the x/crypto/ssh configuration from opts
func ClientConfig(opts *options.Options, logger *slog.Logger) (*ssh.ClientConfig, error) {
	auth, aErr := AuthMethods(opts, logger)
	if aErr != nil {
		return nil, aErr
	}
	hostKeyCallback, hErr := HostKeyCallback(opts, logger)
	if hErr != nil {
		return nil, fmt.Errorf("failed to setup host key verification: %w", hErr)
	}

	cfg := &ssh.ClientConfig{
		User:            opts.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.ConnectTimeout,
	}
	cfg.Ciphers = opts.Ciphers
	if v := sessionList(opts, conf.SSHConfigKexAlgorithms); len(v) > 0 {
		cfg.KeyExchanges = v
	}
	if v := sessionList(opts, conf.SSHConfigMACs); len(v) > 0 {
		cfg.MACs = v
	}
	if v := sessionList(opts, conf.SSHConfigHostKeyAlgorithms); len(v) > 0 {
		cfg.HostKeyAlgorithms = v
	}
	return cfg, nil
}

func dialWithRetry(opts *options.Options, logger *slog.Logger) (net.Conn, error) {
	attempts := opts.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := dialStream(opts)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == attempts {
			break
		}
		logger.WarnWith("Connection attempt failed, retrying",
			slog.F("host", opts.Address()),
			slog.F("attempt", attempt),
			slog.F("delay", opts.RetryDelay),
			slog.F("err", err))
		time.Sleep(opts.RetryDelay)
	}
	return nil, fmt.Errorf("failed to dial %s: %w", opts.Address(), lastErr)
}

func dialStream(opts *options.Options) (net.Conn, error) {
	ctx := context.Background()
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	if opts.Proxy == nil {
		d := &net.Dialer{Timeout: opts.ConnectTimeout}
		return d.DialContext(ctx, "tcp", opts.Address())
	}
	return dialProxy(ctx, opts.Proxy, opts.Address(), opts.ConnectTimeout)
}

// isRetryable keeps retries to transient network failures
func isRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, transient := range []string{"connection refused", "connection reset", "no route to host", "i/o timeout"} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}

func sessionList(opts *options.Options, key string) []string {
	raw := strings.TrimSpace(opts.SessionConfig[key])
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// sessionDuration reads a seconds value, or a Go duration string
func sessionDuration(opts *options.Options, key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(opts.SessionConfig[key])
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return def
}

func sessionInt(opts *options.Options, key string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(opts.SessionConfig[key])); err == nil {
		return v
	}
	return def
}
