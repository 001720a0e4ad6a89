package options

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"rshell/pkg/conf"
)

// ParseProxy reads scheme://[user:pass@]host[:port] for http, socks4 and
// socks5 proxies, and ws:// or wss:// URLs for websocket bridges
func ParseProxy(raw string) (*Proxy, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proxy %q: %w", raw, err)
	}

	p := &Proxy{}
	defPort := conf.DefaultSocksProxyPort
	switch strings.ToLower(u.Scheme) {
	case "http":
		p.Kind = ProxyHTTP
		defPort = conf.DefaultHTTPProxyPort
	case "socks4":
		p.Kind = ProxySOCKS4
	case "socks5", "socks5h":
		p.Kind = ProxySOCKS5
	case "ws", "wss":
		return &Proxy{Kind: ProxyWebsocket, URL: raw}, nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	p.Host = u.Hostname()
	if p.Host == "" {
		return nil, fmt.Errorf("proxy %q has no host", raw)
	}
	p.Port = defPort
	if portStr := u.Port(); portStr != "" {
		port, pErr := strconv.Atoi(portStr)
		if pErr != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid proxy port %q", portStr)
		}
		p.Port = port
	}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

// SplitTarget parses [user@]host[:port]
func SplitTarget(target string) (username, host string, port int, err error) {
	if at := strings.LastIndex(target, "@"); at >= 0 {
		username = target[:at]
		target = target[at+1:]
	}
	host = target
	if h, p, sErr := net.SplitHostPort(target); sErr == nil {
		host = h
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", "", 0, fmt.Errorf("invalid port in %q", target)
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("missing host in %q", target)
	}
	return username, host, port, nil
}

// FromEnv maps RSHELL_* settings to options
func FromEnv(env *conf.Env) ([]Option, error) {
	if env == nil {
		return nil, nil
	}
	opts := []Option{
		WithHost(env.Host, env.Port),
		WithTimeout(env.Timeout),
		WithConnectTimeout(env.ConnectTimeout),
		WithAgent(env.UseAgent),
	}
	if env.User != "" {
		opts = append(opts, WithUsername(env.User))
	}
	if env.Password != "" {
		opts = append(opts, WithPassword(env.Password))
	}
	if env.Passphrase != "" {
		opts = append(opts, WithPassphrase(env.Passphrase))
	}
	if env.Charset != "" {
		opts = append(opts, WithCharset(env.Charset))
	}
	if env.KnownHosts != "" {
		opts = append(opts, WithKnownHosts(env.KnownHosts))
	}
	if env.SSHConfig != "" {
		opts = append(opts, WithOpenSSHConfig(env.SSHConfig))
	}
	if len(env.Identity) > 0 {
		ids := make([]Identity, 0, len(env.Identity))
		for _, key := range env.Identity {
			ids = append(ids, Identity{PrivateKey: key})
		}
		opts = append(opts, WithIdentities(ids...))
	}
	if env.Proxy != "" {
		p, err := ParseProxy(env.Proxy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithProxy(p))
	}
	return opts, nil
}

// FromProfile maps a profile entry to options, zero values leaving defaults untouched
func FromProfile(p conf.Profile) ([]Option, error) {
	opts := []Option{WithHost(p.Host, p.Port)}
	if p.User != "" {
		opts = append(opts, WithUsername(p.User))
	}
	if p.Password != "" {
		opts = append(opts, WithPassword(p.Password))
	}
	if p.Passphrase != "" {
		opts = append(opts, WithPassphrase(p.Passphrase))
	}
	if p.Timeout > 0 {
		opts = append(opts, WithTimeout(p.Timeout))
	}
	if p.ConnectTimeout > 0 {
		opts = append(opts, WithConnectTimeout(p.ConnectTimeout))
	}
	if p.Charset != "" {
		opts = append(opts, WithCharset(p.Charset))
	}
	if p.Prompt != "" {
		opts = append(opts, WithPrompt(p.Prompt))
	}
	if p.KnownHosts != "" {
		opts = append(opts, WithKnownHosts(p.KnownHosts))
	}
	if p.SSHConfig != "" {
		opts = append(opts, WithOpenSSHConfig(p.SSHConfig))
	}
	if p.ExecPty {
		opts = append(opts, WithExecPty(true))
	}
	if p.UseAgent {
		opts = append(opts, WithAgent(true))
	}
	if len(p.Identities) > 0 {
		ids := make([]Identity, 0, len(p.Identities))
		for _, id := range p.Identities {
			ids = append(ids, Identity{PrivateKey: id.Key, Passphrase: id.Passphrase})
		}
		opts = append(opts, WithIdentities(ids...))
	}
	for k, v := range p.SessionConfig {
		opts = append(opts, WithSessionConfig(k, v))
	}
	if p.Proxy != "" {
		proxy, err := ParseProxy(p.Proxy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithProxy(proxy))
	}
	return opts, nil
}
