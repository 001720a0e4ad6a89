// Package options holds the immutable connection settings shared by every
// component of a remote handle.
package options

import (
	"fmt"
	"maps"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"rshell/pkg/conf"
)

// Identity is a private key file with an optional dedicated passphrase
type Identity struct {
	PrivateKey string
	Passphrase string
}

type ProxyKind string

const (
	ProxyHTTP      ProxyKind = "http"
	ProxySOCKS4    ProxyKind = "socks4"
	ProxySOCKS5    ProxyKind = "socks5"
	ProxyWebsocket ProxyKind = "ws"
)

// Proxy describes how the TCP stream to the SSH server is obtained.
// For ProxyWebsocket, URL is the websocket endpoint bridging to the server.
type Proxy struct {
	Kind     ProxyKind
	Host     string
	Port     int
	Username string
	Password string
	URL      string
}

func (p *Proxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Options is never mutated once built, variants return modified copies
type Options struct {
	Host           string
	Port           int
	Username       string
	Password       string
	Passphrase     string
	Name           string
	Prompt         string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	RetryCount     int
	RetryDelay     time.Duration
	Identities     []Identity
	UseAgent       bool
	Charset        string
	Compress       int
	ExecWithPty    bool
	Ciphers        []string
	Proxy          *Proxy
	SessionConfig  map[string]string
	OpenSSHConfig  string
	KnownHostsFile string
}

// Option customizes Options at construction time
type Option func(*Options)

// New returns the defaults with opts applied
func New(opts ...Option) *Options {
	o := &Options{
		Host:           "localhost",
		Port:           conf.DefaultPort,
		Username:       currentUser(),
		ConnectTimeout: conf.ConnectTimeout,
		RetryCount:     conf.RetryCount,
		RetryDelay:     conf.RetryDelay,
		Identities:     DefaultIdentities(),
		Charset:        conf.DefaultCharset,
		Ciphers:        slices.Clone(conf.DefaultCiphers),
		SessionConfig:  map[string]string{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// For builds options the way the one-shot helpers do, an empty username
// meaning the current user and a zero timeout meaning conf.OnceTimeout
func For(host, username, password, passphrase string, port int, timeout time.Duration) *Options {
	if timeout == 0 {
		timeout = conf.OnceTimeout
	}
	opts := []Option{WithHost(host, port), WithPassword(password), WithPassphrase(passphrase), WithTimeout(timeout)}
	if username != "" {
		opts = append(opts, WithUsername(username))
	}
	return New(opts...)
}

func WithHost(host string, port int) Option {
	return func(o *Options) {
		if host != "" {
			o.Host = host
		}
		if port > 0 {
			o.Port = port
		}
	}
}

func WithUsername(username string) Option {
	return func(o *Options) { o.Username = username }
}

func WithPassword(password string) Option {
	return func(o *Options) { o.Password = password }
}

func WithPassphrase(passphrase string) Option {
	return func(o *Options) { o.Passphrase = passphrase }
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) { o.Timeout = timeout }
}

func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = timeout }
}

func WithRetry(count int, delay time.Duration) Option {
	return func(o *Options) {
		o.RetryCount = count
		o.RetryDelay = delay
	}
}

func WithPrompt(prompt string) Option {
	return func(o *Options) { o.Prompt = prompt }
}

func WithCharset(charset string) Option {
	return func(o *Options) { o.Charset = charset }
}

func WithExecPty(enabled bool) Option {
	return func(o *Options) { o.ExecWithPty = enabled }
}

func WithAgent(enabled bool) Option {
	return func(o *Options) { o.UseAgent = enabled }
}

// WithIdentities replaces the identity list
func WithIdentities(ids ...Identity) Option {
	return func(o *Options) { o.Identities = slices.Clone(ids) }
}

func WithKnownHosts(path string) Option {
	return func(o *Options) { o.KnownHostsFile = path }
}

func WithOpenSSHConfig(path string) Option {
	return func(o *Options) { o.OpenSSHConfig = path }
}

func WithProxy(p *Proxy) Option {
	return func(o *Options) {
		if p == nil {
			o.Proxy = nil
			return
		}
		cp := *p
		o.Proxy = &cp
	}
}

func WithSessionConfig(key, value string) Option {
	return func(o *Options) { o.SessionConfig[key] = value }
}

func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// Clone returns a deep copy
func (o *Options) Clone() *Options {
	cp := *o
	cp.Identities = slices.Clone(o.Identities)
	cp.Ciphers = slices.Clone(o.Ciphers)
	cp.SessionConfig = maps.Clone(o.SessionConfig)
	if cp.SessionConfig == nil {
		cp.SessionConfig = map[string]string{}
	}
	if o.Proxy != nil {
		p := *o.Proxy
		cp.Proxy = &p
	}
	return &cp
}

// With returns a copy with opts applied
func (o *Options) With(opts ...Option) *Options {
	cp := o.Clone()
	for _, opt := range opts {
		opt(cp)
	}
	return cp
}

func (o *Options) Compressed() *Options {
	cp := o.Clone()
	cp.Compress = conf.CompressLevel
	return cp
}

// ViaProxyHTTP tunnels through an HTTP CONNECT proxy, port 0 meaning 80
func (o *Options) ViaProxyHTTP(host string, port int) *Options {
	return o.viaProxy(ProxyHTTP, host, port, conf.DefaultHTTPProxyPort)
}

// ViaProxySOCKS4 tunnels through a SOCKS4 proxy, port 0 meaning 1080
func (o *Options) ViaProxySOCKS4(host string, port int) *Options {
	return o.viaProxy(ProxySOCKS4, host, port, conf.DefaultSocksProxyPort)
}

// ViaProxySOCKS5 tunnels through a SOCKS5 proxy, port 0 meaning 1080
func (o *Options) ViaProxySOCKS5(host string, port int) *Options {
	return o.viaProxy(ProxySOCKS5, host, port, conf.DefaultSocksProxyPort)
}

// ViaWebsocket carries the SSH stream over a websocket bridge
func (o *Options) ViaWebsocket(url string) *Options {
	cp := o.Clone()
	cp.Proxy = &Proxy{Kind: ProxyWebsocket, URL: url}
	return cp
}

func (o *Options) viaProxy(kind ProxyKind, host string, port, defPort int) *Options {
	if port <= 0 {
		port = defPort
	}
	cp := o.Clone()
	cp.Proxy = &Proxy{Kind: kind, Host: host, Port: port}
	return cp
}

func (o *Options) AddIdentity(id Identity) *Options {
	cp := o.Clone()
	cp.Identities = append(cp.Identities, id)
	return cp
}

// Address returns host:port of the SSH server
func (o *Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// HasCustomPrompt reports whether the caller takes care of the remote prompt
func (o *Options) HasCustomPrompt() bool {
	return o.Prompt != ""
}

// EffectivePrompt returns the prompt framing shell responses
func (o *Options) EffectivePrompt() string {
	if o.Prompt != "" {
		return o.Prompt
	}
	return conf.DefaultPrompt
}

func (o *Options) String() string {
	if o.Name != "" {
		return o.Name
	}
	return fmt.Sprintf("%s@%s", o.Username, o.Address())
}

// DefaultIdentities lists the usual private key files under ~/.ssh
func DefaultIdentities() []Identity {
	dir := conf.UserSSHDir()
	if dir == "" {
		return nil
	}
	ids := make([]Identity, 0, len(conf.DefaultIdentityFiles))
	for _, name := range conf.DefaultIdentityFiles {
		ids = append(ids, Identity{PrivateKey: filepath.Join(dir, name)})
	}
	return ids
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return os.Getenv("USERNAME")
}
