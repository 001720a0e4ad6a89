package options

import (
	"testing"
	"time"

	"rshell/pkg/conf"
)

func TestDefaults(t *testing.T) {
	o := New()

	if o.Host != "localhost" || o.Port != 22 {
		t.Errorf("Unexpected address %s", o.Address())
	}
	if o.Timeout != 0 {
		t.Errorf("Expected no timeout by default, got %s", o.Timeout)
	}
	if o.ConnectTimeout != 30*time.Second {
		t.Errorf("Expected 30s connect timeout, got %s", o.ConnectTimeout)
	}
	if o.RetryCount != 5 || o.RetryDelay != 2*time.Second {
		t.Errorf("Unexpected retry policy %d/%s", o.RetryCount, o.RetryDelay)
	}
	if o.Charset != "ISO-8859-15" {
		t.Errorf("Unexpected charset %s", o.Charset)
	}
	if o.EffectivePrompt() != conf.DefaultPrompt || o.HasCustomPrompt() {
		t.Errorf("Unexpected prompt %q", o.EffectivePrompt())
	}
}

func TestFor(t *testing.T) {
	o := For("example.com", "alice", "pw", "", 2222, 0)

	if o.Address() != "example.com:2222" || o.Username != "alice" || o.Password != "pw" {
		t.Errorf("Unexpected options %+v", o)
	}
	if o.Timeout != conf.OnceTimeout {
		t.Errorf("Expected one-shot timeout, got %s", o.Timeout)
	}
}

func TestVariantsDoNotMutate(t *testing.T) {
	base := New(WithSessionConfig("StrictHostKeyChecking", "no"))

	compressed := base.Compressed()
	if compressed.Compress != 5 || base.Compress != 0 {
		t.Errorf("Compressed must copy: base=%d copy=%d", base.Compress, compressed.Compress)
	}

	viaHTTP := base.ViaProxyHTTP("proxy", 0)
	if viaHTTP.Proxy == nil || viaHTTP.Proxy.Port != 80 || viaHTTP.Proxy.Kind != ProxyHTTP {
		t.Errorf("Unexpected HTTP proxy %+v", viaHTTP.Proxy)
	}
	if base.Proxy != nil {
		t.Error("Base options gained a proxy")
	}

	viaSocks := base.ViaProxySOCKS5("proxy", 0)
	if viaSocks.Proxy.Port != 1080 || viaSocks.Proxy.Kind != ProxySOCKS5 {
		t.Errorf("Unexpected SOCKS5 proxy %+v", viaSocks.Proxy)
	}
	if base.ViaProxySOCKS4("proxy", 1090).Proxy.Port != 1090 {
		t.Error("Explicit SOCKS4 port ignored")
	}

	withID := base.AddIdentity(Identity{PrivateKey: "/tmp/key"})
	if len(withID.Identities) != len(base.Identities)+1 {
		t.Errorf("Expected one more identity")
	}

	modified := base.With(WithSessionConfig("MACs", "hmac-sha2-256"))
	if _, ok := base.SessionConfig["MACs"]; ok {
		t.Error("Session config shared between copies")
	}
	if modified.SessionConfig["StrictHostKeyChecking"] != "no" {
		t.Error("Session config lost in copy")
	}
}

func TestParseProxy(t *testing.T) {
	testCases := []struct {
		raw         string
		kind        ProxyKind
		address     string
		user        string
		expectError bool
	}{
		{raw: "http://proxy.local", kind: ProxyHTTP, address: "proxy.local:80"},
		{raw: "socks4://10.0.0.1", kind: ProxySOCKS4, address: "10.0.0.1:1080"},
		{raw: "socks5://bob:pw@10.0.0.1:9050", kind: ProxySOCKS5, address: "10.0.0.1:9050", user: "bob"},
		{raw: "wss://bridge.example.com/ssh", kind: ProxyWebsocket},
		{raw: "ftp://proxy", expectError: true},
		{raw: "socks5://:1080", expectError: true},
		{raw: "http://proxy:99999", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			p, err := ParseProxy(tc.raw)
			if tc.expectError {
				if err == nil {
					t.Errorf("Expected error for '%s'", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if p.Kind != tc.kind {
				t.Errorf("Expected kind %s, got %s", tc.kind, p.Kind)
			}
			if tc.address != "" && p.Address() != tc.address {
				t.Errorf("Expected address %s, got %s", tc.address, p.Address())
			}
			if p.Username != tc.user {
				t.Errorf("Expected user '%s', got '%s'", tc.user, p.Username)
			}
		})
	}
}

func TestSplitTarget(t *testing.T) {
	testCases := []struct {
		target string
		user   string
		host   string
		port   int
		fails  bool
	}{
		{target: "host", host: "host"},
		{target: "root@host", user: "root", host: "host"},
		{target: "root@host:2222", user: "root", host: "host", port: 2222},
		{target: "[::1]:22", host: "::1", port: 22},
		{target: "user@", fails: true},
		{target: "host:abc", fails: true},
	}

	for _, tc := range testCases {
		t.Run(tc.target, func(t *testing.T) {
			user, host, port, err := SplitTarget(tc.target)
			if tc.fails {
				if err == nil {
					t.Errorf("Expected error for '%s'", tc.target)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if user != tc.user || host != tc.host || port != tc.port {
				t.Errorf("Got %q %q %d", user, host, port)
			}
		})
	}
}

func TestFromProfile(t *testing.T) {
	opts, err := FromProfile(conf.Profile{
		Host:       "db",
		Port:       2200,
		User:       "ops",
		Timeout:    time.Minute,
		Prompt:     "$ ",
		Identities: []conf.ProfileIdentity{{Key: "/k", Passphrase: "p"}},
		Proxy:      "socks5://gw:1080",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	o := New(opts...)

	if o.Address() != "db:2200" || o.Username != "ops" || o.Timeout != time.Minute {
		t.Errorf("Unexpected options %+v", o)
	}
	if !o.HasCustomPrompt() || o.EffectivePrompt() != "$ " {
		t.Errorf("Expected custom prompt, got %q", o.Prompt)
	}
	if len(o.Identities) != 1 || o.Identities[0].Passphrase != "p" {
		t.Errorf("Unexpected identities %+v", o.Identities)
	}
	if o.Proxy == nil || o.Proxy.Address() != "gw:1080" {
		t.Errorf("Unexpected proxy %+v", o.Proxy)
	}
}
