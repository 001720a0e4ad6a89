package conf

import "time"

const (
	// Timeout acts as the general Timeout default value
	Timeout = 10 * time.Second

	// ConnectTimeout bounds dialing and the SSH handshake
	ConnectTimeout = 30 * time.Second

	// OnceTimeout is the per operation timeout used by the one-shot helpers
	OnceTimeout = 5 * time.Minute

	// Keepalive acts as the general KeepAlive default value
	Keepalive = 5 * time.Second

	// KeepaliveCountMax is the number of unanswered keepalives before giving up
	KeepaliveCountMax = 5

	// RetryCount and RetryDelay control dial retries on network errors
	RetryCount = 5
	RetryDelay = 2 * time.Second

	// BreakGrace is how long a timed out shell waits for output after Ctrl-C
	BreakGrace = 5 * time.Second

	// DefaultPort is the standard SSH port
	DefaultPort = 22

	// DefaultCharset is used to decode remote output
	DefaultCharset = "ISO-8859-15"

	// DefaultPrompt is set as PS1 on initialized shells
	DefaultPrompt = "_T-:+"

	// ReadyPrefix prefixes the marker echoed at the end of the shell init script
	ReadyPrefix = "ready-"

	// ResponseQueueSize is the capacity of the shell frame hand-off queue
	ResponseQueueSize = 10

	// ReadBufferSize is the chunk size used by the stream readers
	ReadBufferSize = 16 * 1024

	// DefaultFileMode is the mode announced on SCP pushes
	DefaultFileMode = 0644

	// CompressLevel is applied by Options.Compressed
	CompressLevel = 5

	// Proxy default ports

	DefaultHTTPProxyPort  = 80
	DefaultSocksProxyPort = 1080

	// Terminal size requested for PTYs

	DefaultTerminalWidth  = 500
	DefaultTerminalHeight = 24
	DefaultTerminalType   = "dumb"
)

// Control bytes written to channels
const (
	KeyBreak = 0x03
	KeyEOT   = 0x04
)

// DefaultIdentityFiles are looked up under ~/.ssh, in order
var DefaultIdentityFiles = []string{
	"identity",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
	"id_rsa",
}

// DefaultCiphers is the cipher preference list offered when none is configured
var DefaultCiphers = []string{
	"aes128-ctr",
	"aes192-ctr",
	"aes256-ctr",
	"aes128-gcm@openssh.com",
	"aes256-gcm@openssh.com",
	"chacha20-poly1305@openssh.com",
}
