package conf

import (
	"crypto/tls"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

var DefaultWebSocketDialer = &websocket.Dialer{
	HandshakeTimeout: Timeout,
	// Use Default Buffer Size
	ReadBufferSize:  0,
	WriteBufferSize: 0,
	TLSClientConfig: &tls.Config{},
}

// FormatToWS rewrites http(s) URLs to their websocket scheme
func FormatToWS(u *url.URL) (*url.URL, error) {
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	case "":
		u.Scheme = "ws"
	default:
		return u, fmt.Errorf("unknown websocket url scheme \"%s\"", u.Scheme)
	}
	return u, nil
}
