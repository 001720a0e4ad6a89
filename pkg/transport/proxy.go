package transport

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"rshell/pkg/conf"
	"rshell/pkg/options"
	"rshell/pkg/sconn"

	"golang.org/x/net/proxy"
)

func dialProxy(ctx context.Context, p *options.Proxy, target string, timeout time.Duration) (net.Conn, error) {
	if p.Kind == options.ProxyWebsocket {
		return dialWebsocket(ctx, p.URL)
	}

	d := &net.Dialer{Timeout: timeout}
	switch p.Kind {
	case options.ProxySOCKS5:
		var auth *proxy.Auth
		if p.Username != "" {
			auth = &proxy.Auth{User: p.Username, Password: p.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", p.Address(), auth, d)
		if err != nil {
			return nil, fmt.Errorf("failed to setup socks5 proxy: %w", err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, "tcp", target)
		}
		return dialer.Dial("tcp", target)
	case options.ProxySOCKS4, options.ProxyHTTP:
		conn, err := d.DialContext(ctx, "tcp", p.Address())
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		if p.Kind == options.ProxySOCKS4 {
			err = socks4Connect(conn, target, p.Username)
		} else {
			conn, err = httpConnect(conn, target, p)
		}
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		_ = conn.SetDeadline(time.Time{})
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported proxy kind %q", p.Kind)
	}
}

func dialWebsocket(ctx context.Context, rawURL string) (net.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse websocket url: %w", err)
	}
	if u, err = conf.FormatToWS(u); err != nil {
		return nil, err
	}
	wsConn, resp, dErr := conf.DefaultWebSocketDialer.DialContext(ctx, u.String(), http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if dErr != nil {
		return nil, fmt.Errorf("failed to open websocket to %s: %w", u.String(), dErr)
	}
	return sconn.WsConnToNetConn(wsConn), nil
}

// SOCKS4 reply codes
const (
	socks4Version    = 0x04
	socks4CmdConnect = 0x01
	socks4Granted    = 0x5a
)

// socks4Connect issues a CONNECT, falling back to SOCKS4a when target is a name
func socks4Connect(conn net.Conn, target, userID string) error {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q", portStr)
	}

	req := []byte{socks4Version, socks4CmdConnect, 0, 0}
	binary.BigEndian.PutUint16(req[2:], uint16(port))

	var domain string
	if ip := net.ParseIP(host).To4(); ip != nil {
		req = append(req, ip...)
	} else {
		req = append(req, 0, 0, 0, 1)
		domain = host
	}
	req = append(req, []byte(userID)...)
	req = append(req, 0)
	if domain != "" {
		req = append(req, []byte(domain)...)
		req = append(req, 0)
	}
	if _, err = conn.Write(req); err != nil {
		return fmt.Errorf("failed to write socks4 request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err = io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("failed to read socks4 response: %w", err)
	}
	if resp[1] != socks4Granted {
		return fmt.Errorf("socks4 proxy rejected connection to %s with code 0x%02x", target, resp[1])
	}
	return nil
}

// bufferedConn keeps bytes the HTTP reader consumed past the CONNECT response
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func httpConnect(conn net.Conn, target string, p *options.Proxy) (net.Conn, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: http.Header{},
	}
	if p.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(p.Username + ":" + p.Password))
		req.Header.Set("Proxy-Authorization", "Basic "+creds)
	}
	if err := req.Write(conn); err != nil {
		return conn, fmt.Errorf("failed to write CONNECT request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return conn, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return conn, errors.New("http proxy refused CONNECT: " + resp.Status)
	}
	return &bufferedConn{Conn: conn, r: br}, nil
}
