package sconn

import (
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// ChannelConn exposes an ssh.Channel as a net.Conn. Deadlines are not
// supported by SSH channels and are accepted as no-ops.
type ChannelConn struct {
	ssh.Channel
	localAddr  net.Addr
	remoteAddr net.Addr
}

// channelAddr stands in when the caller has no better address to report
type channelAddr string

func (a channelAddr) Network() string {
	return "ssh"
}

func (a channelAddr) String() string {
	return string(a)
}

func (cc *ChannelConn) LocalAddr() net.Addr {
	return cc.localAddr
}

func (cc *ChannelConn) RemoteAddr() net.Addr {
	return cc.remoteAddr
}

func (cc *ChannelConn) SetDeadline(t time.Time) error {
	return nil
}

func (cc *ChannelConn) SetReadDeadline(t time.Time) error {
	return nil
}

func (cc *ChannelConn) SetWriteDeadline(t time.Time) error {
	return nil
}

// SSHChannelToNetConn wraps channel, reporting local and remote as its
// addresses. Nil addresses are replaced by placeholders naming the channel.
func SSHChannelToNetConn(channel ssh.Channel, local, remote net.Addr) net.Conn {
	if local == nil {
		local = channelAddr("local")
	}
	if remote == nil {
		remote = channelAddr("remote")
	}
	return &ChannelConn{
		Channel:    channel,
		localAddr:  local,
		remoteAddr: remote,
	}
}
