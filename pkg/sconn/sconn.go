package sconn

import (
	"net"
	"time"

	"github.com/gorilla/websocket"
)

type wsConn struct {
	*websocket.Conn
	buff []byte
}

func (w *wsConn) Read(p []byte) (int, error) {
	var src []byte

	if len(w.buff) > 0 {
		src = w.buff
		w.buff = nil
	} else if _, pConn, err := w.Conn.ReadMessage(); err == nil {
		src = pConn
	} else {
		return 0, err
	}

	n := copy(p, src)
	if n < len(src) {
		// keep what did not fit for the next Read
		w.buff = append([]byte(nil), src[n:]...)
	}
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) SetDeadline(t time.Time) error {
	if err := w.SetReadDeadline(t); err != nil {
		return err
	}
	return w.SetWriteDeadline(t)
}

// WsConnToNetConn converts a websocket.Conn into a net.Conn carrying
// the raw SSH stream as binary messages
func WsConnToNetConn(websocketConn *websocket.Conn) net.Conn {
	return &wsConn{
		Conn: websocketConn,
	}
}
