package server

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SafeConn wraps a WebSocket connection with write synchronization.
//
// gorilla/websocket allows one concurrent writer. The session write pump is
// the normal writer, but close frames can be written from other goroutines,
// so every write goes through the mutex.
type SafeConn struct {
	conn         *websocket.Conn
	mu           sync.Mutex // Protects writes to conn
	writeTimeout time.Duration
}

// NewSafeConn wraps a WebSocket connection with write synchronization
func NewSafeConn(conn *websocket.Conn, writeTimeout time.Duration) *SafeConn {
	return &SafeConn{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// WriteText writes one text frame, bounded by the write timeout
func (sc *SafeConn) WriteText(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.writeTimeout > 0 {
		sc.conn.SetWriteDeadline(time.Now().Add(sc.writeTimeout))
	}
	return sc.conn.WriteMessage(websocket.TextMessage, data)
}

// WriteClose sends a close frame with the given code and reason
func (sc *SafeConn) WriteClose(code int, reason string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	return sc.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// ReadMessage reads the next frame. Reads don't need write synchronization.
// No read deadline is set: liveness is inferred from transport closure.
func (sc *SafeConn) ReadMessage() (int, []byte, error) {
	return sc.conn.ReadMessage()
}

// SetReadLimit bounds the size of inbound frames
func (sc *SafeConn) SetReadLimit(limit int64) {
	sc.conn.SetReadLimit(limit)
}

// Close closes the underlying connection
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
