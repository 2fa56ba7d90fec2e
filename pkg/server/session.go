package server

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/meedsr07/storechat/pkg/auth"
)

var (
	// ErrSendBufferFull means the client is not draining its frames fast enough
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrSessionClosed means the session has already been closed
	ErrSessionClosed = errors.New("session closed")
)

// Session represents one authenticated WebSocket connection
type Session struct {
	ID         uint64         // Server-local connection sequence number
	Principal  auth.Principal // Fixed for the life of the connection
	Conn       *SafeConn
	RemoteAddr string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession creates a session and starts its write pump
func NewSession(id uint64, principal auth.Principal, conn *SafeConn, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 64
	}
	sess := &Session{
		ID:         id,
		Principal:  principal,
		Conn:       conn,
		RemoteAddr: conn.RemoteAddr().String(),
		send:       make(chan []byte, queueSize),
		done:       make(chan struct{}),
	}
	go sess.writePump()
	return sess
}

// Send queues a frame for the write pump without blocking
func (s *Session) Send(frame []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump and closes the transport. Safe to call repeatedly.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.Conn.Close()
	})
	return err
}

// CloseWithReason sends a close frame before closing
func (s *Session) CloseWithReason(code int, reason string) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	s.Conn.WriteClose(code, reason)
	return s.Close()
}

// Done is closed once the session has been closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// writePump drains the send queue to the socket in FIFO order
func (s *Session) writePump() {
	for {
		select {
		case frame := <-s.send:
			if err := s.Conn.WriteText(frame); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					debugLog.Printf("Session %d: write failed: %v", s.ID, err)
				}
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}
