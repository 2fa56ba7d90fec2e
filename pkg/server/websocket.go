package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/meedsr07/storechat/pkg/auth"
	"github.com/meedsr07/storechat/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Bearer token in the query authenticates; cookies are never used
		return true
	},
}

// HandleWebSocket authenticates the token query parameter and, only if it
// verifies, upgrades the request and runs the connection until it closes
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.beginSession() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()

	principal, err := s.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		s.metrics.RecordAuthRejected("websocket")
		switch {
		case auth.IsAuthRejected(err):
			debugLog.Printf("WebSocket: rejected handshake from %s: %v", r.RemoteAddr, err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		case errors.Is(err, auth.ErrUnknownPrincipal):
			debugLog.Printf("WebSocket: unknown principal from %s", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			errorLog.Printf("WebSocket: token verification failed: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response
		debugLog.Printf("WebSocket: upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	conn := NewSafeConn(wsConn, s.config.WriteTimeout)
	conn.SetReadLimit(protocol.MaxFrameSize)

	sess := NewSession(s.nextSessionID.Add(1), principal, conn, s.config.SendQueueSize)
	debugLog.Printf("WebSocket: session %d opened for principal %d (%s) from %s",
		sess.ID, principal.ID, principal.Handle, sess.RemoteAddr)

	s.registry.Register(principal.ID, sess)

	// Registered after Stop took its snapshot of the registry
	if s.isStopping() {
		sess.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
	}

	s.readLoop(sess)

	s.registry.Release(principal.ID, sess)
	sess.Close()
	debugLog.Printf("WebSocket: session %d closed for principal %d", sess.ID, principal.ID)
}

// readLoop handles frames from one connection in receipt order
func (s *Server) readLoop(sess *Session) {
	for {
		msgType, data, err := sess.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debugLog.Printf("Session %d: read error: %v", sess.ID, err)
			}
			return
		}

		if msgType != websocket.TextMessage {
			s.sendError(sess, protocol.ErrCodeInvalidFormat, "only text frames are accepted")
			continue
		}

		s.handleFrame(sess, data)
	}
}

// handleFrame dispatches a single inbound frame
func (s *Server) handleFrame(sess *Session, data []byte) {
	frameType, err := protocol.PeekType(data)
	if err != nil {
		s.metrics.RecordMalformedFrame()
		errorLog.Printf("Session %d: malformed frame from principal %d: %v", sess.ID, sess.Principal.ID, err)
		s.sendError(sess, protocol.ErrCodeInvalidFormat, err.Error())
		return
	}

	switch frameType {
	case protocol.TypeChatMessage:
		s.metrics.RecordFrameReceived(frameType)
		s.handleChatMessage(sess, data)
	default:
		s.metrics.RecordFrameReceived("unknown")
		s.sendError(sess, protocol.ErrCodeUnknownType, "unknown frame type: "+frameType)
	}
}

func (s *Server) handleChatMessage(sess *Session, data []byte) {
	frame, err := protocol.DecodeChatMessage(data)
	if err == nil {
		_, err = s.relay.HandleSend(sess, sess.Principal.ID, frame)
	}
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, protocol.ErrMessageTooLong):
		s.metrics.RecordMalformedFrame()
		s.sendError(sess, protocol.ErrCodeMessageTooLong, err.Error())
	case errors.Is(err, protocol.ErrInvalidTarget):
		s.metrics.RecordMalformedFrame()
		s.sendError(sess, protocol.ErrCodeInvalidTarget, err.Error())
	case errors.Is(err, protocol.ErrMalformedFrame):
		s.metrics.RecordMalformedFrame()
		errorLog.Printf("Session %d: malformed CHAT_MESSAGE from principal %d: %v", sess.ID, sess.Principal.ID, err)
		s.sendError(sess, protocol.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, ErrForbidden):
		s.sendError(sess, protocol.ErrCodeNotGroupMember, err.Error())
	case errors.Is(err, ErrNotFound):
		s.sendError(sess, protocol.ErrCodeNotFound, err.Error())
	default:
		errorLog.Printf("Session %d: failed to relay message: %v", sess.ID, err)
		s.sendError(sess, protocol.ErrCodeDatabaseError, "failed to send message")
	}
}

// sendError sends an ERROR frame; the connection stays open
func (s *Server) sendError(sess *Session, code int, message string) {
	payload, err := protocol.Encode(&protocol.ErrorFrame{Code: code, Message: message})
	if err != nil {
		errorLog.Printf("Failed to encode ERROR frame: %v", err)
		return
	}
	if err := sess.Send(payload); err != nil {
		debugLog.Printf("Session %d: failed to send ERROR frame: %v", sess.ID, err)
		return
	}
	s.metrics.RecordFrameSent(protocol.TypeError)
}
