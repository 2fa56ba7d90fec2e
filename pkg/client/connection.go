package client

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meedsr07/storechat/pkg/protocol"
)

var (
	// ErrAuthRejected means the server refused the token at the handshake
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrConnectionClosed means Close has been called
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotConnected means there is no live connection to send on
	ErrNotConnected = errors.New("not connected")
	// ErrOutgoingFull means frames are queued faster than they can be written
	ErrOutgoingFull = errors.New("outgoing queue full")
)

const writeTimeout = 10 * time.Second

// ConnectionState represents the connection status
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConnectionStateUpdate represents a connection state change
type ConnectionStateUpdate struct {
	State   ConnectionState
	Attempt int
	Err     error
}

// Connection is the single WebSocket connection of an authenticated session
type Connection struct {
	addr   string // Display address (e.g., "ws://server:8080/ws")
	wsURL  *url.URL
	token  string
	dialer *websocket.Dialer

	mu           sync.RWMutex
	conn         *websocket.Conn
	connDone     chan struct{} // closed when the current conn is torn down
	state        ConnectionState
	reconnecting bool
	closed       bool

	// Channels for communication
	incoming    chan protocol.Typed
	outgoing    chan []byte
	errors      chan error
	stateChange chan ConnectionStateUpdate

	// Auto-reconnect settings
	autoReconnect     bool
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
	beforeReconnect   func() error

	// Logging
	logger *log.Logger

	// Shutdown
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewConnection creates a connection to the server at serverURL
// (http://host:port or ws://host:port) authenticating with token
func NewConnection(serverURL, token string) (*Connection, error) {
	u, err := websocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	return &Connection{
		addr:              u.String(),
		wsURL:             u,
		token:             token,
		dialer:            &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		state:             StateDisconnected,
		incoming:          make(chan protocol.Typed, 100),
		outgoing:          make(chan []byte, 100),
		errors:            make(chan error, 10),
		stateChange:       make(chan ConnectionStateUpdate, 10),
		autoReconnect:     true,
		reconnectDelay:    1 * time.Second,
		maxReconnectDelay: 30 * time.Second,
		shutdown:          make(chan struct{}),
	}, nil
}

// websocketURL maps a server base URL to its /ws endpoint
func websocketURL(serverURL string) (*url.URL, error) {
	if !strings.Contains(serverURL, "://") {
		serverURL = "http://" + serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q: missing host", serverURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u, nil
}

// SetLogger sets a logger for debugging connection events
func (c *Connection) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// SetReconnectDelays overrides the backoff bounds
func (c *Connection) SetReconnectDelays(initial, max time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectDelay = initial
	c.maxReconnectDelay = max
}

// DisableAutoReconnect disables automatic reconnection
func (c *Connection) DisableAutoReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoReconnect = false
}

// EnableAutoReconnect enables automatic reconnection
func (c *Connection) EnableAutoReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoReconnect = true
}

// SetBeforeReconnect installs a check run before every reconnect attempt.
// A non-nil error stops reconnecting and is reported on Errors.
func (c *Connection) SetBeforeReconnect(check func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeReconnect = check
}

func (c *Connection) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// endpoint returns the /ws URL carrying the token query parameter
func (c *Connection) endpoint() string {
	u := *c.wsURL
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Connect dials the server. A 401 or 403 at the handshake returns ErrAuthRejected.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if !c.reconnecting {
		c.state = StateConnecting
	}
	c.mu.Unlock()

	c.logf("Connecting to %s", c.addr)
	wsConn, resp, err := c.dialer.Dial(c.endpoint(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		if !c.reconnecting && !c.closed {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: server answered %d", ErrAuthRejected, resp.StatusCode)
		}
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}
	wsConn.SetReadLimit(protocol.MaxFrameSize)

	done := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		wsConn.Close()
		return ErrConnectionClosed
	}
	c.conn = wsConn
	c.connDone = done
	c.state = StateConnected
	c.wg.Add(2)
	c.mu.Unlock()

	go c.readLoop(wsConn, done)
	go c.writeLoop(wsConn, done)

	c.logf("Connected to %s", c.addr)
	c.emit(ConnectionStateUpdate{State: StateConnected})
	return nil
}

// Disconnect closes the current connection without reconnecting
func (c *Connection) Disconnect() {
	c.mu.Lock()
	conn, done := c.conn, c.connDone
	if conn == nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connDone = nil
	c.state = StateDisconnected
	close(done)
	c.mu.Unlock()

	c.logf("Disconnecting from %s (user requested)", c.addr)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()
	c.emit(ConnectionStateUpdate{State: StateDisconnected})
}

// Close shuts down the connection permanently
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return // Already closed
	}
	c.closed = true
	conn, done := c.conn, c.connDone
	c.conn = nil
	c.connDone = nil
	c.state = StateClosed
	c.mu.Unlock()

	close(c.shutdown)
	if conn != nil {
		close(done)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}

	c.wg.Wait()

	c.emit(ConnectionStateUpdate{State: StateClosed})

	// Channels are closed under the lock so late emitters see closed first
	c.mu.Lock()
	close(c.incoming)
	close(c.errors)
	close(c.stateChange)
	c.mu.Unlock()
	c.logf("Connection fully closed")
}

// Send encodes a frame and queues it for the writer
func (c *Connection) Send(frame protocol.Typed) error {
	payload, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	c.mu.RLock()
	closed, connected := c.closed, c.conn != nil
	c.mu.RUnlock()
	if closed {
		return ErrConnectionClosed
	}
	if !connected {
		return ErrNotConnected
	}

	select {
	case c.outgoing <- payload:
		return nil
	default:
		return ErrOutgoingFull
	}
}

// Incoming returns the channel for receiving events from the server
func (c *Connection) Incoming() <-chan protocol.Typed {
	return c.incoming
}

// Errors returns the channel for connection errors
func (c *Connection) Errors() <-chan error {
	return c.errors
}

// StateChanges returns the channel for connection state updates
func (c *Connection) StateChanges() <-chan ConnectionStateUpdate {
	return c.stateChange
}

// IsConnected returns whether the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// GetAddress returns the server address
func (c *Connection) GetAddress() string {
	return c.addr
}

// emit delivers a state update without blocking
func (c *Connection) emit(update ConnectionStateUpdate) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed && update.State != StateClosed {
		return
	}
	select {
	case c.stateChange <- update:
	default:
		c.logf("Dropped state update %v (channel full)", update.State)
	}
}

func (c *Connection) reportError(err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.errors <- err:
	default:
	}
}

// readLoop decodes server events from one transport until it fails
func (c *Connection) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		ev, err := protocol.DecodeServerEvent(data)
		if err != nil {
			c.logf("Dropping undecodable frame: %v", err)
			continue
		}

		c.logf("← RECV: %s", ev.FrameType())

		select {
		case c.incoming <- ev:
		case <-done:
			return
		case <-c.shutdown:
			return
		}
	}
}

// writeLoop writes queued frames to one transport until it is torn down
func (c *Connection) writeLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case payload := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logf("Write error: %v", err)
				c.handleDisconnect(conn, err)
				return
			}
			c.logf("→ SEND: %d bytes", len(payload))
		case <-done:
			return
		case <-c.shutdown:
			return
		}
	}
}

// handleDisconnect tears down conn if it is still current and starts reconnecting
func (c *Connection) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// Already torn down by Disconnect, Close or the other loop
		c.mu.Unlock()
		return
	}
	close(c.connDone)
	c.conn = nil
	c.connDone = nil
	c.state = StateDisconnected
	reconnect := c.autoReconnect
	if reconnect {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	conn.Close()

	c.logf("Disconnected from server: %v", cause)
	disconnectErr := fmt.Errorf("disconnected from server: %w", cause)
	c.reportError(disconnectErr)
	c.emit(ConnectionStateUpdate{State: StateDisconnected, Err: disconnectErr})

	if reconnect {
		c.logf("Auto-reconnect enabled, starting reconnect loop")
		go c.reconnectLoop()
	}
}

// reconnectLoop attempts to reconnect with exponential backoff
func (c *Connection) reconnectLoop() {
	defer c.wg.Done()

	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.state = StateReconnecting
	delay := c.reconnectDelay
	maxDelay := c.maxReconnectDelay
	check := c.beforeReconnect
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 1

	for {
		select {
		case <-c.shutdown:
			c.logf("Reconnect loop cancelled (shutdown)")
			return
		case <-time.After(delay):
		}

		if check != nil {
			if err := check(); err != nil {
				c.logf("Reconnect aborted: %v", err)
				c.stopReconnecting(err)
				return
			}
		}

		c.logf("Reconnect attempt %d to %s", attempt, c.addr)
		c.emit(ConnectionStateUpdate{State: StateReconnecting, Attempt: attempt})

		err := c.Connect()
		if err == nil {
			c.logf("Reconnected successfully after %d attempts", attempt)
			return
		}
		if errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrConnectionClosed) {
			c.logf("Reconnect attempt %d rejected: %v", attempt, err)
			c.stopReconnecting(err)
			return
		}

		c.logf("Reconnect attempt %d failed: %v", attempt, err)

		// Exponential backoff
		delay = delay * 2
		if delay > maxDelay {
			delay = maxDelay
		}
		c.logf("Next reconnect attempt in %v", delay)
		attempt++
	}
}

// stopReconnecting gives up and reports why
func (c *Connection) stopReconnecting(err error) {
	c.mu.Lock()
	if !c.closed {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	if errors.Is(err, ErrConnectionClosed) {
		return
	}
	c.reportError(err)
	c.emit(ConnectionStateUpdate{State: StateDisconnected, Err: err})
}
