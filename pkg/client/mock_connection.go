package client

import (
	"sync"

	"github.com/meedsr07/storechat/pkg/protocol"
)

// MockConnection is a test implementation of ConnectionInterface
type MockConnection struct {
	mu sync.RWMutex

	// State
	state           ConnectionState
	address         string
	autoReconnect   bool
	connectErr      error
	sendErr         error
	beforeReconnect func() error

	// Channels for communication
	incoming    chan protocol.Typed
	errors      chan error
	stateChange chan ConnectionStateUpdate

	// Sent frames for verification
	SentFrames []protocol.Typed
}

// NewMockConnection creates a new mock connection
func NewMockConnection(address string) *MockConnection {
	return &MockConnection{
		state:         StateDisconnected,
		address:       address,
		autoReconnect: true,
		incoming:      make(chan protocol.Typed, 100),
		errors:        make(chan error, 10),
		stateChange:   make(chan ConnectionStateUpdate, 10),
		SentFrames:    make([]protocol.Typed, 0),
	}
}

// Connect simulates connecting to the server
func (m *MockConnection) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectErr != nil {
		return m.connectErr
	}

	m.state = StateConnected
	return nil
}

// Disconnect simulates disconnecting from the server
func (m *MockConnection) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateDisconnected
}

// Close closes the mock connection
func (m *MockConnection) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return
	}
	m.state = StateClosed
	close(m.incoming)
	close(m.errors)
	close(m.stateChange)
}

// IsConnected returns the connection status
func (m *MockConnection) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected
}

// State returns the simulated connection state
func (m *MockConnection) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetAddress returns the server address
func (m *MockConnection) GetAddress() string {
	return m.address
}

// Send records a frame
func (m *MockConnection) Send(frame protocol.Typed) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}
	if m.state != StateConnected {
		return ErrNotConnected
	}

	m.SentFrames = append(m.SentFrames, frame)
	return nil
}

// Incoming returns the incoming event channel
func (m *MockConnection) Incoming() <-chan protocol.Typed {
	return m.incoming
}

// Errors returns the error channel
func (m *MockConnection) Errors() <-chan error {
	return m.errors
}

// StateChanges returns the state change channel
func (m *MockConnection) StateChanges() <-chan ConnectionStateUpdate {
	return m.stateChange
}

// DisableAutoReconnect disables auto-reconnect
func (m *MockConnection) DisableAutoReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = false
}

// EnableAutoReconnect enables auto-reconnect
func (m *MockConnection) EnableAutoReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = true
}

// SetBeforeReconnect records the reconnect check
func (m *MockConnection) SetBeforeReconnect(check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeReconnect = check
}

// Test helper methods

// SetConnectError sets an error to be returned by Connect()
func (m *MockConnection) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// SetSendError sets an error to be returned by Send()
func (m *MockConnection) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// RunBeforeReconnect invokes the installed reconnect check, as a reconnect attempt would
func (m *MockConnection) RunBeforeReconnect() error {
	m.mu.RLock()
	check := m.beforeReconnect
	m.mu.RUnlock()
	if check == nil {
		return nil
	}
	return check()
}

// SimulateEvent simulates receiving an event from the server
func (m *MockConnection) SimulateEvent(ev protocol.Typed) {
	m.incoming <- ev
}

// SimulateError simulates a connection error
func (m *MockConnection) SimulateError(err error) {
	m.errors <- err
}

// SimulateStateChange simulates a connection state change
func (m *MockConnection) SimulateStateChange(update ConnectionStateUpdate) {
	m.mu.Lock()
	m.state = update.State
	m.mu.Unlock()
	m.stateChange <- update
}

// GetSentFrames returns a copy of all frames sent
func (m *MockConnection) GetSentFrames() []protocol.Typed {
	m.mu.RLock()
	defer m.mu.RUnlock()
	frames := make([]protocol.Typed, len(m.SentFrames))
	copy(frames, m.SentFrames)
	return frames
}

// ClearSentFrames clears the sent frames history
func (m *MockConnection) ClearSentFrames() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentFrames = make([]protocol.Typed, 0)
}
