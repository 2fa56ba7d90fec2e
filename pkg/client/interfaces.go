package client

import (
	"github.com/meedsr07/storechat/pkg/protocol"
)

// ConnectionInterface defines the interface for client connections
// This allows for mocking in tests while the real Connection implements all these methods
type ConnectionInterface interface {
	// Connection management
	Connect() error
	Disconnect()
	Close()
	IsConnected() bool
	State() ConnectionState
	GetAddress() string

	// Message sending
	Send(frame protocol.Typed) error

	// Channels for receiving data
	Incoming() <-chan protocol.Typed
	Errors() <-chan error
	StateChanges() <-chan ConnectionStateUpdate

	// Configuration
	DisableAutoReconnect()
	EnableAutoReconnect()
	SetBeforeReconnect(check func() error)
}

// StateInterface defines the interface for client state persistence
// This allows for mocking in tests while the real State implements all these methods
type StateInterface interface {
	// Configuration
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	// Username remembered for the login prompt
	GetLastUsername() string
	SetLastUsername(username string) error

	// Login credentials and session tag
	SaveLogin(creds Credentials) (string, error)
	Credentials() (*Credentials, error)
	SessionTag() string
	ClearLogin() error

	// State directory
	GetStateDir() string

	// Close the state
	Close() error
}

var (
	_ ConnectionInterface = (*Connection)(nil)
	_ StateInterface      = (*State)(nil)
)
