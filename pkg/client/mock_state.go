package client

import (
	"sync"

	"github.com/google/uuid"
)

// MockState is an in-memory test implementation of StateInterface
type MockState struct {
	mu sync.RWMutex

	// In-memory storage
	config map[string]string
	login  *Credentials
	dir    string

	// Error injection
	getConfigErr error
	setConfigErr error
	saveLoginErr error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config: make(map[string]string),
		dir:    "/tmp/mock-state",
	}
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}

	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}

	s.config[key] = value
	return nil
}

// GetLastUsername returns the last username
func (s *MockState) GetLastUsername() string {
	username, _ := s.GetConfig("last_username")
	return username
}

// SetLastUsername stores the last username
func (s *MockState) SetLastUsername(username string) error {
	return s.SetConfig("last_username", username)
}

// SaveLogin stores credentials under a fresh session tag
func (s *MockState) SaveLogin(creds Credentials) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveLoginErr != nil {
		return "", s.saveLoginErr
	}

	creds.SessionTag = uuid.NewString()
	s.login = &creds
	s.config["last_username"] = creds.Username
	return creds.SessionTag, nil
}

// Credentials returns a copy of the stored login
func (s *MockState) Credentials() (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.login == nil {
		return nil, nil
	}
	creds := *s.login
	return &creds, nil
}

// SessionTag returns the stored session tag
func (s *MockState) SessionTag() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.login == nil {
		return ""
	}
	return s.login.SessionTag
}

// ClearLogin forgets the stored login
func (s *MockState) ClearLogin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.login = nil
	return nil
}

// GetStateDir returns the mock state directory
func (s *MockState) GetStateDir() string {
	return s.dir
}

// Close closes the mock state
func (s *MockState) Close() error {
	return nil
}

// Test helpers

// SetGetConfigError sets an error to return from GetConfig()
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError sets an error to return from SetConfig()
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}

// SetSaveLoginError sets an error to return from SaveLogin()
func (s *MockState) SetSaveLoginError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLoginErr = err
}

// GetAllConfig returns all config (for testing)
func (s *MockState) GetAllConfig() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]string)
	for k, v := range s.config {
		result[k] = v
	}
	return result
}

// Verify that MockState implements StateInterface
var _ StateInterface = (*MockState)(nil)

// Verify that MockConnection implements ConnectionInterface
var _ ConnectionInterface = (*MockConnection)(nil)
