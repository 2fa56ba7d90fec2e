package client

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrSessionSuperseded means a newer login (or a logout) replaced the
// credentials this session was started with
var ErrSessionSuperseded = errors.New("session superseded by a newer login")

// Credentials is the persisted result of a login
type Credentials struct {
	ServerURL  string
	Token      string
	UserID     int64
	Username   string
	ExpiresAt  time.Time
	SessionTag string
}

// State manages client-side persistent state
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Client only needs one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL lets several client processes share one state file
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	state := &State{
		db:  db,
		dir: dir,
	}

	if err := runStateMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return state, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetLastUsername returns the last username used to log in
func (s *State) GetLastUsername() string {
	username, _ := s.GetConfig("last_username")
	return username
}

// SetLastUsername stores the last username used to log in
func (s *State) SetLastUsername(username string) error {
	return s.SetConfig("last_username", username)
}

// SaveLogin replaces the stored credentials and generates a fresh session tag,
// which it returns. Any other session holding the previous tag is superseded.
func (s *State) SaveLogin(creds Credentials) (string, error) {
	tag := uuid.NewString()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Login (id, server_url, token, user_id, username, expires_at, session_tag)
		VALUES (1, ?, ?, ?, ?, ?, ?)
	`, creds.ServerURL, creds.Token, creds.UserID, creds.Username, creds.ExpiresAt.UnixMilli(), tag)
	if err != nil {
		return "", fmt.Errorf("failed to save login: %w", err)
	}

	if err := s.SetLastUsername(creds.Username); err != nil {
		return "", err
	}
	return tag, nil
}

// Credentials returns the stored login, or nil if nobody is logged in
func (s *State) Credentials() (*Credentials, error) {
	var creds Credentials
	var expiresAt int64
	err := s.db.QueryRow(`
		SELECT server_url, token, user_id, username, expires_at, session_tag
		FROM Login WHERE id = 1
	`).Scan(&creds.ServerURL, &creds.Token, &creds.UserID, &creds.Username, &expiresAt, &creds.SessionTag)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load login: %w", err)
	}
	creds.ExpiresAt = time.UnixMilli(expiresAt)
	return &creds, nil
}

// SessionTag returns the tag of the stored login, or "" when logged out
func (s *State) SessionTag() string {
	var tag string
	if err := s.db.QueryRow("SELECT session_tag FROM Login WHERE id = 1").Scan(&tag); err != nil {
		return ""
	}
	return tag
}

// ClearLogin removes the stored credentials
func (s *State) ClearLogin() error {
	_, err := s.db.Exec("DELETE FROM Login")
	return err
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}

// SessionGuard remembers the session tag a session started with and detects
// when the stored login has since changed
type SessionGuard struct {
	state StateInterface
	tag   string
}

// NewSessionGuard creates a guard for the session started with tag
func NewSessionGuard(state StateInterface, tag string) *SessionGuard {
	return &SessionGuard{state: state, tag: tag}
}

// Check returns ErrSessionSuperseded if the stored tag is no longer this session's
func (g *SessionGuard) Check() error {
	current := g.state.SessionTag()
	if current == "" || current != g.tag {
		return ErrSessionSuperseded
	}
	return nil
}

// Tag returns the session tag the guard was created with
func (g *SessionGuard) Tag() string {
	return g.tag
}
