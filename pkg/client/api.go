package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/meedsr07/storechat/pkg/protocol"
)

// REST failures; APIError unwraps to these, and a 401 to ErrAuthRejected
var (
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username already taken")
)

// APIError is a non-2xx REST response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps status codes onto the package sentinels
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuthRejected
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrUsernameTaken
	}
	return nil
}

// User is a chat target returned by GET /users
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Online      bool   `json:"online"`
}

// Group is a group the caller belongs to
type Group struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Members []int64 `json:"members"`
}

// Session is the response to register and login
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// Me is the principal behind the current token
type Me struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
}

// API is a client for the server's REST surface
type API struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewAPI creates a REST client for the server at baseURL
func NewAPI(baseURL string) *API {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &API{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// BaseURL returns the server base URL
func (a *API) BaseURL() string {
	return a.baseURL
}

// SetToken sets the bearer token sent with authenticated requests
func (a *API) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

// Token returns the current bearer token
func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload)
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Register creates an account and returns a session for it
func (a *API) Register(ctx context.Context, username, displayName, password string) (*Session, error) {
	var session Session
	err := a.do(ctx, http.MethodPost, "/register", map[string]string{
		"username":     username,
		"display_name": displayName,
		"password":     password,
	}, &session)
	if err != nil {
		return nil, err
	}
	a.SetToken(session.Token)
	return &session, nil
}

// Login exchanges credentials for a session
func (a *API) Login(ctx context.Context, username, password string) (*Session, error) {
	var session Session
	err := a.do(ctx, http.MethodPost, "/login", map[string]string{
		"username": username,
		"password": password,
	}, &session)
	if err != nil {
		return nil, err
	}
	a.SetToken(session.Token)
	return &session, nil
}

// Me returns the principal behind the current token
func (a *API) Me(ctx context.Context) (*Me, error) {
	var me Me
	if err := a.do(ctx, http.MethodGet, "/me", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// Users lists the candidate chat targets
func (a *API) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := a.do(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Groups lists the caller's groups
func (a *API) Groups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := a.do(ctx, http.MethodGet, "/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func historyPath(base string, id int64, limit int) string {
	path := base + strconv.FormatInt(id, 10)
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	return path
}

// DirectHistory returns the conversation with peerID, oldest first
func (a *API) DirectHistory(ctx context.Context, peerID int64, limit int) ([]protocol.Message, error) {
	var messages []protocol.Message
	if err := a.do(ctx, http.MethodGet, historyPath("/messages/direct/", peerID, limit), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// GroupHistory returns the group's messages, oldest first
func (a *API) GroupHistory(ctx context.Context, groupID int64, limit int) ([]protocol.Message, error) {
	var messages []protocol.Message
	if err := a.do(ctx, http.MethodGet, historyPath("/messages/group/", groupID, limit), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// DeleteMessage deletes one of the caller's own messages
func (a *API) DeleteMessage(ctx context.Context, messageID int64) error {
	return a.do(ctx, http.MethodDelete, "/messages/"+strconv.FormatInt(messageID, 10), nil, nil)
}
