package ui

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/meedsr07/storechat/pkg/client"
	"github.com/meedsr07/storechat/pkg/client/chatview"
	"github.com/meedsr07/storechat/pkg/protocol"
)

const (
	selfID  = int64(1)
	bobID   = int64(2)
	carolID = int64(3)
	teamID  = int64(10)
)

// fakeAPI serves a fixed directory and history from memory
type fakeAPI struct {
	mu      sync.Mutex
	users   []client.User
	groups  []client.Group
	history map[chatview.Target][]protocol.Message
	deleted []int64
	err     error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		users: []client.User{
			{ID: selfID, Username: "alice"},
			{ID: carolID, Username: "carol", DisplayName: "Carol"},
			{ID: bobID, Username: "bob", DisplayName: "Bob", Online: true},
		},
		groups:  []client.Group{{ID: teamID, Name: "front-desk", Members: []int64{selfID, bobID}}},
		history: make(map[chatview.Target][]protocol.Message),
	}
}

func (f *fakeAPI) Users(ctx context.Context) ([]client.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users, f.err
}

func (f *fakeAPI) Groups(ctx context.Context) ([]client.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups, f.err
}

func (f *fakeAPI) DirectHistory(ctx context.Context, peerID int64, limit int) ([]protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[chatview.Direct(peerID)], f.err
}

func (f *fakeAPI) GroupHistory(ctx context.Context, groupID int64, limit int) ([]protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[chatview.Group(groupID)], f.err
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

type notification struct {
	title, body string
}

// testHarness bundles a model with its mocks
type testHarness struct {
	conn          *client.MockConnection
	state         *client.MockState
	api           *fakeAPI
	notifications []notification
}

// NewTestModel creates a connected Model with mock dependencies and the
// directory loaded, with the chat with bob open
func NewTestModel(t *testing.T) (Model, *testHarness) {
	t.Helper()
	h := &testHarness{
		conn:  client.NewMockConnection("http://localhost:8080"),
		state: client.NewMockState(),
		api:   newFakeAPI(),
	}
	if err := h.conn.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tag, err := h.state.SaveLogin(client.Credentials{UserID: selfID, Username: "alice"})
	if err != nil {
		t.Fatalf("save login: %v", err)
	}

	m := NewModel(h.conn, h.api, h.state, client.NewSessionGuard(h.state, tag), Options{
		Self:             client.Me{ID: selfID, Handle: "alice"},
		MaxMessageLength: 20,
		Logger:           log.New(io.Discard, "", 0), // Discard logs in tests
		Notify: func(title, body string) error {
			h.notifications = append(h.notifications, notification{title, body})
			return nil
		},
	})

	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = update(t, m, DirectoryLoadedMsg{Users: h.api.users, Groups: h.api.groups})
	return m, h
}

// update applies msg and returns the resulting Model
func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	updated, _ := m.Update(msg)
	return updated.(Model)
}

// updateCmd applies msg and returns the Model and command
func updateCmd(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func key(k tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: k}
}

func directMessage(id, from, to int64, content string) protocol.Message {
	return protocol.Message{ID: id, SenderID: from, ReceiverID: &to, Content: content, CreatedAt: time.Unix(1700000000+id, 0)}
}

func groupMessage(id, from, group int64, content string) protocol.Message {
	return protocol.Message{ID: id, SenderID: from, GroupID: &group, Content: content, CreatedAt: time.Unix(1700000000+id, 0)}
}
