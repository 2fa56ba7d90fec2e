package ui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"
	"github.com/meedsr07/storechat/pkg/client"
	"github.com/meedsr07/storechat/pkg/client/chatview"
	"github.com/meedsr07/storechat/pkg/protocol"
)

// requestTimeout bounds every REST call the UI makes
const requestTimeout = 10 * time.Second

// API is the part of the REST surface the UI uses
type API interface {
	Users(ctx context.Context) ([]client.User, error)
	Groups(ctx context.Context) ([]client.Group, error)
	DirectHistory(ctx context.Context, peerID int64, limit int) ([]protocol.Message, error)
	GroupHistory(ctx context.Context, groupID int64, limit int) ([]protocol.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) error
}

var _ API = (*client.API)(nil)

// Options configures a Model
type Options struct {
	Self             client.Me
	HistoryLimit     int // 0 lets the server decide
	MaxMessageLength int // 0 = unlimited
	Logger           *log.Logger

	// Notify shows a desktop notification; defaults to beeep
	Notify func(title, body string) error
}

// Model is the chat client's bubbletea model
type Model struct {
	conn    client.ConnectionInterface
	api     API
	state   client.StateInterface
	guard   *client.SessionGuard
	view    *chatview.View
	self    client.Me
	logger  *log.Logger
	notify  func(title, body string) error
	history int

	users   []client.User
	groups  []client.Group
	targets []chatview.Target
	cursor  int

	connectionState  client.ConnectionState
	reconnectAttempt int

	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int

	statusMessage string
	statusVersion uint64
	errorMessage  string
	sessionEnded  bool
}

// NewModel creates the UI model. The connection is expected to be connected
// already; guard may be nil when no shared state file is in use.
func NewModel(conn client.ConnectionInterface, api API, state client.StateInterface, guard *client.SessionGuard, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Prompt = "> "
	ti.CharLimit = opts.MaxMessageLength
	ti.Focus()

	view := chatview.New(opts.Self.ID)
	view.SetMaxLength(opts.MaxMessageLength)

	notify := opts.Notify
	if notify == nil {
		notify = func(title, body string) error { return beeep.Notify(title, body, "") }
	}

	return Model{
		conn:            conn,
		api:             api,
		state:           state,
		guard:           guard,
		view:            view,
		self:            opts.Self,
		logger:          opts.Logger,
		notify:          notify,
		history:         opts.HistoryLimit,
		connectionState: conn.State(),
		input:           ti,
	}
}

// Messages produced by commands

// ServerFrameMsg carries one event pushed by the server
type ServerFrameMsg struct {
	Frame protocol.Typed
}

// ErrorMsg carries an error reported by the connection
type ErrorMsg struct {
	Err error
}

// ConnectedMsg is sent when the connection (re)connects
type ConnectedMsg struct{}

// DisconnectedMsg is sent when the connection drops
type DisconnectedMsg struct {
	Err error
}

// ReconnectingMsg is sent before each reconnect attempt
type ReconnectingMsg struct {
	Attempt int
}

// ConnectionClosedMsg is sent once the connection's channels are closed
type ConnectionClosedMsg struct{}

// DirectoryLoadedMsg carries the user and group lists
type DirectoryLoadedMsg struct {
	Users  []client.User
	Groups []client.Group
	Err    error
}

// HistoryLoadedMsg carries a fetched history for a chat. Mark is the chat's
// watermark when the fetch was issued.
type HistoryLoadedMsg struct {
	Target   chatview.Target
	Mark     int64
	Messages []protocol.Message
	Err      error
}

// DeleteResultMsg reports the outcome of a delete request
type DeleteResultMsg struct {
	MessageID int64
	Err       error
}

// ClearStatusMsg clears the status line if it has not changed since
type ClearStatusMsg struct {
	Version uint64
}

// Init starts listening to the connection and loads the directory
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		listenForServerFrames(m.conn),
		loadDirectory(m.api),
		textinput.Blink,
	)
}

// listenForServerFrames waits for the next event, error or state change
func listenForServerFrames(conn client.ConnectionInterface) tea.Cmd {
	return func() tea.Msg {
		select {
		case frame, ok := <-conn.Incoming():
			if !ok {
				return ConnectionClosedMsg{}
			}
			return ServerFrameMsg{Frame: frame}
		case err, ok := <-conn.Errors():
			if !ok {
				return ConnectionClosedMsg{}
			}
			return ErrorMsg{Err: err}
		case update, ok := <-conn.StateChanges():
			if !ok {
				return ConnectionClosedMsg{}
			}
			switch update.State {
			case client.StateConnected:
				return ConnectedMsg{}
			case client.StateDisconnected:
				return DisconnectedMsg{Err: update.Err}
			case client.StateReconnecting:
				return ReconnectingMsg{Attempt: update.Attempt}
			case client.StateClosed:
				return ConnectionClosedMsg{}
			}
		}
		return nil
	}
}

func loadDirectory(api API) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		users, err := api.Users(ctx)
		if err != nil {
			return DirectoryLoadedMsg{Err: err}
		}
		groups, err := api.Groups(ctx)
		if err != nil {
			return DirectoryLoadedMsg{Err: err}
		}
		return DirectoryLoadedMsg{Users: users, Groups: groups}
	}
}

func fetchHistory(api API, target chatview.Target, limit int, mark int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		var (
			msgs []protocol.Message
			err  error
		)
		switch target.Kind {
		case chatview.KindGroup:
			msgs, err = api.GroupHistory(ctx, target.ID, limit)
		default:
			msgs, err = api.DirectHistory(ctx, target.ID, limit)
		}
		return HistoryLoadedMsg{Target: target, Mark: mark, Messages: msgs, Err: err}
	}
}

func deleteMessage(api API, messageID int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return DeleteResultMsg{MessageID: messageID, Err: api.DeleteMessage(ctx, messageID)}
	}
}

func statusTimeout(version uint64) tea.Cmd {
	return tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
		return ClearStatusMsg{Version: version}
	})
}

// setStatus sets the status message and returns the timeout command
func (m *Model) setStatus(message string) tea.Cmd {
	m.statusVersion++
	m.statusMessage = message
	return statusTimeout(m.statusVersion)
}

func (m *Model) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// setDirectory replaces the sidebar lists, keeping the selection if it
// still exists
func (m *Model) setDirectory(users []client.User, groups []client.Group) {
	users = append([]client.User(nil), users...)
	sort.SliceStable(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	groups = append([]client.Group(nil), groups...)
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })

	m.users = users
	m.groups = groups
	targets := make([]chatview.Target, 0, len(users)+len(groups))
	for _, u := range users {
		if u.ID != m.self.ID {
			targets = append(targets, chatview.Direct(u.ID))
		}
	}
	for _, g := range groups {
		targets = append(targets, chatview.Group(g.ID))
	}
	m.targets = targets

	m.cursor = 0
	for i, t := range m.targets {
		if t == m.view.Selected() {
			m.cursor = i
		}
	}
}

func (m Model) knowsTarget(t chatview.Target) bool {
	for _, known := range m.targets {
		if known == t {
			return true
		}
	}
	return false
}

// selectTarget switches the open chat and returns the history fetch for it
func (m *Model) selectTarget(i int) tea.Cmd {
	if len(m.targets) == 0 {
		return nil
	}
	i = (i%len(m.targets) + len(m.targets)) % len(m.targets)
	m.cursor = i
	m.view.Select(m.targets[i])
	m.refreshMessages()
	return fetchHistory(m.api, m.targets[i], m.history, m.view.Watermark(m.targets[i]))
}

// targetName returns the sidebar label for a chat
func (m Model) targetName(t chatview.Target) string {
	switch t.Kind {
	case chatview.KindGroup:
		for _, g := range m.groups {
			if g.ID == t.ID {
				return "#" + g.Name
			}
		}
		return fmt.Sprintf("#group-%d", t.ID)
	case chatview.KindDirect:
		return m.userName(t.ID)
	}
	return ""
}

func (m Model) userName(id int64) string {
	if id == m.self.ID {
		if m.self.DisplayName != "" {
			return m.self.DisplayName
		}
		return m.self.Handle
	}
	for _, u := range m.users {
		if u.ID == id {
			if u.DisplayName != "" {
				return u.DisplayName
			}
			return u.Username
		}
	}
	return fmt.Sprintf("user-%d", id)
}

// endSession stops the client after the stored login changed underneath it
func (m Model) endSession(err error) (tea.Model, tea.Cmd) {
	m.logf("Ending session: %v", err)
	m.sessionEnded = true
	m.errorMessage = "Signed in from another client; this session has ended"
	m.conn.Close()
	return m, tea.Quit
}

// expireSession handles a token the server no longer accepts
func (m Model) expireSession() (tea.Model, tea.Cmd) {
	if m.guard == nil || m.guard.Check() == nil {
		if err := m.state.ClearLogin(); err != nil {
			m.logf("Failed to clear login: %v", err)
		}
	}
	m.sessionEnded = true
	m.errorMessage = "Session expired; log in again"
	m.conn.Close()
	return m, tea.Quit
}

// SessionEnded reports whether the model quit because its login is gone
func (m Model) SessionEnded() bool { return m.sessionEnded }

// ErrorMessage returns the last error shown to the user
func (m Model) ErrorMessage() string { return m.errorMessage }

func isSessionError(err error) bool {
	return errors.Is(err, client.ErrSessionSuperseded)
}
