package ui

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/meedsr07/storechat/pkg/client"
	"github.com/meedsr07/storechat/pkg/client/chatview"
	"github.com/meedsr07/storechat/pkg/protocol"
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		chatWidth, chatHeight := m.chatPaneSize()
		if m.viewport.Width == 0 || m.viewport.Height == 0 {
			m.viewport = viewport.New(chatWidth, chatHeight)
		} else {
			m.viewport.Width = chatWidth
			m.viewport.Height = chatHeight
		}
		m.input.Width = chatWidth - 2
		m.refreshMessages()
		return m, nil

	case ServerFrameMsg:
		if m.guard != nil {
			if err := m.guard.Check(); err != nil {
				return m.endSession(err)
			}
		}
		return m.handleServerFrame(msg.Frame)

	case ErrorMsg:
		switch {
		case isSessionError(msg.Err):
			return m.endSession(msg.Err)
		case errors.Is(msg.Err, client.ErrAuthRejected):
			return m.expireSession()
		}
		m.errorMessage = msg.Err.Error()
		return m, listenForServerFrames(m.conn)

	case ConnectedMsg:
		m.connectionState = client.StateConnected
		m.reconnectAttempt = 0
		m.errorMessage = ""
		// Catch up on anything missed while offline
		cmds := []tea.Cmd{listenForServerFrames(m.conn), loadDirectory(m.api)}
		if t := m.view.Selected(); !t.IsZero() {
			cmds = append(cmds, fetchHistory(m.api, t, m.history, m.view.Watermark(t)))
		}
		return m, tea.Batch(cmds...)

	case DisconnectedMsg:
		m.connectionState = client.StateDisconnected
		if n := m.view.FailPending(); n > 0 {
			m.logf("Connection lost with %d unconfirmed messages", n)
			m.refreshMessages()
		}
		if msg.Err != nil {
			m.errorMessage = fmt.Sprintf("Connection lost: %v", msg.Err)
		}
		return m, listenForServerFrames(m.conn)

	case ReconnectingMsg:
		m.connectionState = client.StateReconnecting
		m.reconnectAttempt = msg.Attempt
		return m, listenForServerFrames(m.conn)

	case ConnectionClosedMsg:
		m.connectionState = client.StateClosed
		return m, nil

	case DirectoryLoadedMsg:
		if msg.Err != nil {
			return m, m.setStatus(fmt.Sprintf("Failed to load contacts: %v", msg.Err))
		}
		m.setDirectory(msg.Users, msg.Groups)
		if m.view.Selected().IsZero() {
			return m, m.selectTarget(0)
		}
		m.refreshMessages()
		return m, nil

	case HistoryLoadedMsg:
		if msg.Err != nil {
			return m, m.setStatus(fmt.Sprintf("Failed to load history: %v", msg.Err))
		}
		if m.view.LoadHistory(msg.Target, msg.Mark, msg.Messages) {
			m.refreshMessages()
			m.viewport.GotoBottom()
		}
		return m, nil

	case DeleteResultMsg:
		if msg.Err != nil {
			return m, m.setStatus(fmt.Sprintf("Delete failed: %v", msg.Err))
		}
		if m.view.ApplyDeleted(msg.MessageID) {
			m.refreshMessages()
		}
		return m, m.setStatus("Message deleted")

	case ClearStatusMsg:
		if msg.Version == m.statusVersion {
			m.statusMessage = ""
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.conn.Close()
		return m, tea.Quit

	case "tab":
		return m, m.selectTarget(m.cursor + 1)

	case "shift+tab":
		return m, m.selectTarget(m.cursor - 1)

	case "enter":
		return m.sendInput()

	case "ctrl+x":
		entry, ok := m.view.LastOwn()
		if !ok {
			return m, m.setStatus("Nothing of yours to delete here")
		}
		return m, deleteMessage(m.api, entry.Message.ID)

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// sendInput turns the input line into an optimistic entry and sends it
func (m Model) sendInput() (tea.Model, tea.Cmd) {
	entry, err := m.view.Send(m.input.Value())
	if err != nil {
		return m, m.setStatus(err.Error())
	}
	m.input.Reset()

	var cmd tea.Cmd
	if err := m.conn.Send(chatview.Frame(entry)); err != nil {
		m.view.MarkFailed(entry.ClientID)
		cmd = m.setStatus(fmt.Sprintf("Send failed: %v", err))
	}
	m.refreshMessages()
	m.viewport.GotoBottom()
	return m, cmd
}

func (m Model) handleServerFrame(frame protocol.Typed) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch f := frame.(type) {
	case *protocol.OnlineUsersFrame:
		m.view.SetOnline(f.Users)

	case *protocol.NewMessageFrame:
		target := chatview.TargetOf(f.Message, m.self.ID)
		if !m.view.ApplyNew(f.Message) && target != m.view.Selected() && f.Message.SenderID != m.self.ID {
			m.sendDesktopNotification(f.Message)
		}
		// A peer who registered after the directory was loaded
		if !m.knowsTarget(target) {
			cmds = append(cmds, loadDirectory(m.api))
		}

	case *protocol.MessageSentFrame:
		m.view.ApplySent(f.Message, f.ClientID)

	case *protocol.MessageDeletedFrame:
		m.view.ApplyDeleted(f.MessageID)

	case *protocol.ErrorFrame:
		if entry, ok := m.view.FailOldestPending(); ok {
			m.logf("Send %s rejected: %v", entry.ClientID, f)
		}
		cmds = append(cmds, m.setStatus(f.Message))

	default:
		m.logf("Ignoring unexpected frame %s", frame.FrameType())
	}

	m.refreshMessages()
	cmds = append(cmds, listenForServerFrames(m.conn))
	return m, tea.Batch(cmds...)
}

// sendDesktopNotification announces a message for a chat that is not open
func (m Model) sendDesktopNotification(msg protocol.Message) {
	target := chatview.TargetOf(msg, m.self.ID)
	title := fmt.Sprintf("StoreChat - %s", m.targetName(target))

	content := []rune(msg.Content)
	if len(content) > 100 {
		content = append(content[:97], []rune("...")...)
	}
	body := fmt.Sprintf("%s: %s", m.userName(msg.SenderID), string(content))

	// Best-effort
	if err := m.notify(title, body); err != nil {
		m.logf("Failed to send desktop notification: %v", err)
	}
}
