package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/meedsr07/storechat/pkg/client"
	"github.com/meedsr07/storechat/pkg/client/chatview"
)

const (
	sidebarWidth = 24
	// header, status line, input and pane borders
	chromeHeight = 7
)

// View renders the UI
func (m Model) View() string {
	if m.sessionEnded {
		return ErrorTextStyle.Render(m.errorMessage) + "\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	header := HeaderStyle.Render(fmt.Sprintf("StoreChat - %s", m.userName(m.self.ID))) +
		"  " + m.renderConnectionState()

	sidebar := SidebarStyle.
		Width(sidebarWidth).
		Height(m.height - chromeHeight + 2).
		Render(m.renderSidebar())

	chatWidth, _ := m.chatPaneSize()
	title := SelectedItemStyle.Render(m.targetName(m.view.Selected()))
	chat := ChatPaneStyle.
		Width(chatWidth).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, m.viewport.View(), m.input.View()))

	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, chat)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderStatusLine())
}

// chatPaneSize returns the inner size of the message viewport
func (m Model) chatPaneSize() (int, int) {
	width := m.width - sidebarWidth - 8
	if width < 20 {
		width = 20
	}
	height := m.height - chromeHeight
	if height < 3 {
		height = 3
	}
	return width, height
}

func (m Model) renderConnectionState() string {
	switch m.connectionState {
	case client.StateConnected:
		return OnlineDotStyle.Render("● connected")
	case client.StateReconnecting:
		return StatusStyle.Render(fmt.Sprintf("○ reconnecting (attempt %d)", m.reconnectAttempt))
	default:
		return ErrorTextStyle.Render("○ " + m.connectionState.String())
	}
}

func (m Model) renderSidebar() string {
	if len(m.targets) == 0 {
		return MutedTextStyle.Render("No contacts yet")
	}

	var b strings.Builder
	for i, t := range m.targets {
		b.WriteString(m.renderSidebarItem(t, i == m.cursor))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderSidebarItem(t chatview.Target, selected bool) string {
	marker := " "
	if t.Kind == chatview.KindDirect && m.view.IsOnline(t.ID) {
		marker = OnlineDotStyle.Render("●")
	}

	style := ItemStyle
	if selected {
		style = SelectedItemStyle
	}
	line := marker + " " + style.Render(m.targetName(t))
	if n := m.view.Unread(t); n > 0 {
		line += " " + UnreadStyle.Render(fmt.Sprintf("(%d)", n))
	}
	return line
}

// refreshMessages rebuilds the viewport from the open chat's entries
func (m *Model) refreshMessages() {
	m.viewport.SetContent(m.buildChatMessages())
}

func (m Model) buildChatMessages() string {
	entries := m.view.Entries()
	if len(entries) == 0 {
		if m.view.Selected().IsZero() {
			return MutedTextStyle.Render("Pick a chat with tab")
		}
		return MutedTextStyle.Render("No messages yet")
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, m.formatEntry(e))
	}
	return strings.Join(lines, "\n")
}

// formatEntry renders one message line with its delivery marker
func (m Model) formatEntry(e chatview.Entry) string {
	author := AuthorStyle.Render(m.userName(e.Message.SenderID))
	if e.Message.SenderID == m.self.ID {
		author = OwnAuthorStyle.Render(m.userName(e.Message.SenderID))
	}
	stamp := MutedTextStyle.Render(e.Message.CreatedAt.Local().Format("15:04"))
	line := fmt.Sprintf("%s %s: %s", stamp, author, e.Message.Content)

	switch e.Status {
	case chatview.StatusPending:
		line += " " + PendingStyle.Render("(sending)")
	case chatview.StatusFailed:
		line += " " + FailedStyle.Render("(not sent)")
	}
	return line
}

func (m Model) renderStatusLine() string {
	help := MutedTextStyle.Render("tab: next chat  enter: send  ctrl+x: delete last  esc: quit")
	switch {
	case m.errorMessage != "":
		return ErrorTextStyle.Render(m.errorMessage)
	case m.statusMessage != "":
		return StatusStyle.Render(m.statusMessage)
	}
	return help
}
