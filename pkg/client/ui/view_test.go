package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/meedsr07/storechat/pkg/client"
	"github.com/meedsr07/storechat/pkg/client/chatview"
	"github.com/meedsr07/storechat/pkg/protocol"
)

func TestViewBeforeResize(t *testing.T) {
	m := NewModel(client.NewMockConnection("x"), newFakeAPI(), client.NewMockState(), nil, Options{})
	if got := m.View(); got != "Loading..." {
		t.Errorf("View() = %q", got)
	}
}

func TestViewShowsChatAndSidebar(t *testing.T) {
	m, _ := NewTestModel(t)
	m = update(t, m, ServerFrameMsg{Frame: &protocol.OnlineUsersFrame{Users: []int64{selfID, bobID}}})
	m = update(t, m, HistoryLoadedMsg{
		Target:   chatview.Direct(bobID),
		Messages: []protocol.Message{directMessage(1, bobID, selfID, "how many left?")},
	})
	m.input.SetValue("three")
	m = update(t, m, key(tea.KeyEnter))

	out := m.View()
	for _, want := range []string{"StoreChat - alice", "Bob", "Carol", "#front-desk", "how many left?", "three", "(sending)", "connected"} {
		if !strings.Contains(out, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestFormatEntryStatus(t *testing.T) {
	m, _ := NewTestModel(t)

	tests := []struct {
		name   string
		entry  chatview.Entry
		marker string
	}{
		{"sent", chatview.Entry{Message: directMessage(1, selfID, bobID, "ok"), Status: chatview.StatusSent}, ""},
		{"pending", chatview.Entry{Message: directMessage(-1, selfID, bobID, "ok"), Status: chatview.StatusPending}, "(sending)"},
		{"failed", chatview.Entry{Message: directMessage(-2, selfID, bobID, "ok"), Status: chatview.StatusFailed}, "(not sent)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.formatEntry(tt.entry)
			if tt.marker == "" {
				if strings.Contains(got, "(sending)") || strings.Contains(got, "(not sent)") {
					t.Errorf("formatEntry() = %q, want no marker", got)
				}
				return
			}
			if !strings.Contains(got, tt.marker) {
				t.Errorf("formatEntry() = %q, want %q", got, tt.marker)
			}
		})
	}
}

func TestRenderConnectionState(t *testing.T) {
	m, _ := NewTestModel(t)

	m.connectionState = client.StateReconnecting
	m.reconnectAttempt = 4
	if got := m.renderConnectionState(); !strings.Contains(got, "attempt 4") {
		t.Errorf("renderConnectionState() = %q", got)
	}

	m.connectionState = client.StateDisconnected
	if got := m.renderConnectionState(); !strings.Contains(got, "disconnected") {
		t.Errorf("renderConnectionState() = %q", got)
	}
}

func TestUserNameFallbacks(t *testing.T) {
	m, _ := NewTestModel(t)

	if got := m.userName(bobID); got != "Bob" {
		t.Errorf("userName(bob) = %q", got)
	}
	if got := m.userName(selfID); got != "alice" {
		t.Errorf("userName(self) = %q", got)
	}
	if got := m.userName(404); got != "user-404" {
		t.Errorf("userName(404) = %q", got)
	}
	if got := m.targetName(chatview.Group(77)); got != "#group-77" {
		t.Errorf("targetName(group 77) = %q", got)
	}
}
