// Package botlib provides a simple library for building storechat bots.
package botlib

import (
	"strings"
	"time"

	"github.com/meedsr07/storechat/pkg/client/chatview"
	"github.com/meedsr07/storechat/pkg/protocol"
)

// Message represents a chat message received by the bot.
type Message struct {
	ID         int64
	SenderID   int64
	SenderName string
	ReceiverID *int64 // set for direct messages
	GroupID    *int64 // set for group messages
	Content    string
	CreatedAt  time.Time

	// Internal: the bot's username for mention detection
	botName string
}

func newMessage(m protocol.Message, senderName, botName string) *Message {
	return &Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: senderName,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		botName:    botName,
	}
}

// IsGroup returns true if the message was posted to a group.
func (m *Message) IsGroup() bool {
	return m.GroupID != nil
}

// IsDirect returns true if the message was sent to the bot directly.
func (m *Message) IsDirect() bool {
	return m.ReceiverID != nil
}

// Conversation returns where a reply to this message should go: the group
// for group messages, the sender for direct ones.
func (m *Message) Conversation() chatview.Target {
	if m.GroupID != nil {
		return chatview.Group(*m.GroupID)
	}
	return chatview.Direct(m.SenderID)
}

// MentionsMe returns true if the message content mentions the bot.
// Checks for @name patterns (case-insensitive).
func (m *Message) MentionsMe() bool {
	if m.botName == "" {
		return false
	}

	content := strings.ToLower(m.Content)
	name := strings.ToLower(m.botName)

	if strings.Contains(content, "@"+name) {
		return true
	}

	// Also check for the name at the start of the message
	return strings.HasPrefix(content, name+":") ||
		strings.HasPrefix(content, name+",") ||
		strings.HasPrefix(content, name+" ")
}

// MentionedContent returns the message content with the bot mention removed.
// Useful for extracting the actual command.
func (m *Message) MentionedContent() string {
	if m.botName == "" {
		return strings.TrimSpace(m.Content)
	}

	content := m.Content
	name := m.botName

	content = strings.ReplaceAll(content, "@"+name, "")
	content = strings.ReplaceAll(content, "@"+strings.ToLower(name), "")

	lower := strings.ToLower(content)
	lowerName := strings.ToLower(name)
	for _, sep := range []string{":", ",", " "} {
		if strings.HasPrefix(lower, lowerName+sep) {
			content = content[len(name)+1:]
			break
		}
	}

	return strings.TrimSpace(content)
}

// PostMessageResult contains the result of posting a message.
type PostMessageResult struct {
	MessageID int64
	Timestamp time.Time
}
