package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Error codes carried in ERROR frames
const (
	// Protocol errors (1xxx)
	ErrCodeInvalidFormat = 1000
	ErrCodeUnknownType   = 1001

	// Authentication errors (2xxx)
	ErrCodeAuthRequired = 2000

	// Authorization errors (3xxx)
	ErrCodePermissionDenied = 3000
	ErrCodeNotGroupMember   = 3001

	// Resource errors (4xxx)
	ErrCodeNotFound        = 4000
	ErrCodeMessageNotFound = 4002
	ErrCodeGroupNotFound   = 4005

	// Validation errors (6xxx)
	ErrCodeInvalidInput   = 6000
	ErrCodeMessageTooLong = 6001
	ErrCodeInvalidTarget  = 6002

	// Server errors (9xxx)
	ErrCodeInternalError = 9000
	ErrCodeDatabaseError = 9001
)

var (
	ErrEmptyContent   = errors.New("message content cannot be empty")
	ErrMessageTooLong = errors.New("message content exceeds maximum length")
	ErrInvalidTarget  = errors.New("exactly one of receiverId or groupId must be set")
)

// Message is the wire and storage shape of a chat message.
// Exactly one of ReceiverID and GroupID is set.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID *int64    `json:"receiver_id,omitempty"`
	GroupID    *int64    `json:"group_id,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsGroup reports whether the message was addressed to a group
func (m *Message) IsGroup() bool {
	return m.GroupID != nil
}

// Involves reports whether the message belongs to the direct conversation
// between a and b.
func (m *Message) Involves(a, b int64) bool {
	if m.ReceiverID == nil {
		return false
	}
	r := *m.ReceiverID
	return (m.SenderID == a && r == b) || (m.SenderID == b && r == a)
}

// ChatMessageFrame (CHAT_MESSAGE) - client sends a direct or group message.
// ClientID is an opaque client-chosen token echoed back in MESSAGE_SENT.
type ChatMessageFrame struct {
	Type       string `json:"type"`
	ReceiverID *int64 `json:"receiverId,omitempty"`
	GroupID    *int64 `json:"groupId,omitempty"`
	Content    string `json:"content"`
	ClientID   string `json:"clientId,omitempty"`
}

func (f *ChatMessageFrame) FrameType() string { return TypeChatMessage }

// Validate checks the addressing and content invariants that do not depend
// on server configuration.
func (f *ChatMessageFrame) Validate() error {
	hasReceiver := f.ReceiverID != nil
	hasGroup := f.GroupID != nil
	if hasReceiver == hasGroup {
		return fmt.Errorf("%w: %w", ErrMalformedFrame, ErrInvalidTarget)
	}
	if hasReceiver && *f.ReceiverID <= 0 {
		return fmt.Errorf("%w: receiverId must be positive", ErrMalformedFrame)
	}
	if hasGroup && *f.GroupID <= 0 {
		return fmt.Errorf("%w: groupId must be positive", ErrMalformedFrame)
	}
	if strings.TrimSpace(f.Content) == "" {
		return fmt.Errorf("%w: %w", ErrMalformedFrame, ErrEmptyContent)
	}
	return nil
}

// CheckLength enforces a maximum content length in characters (0 = unlimited)
func (f *ChatMessageFrame) CheckLength(max int) error {
	if max > 0 && utf8.RuneCountInString(f.Content) > max {
		return fmt.Errorf("%w: %w (%d characters)", ErrMalformedFrame, ErrMessageTooLong, max)
	}
	return nil
}

// OnlineUsersFrame (ONLINE_USERS) - full online set, sent on every change
type OnlineUsersFrame struct {
	Type  string  `json:"type"`
	Users []int64 `json:"users"`
}

func (f *OnlineUsersFrame) FrameType() string { return TypeOnlineUsers }

// NewMessageFrame (NEW_MESSAGE) - pushed to recipients of a message
type NewMessageFrame struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

func (f *NewMessageFrame) FrameType() string { return TypeNewMessage }

// MessageSentFrame (MESSAGE_SENT) - confirmation to the sender with the
// persisted message and the echoed client id
type MessageSentFrame struct {
	Type     string  `json:"type"`
	Message  Message `json:"message"`
	ClientID string  `json:"clientId,omitempty"`
}

func (f *MessageSentFrame) FrameType() string { return TypeMessageSent }

// MessageDeletedFrame (MESSAGE_DELETED) - a message was hard-deleted
type MessageDeletedFrame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
}

func (f *MessageDeletedFrame) FrameType() string { return TypeMessageDeleted }

// ErrorFrame (ERROR) - a frame could not be processed; the connection stays open
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (f *ErrorFrame) FrameType() string { return TypeError }

// Error implements error so clients can surface ERROR frames directly
func (f *ErrorFrame) Error() string {
	return fmt.Sprintf("server error %d: %s", f.Code, f.Message)
}
