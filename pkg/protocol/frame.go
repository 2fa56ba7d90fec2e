package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// MaxFrameSize is the maximum allowed inbound frame size (64 KB)
	MaxFrameSize = 64 * 1024
)

var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size (64 KB)")
	ErrMissingType    = errors.New("frame has no type")
	ErrUnknownType    = errors.New("unknown frame type")
	ErrMalformedFrame = errors.New("malformed frame")
)

// Frame types exchanged over the WebSocket connection.
const (
	TypeChatMessage    = "CHAT_MESSAGE"    // client -> server
	TypeOnlineUsers    = "ONLINE_USERS"    // server -> client
	TypeNewMessage     = "NEW_MESSAGE"     // server -> client
	TypeMessageSent    = "MESSAGE_SENT"    // server -> client (sender only)
	TypeMessageDeleted = "MESSAGE_DELETED" // server -> client
	TypeError          = "ERROR"           // server -> client
)

// envelope is the minimal shape every frame shares
type envelope struct {
	Type string `json:"type"`
}

// Typed is implemented by every frame so Encode can stamp the type field.
type Typed interface {
	FrameType() string
}

// Encode serializes a frame, forcing the type field to match the Go type.
func Encode(frame Typed) ([]byte, error) {
	switch f := frame.(type) {
	case *ChatMessageFrame:
		f.Type = TypeChatMessage
	case *OnlineUsersFrame:
		f.Type = TypeOnlineUsers
	case *NewMessageFrame:
		f.Type = TypeNewMessage
	case *MessageSentFrame:
		f.Type = TypeMessageSent
	case *MessageDeletedFrame:
		f.Type = TypeMessageDeleted
	case *ErrorFrame:
		f.Type = TypeError
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, frame)
	}
	return json.Marshal(frame)
}

// PeekType returns the type field of a raw frame without decoding the rest.
func PeekType(data []byte) (string, error) {
	if len(data) > MaxFrameSize {
		return "", ErrFrameTooLarge
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return "", ErrMissingType
	}
	return env.Type, nil
}

// DecodeChatMessage decodes and validates an inbound CHAT_MESSAGE frame.
func DecodeChatMessage(data []byte) (*ChatMessageFrame, error) {
	var f ChatMessageFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type != TypeChatMessage {
		return nil, fmt.Errorf("%w: expected %s, got %q", ErrMalformedFrame, TypeChatMessage, f.Type)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// DecodeServerEvent decodes any server -> client frame into its concrete type.
// The result is one of *OnlineUsersFrame, *NewMessageFrame, *MessageSentFrame,
// *MessageDeletedFrame or *ErrorFrame.
func DecodeServerEvent(data []byte) (Typed, error) {
	frameType, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	var target Typed
	switch frameType {
	case TypeOnlineUsers:
		target = &OnlineUsersFrame{}
	case TypeNewMessage:
		target = &NewMessageFrame{}
	case TypeMessageSent:
		target = &MessageSentFrame{}
	case TypeMessageDeleted:
		target = &MessageDeletedFrame{}
	case TypeError:
		target = &ErrorFrame{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, frameType)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return target, nil
}
