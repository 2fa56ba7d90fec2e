package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/meedsr07/storechat/pkg/database"
	"github.com/meedsr07/storechat/pkg/protocol"
)

var (
	// ErrNotFound indicates the addressed message, user or group does not exist
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the requester may not act on the target
	ErrForbidden = errors.New("forbidden")
)

// MessageStore is the persistence the relay needs
type MessageStore interface {
	PostMessage(senderID int64, receiverID, groupID *int64, content string) (*database.Message, error)
	GetUserByID(id int64) (*database.User, error)
	GroupMemberIDs(groupID int64) ([]int64, error)
}

// Delivery describes where a relayed message was pushed
type Delivery struct {
	Message   protocol.Message
	Delivered []int64 // recipients with a live connection
	Missed    []int64 // recipients that were offline
}

// Relay persists chat messages and pushes them to online recipients
type Relay struct {
	store            MessageStore
	registry         *Registry
	metrics          *Metrics
	maxMessageLength int
}

// NewRelay creates a relay; maxMessageLength of 0 means unlimited
func NewRelay(store MessageStore, registry *Registry, maxMessageLength int) *Relay {
	return &Relay{
		store:            store,
		registry:         registry,
		maxMessageLength: maxMessageLength,
	}
}

// SetMetrics attaches metrics to the relay
func (r *Relay) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// HandleSend validates, persists and fans out a CHAT_MESSAGE from senderID.
// origin is the connection the frame arrived on and receives MESSAGE_SENT.
func (r *Relay) HandleSend(origin Conn, senderID int64, frame *protocol.ChatMessageFrame) (*Delivery, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if err := frame.CheckLength(r.maxMessageLength); err != nil {
		return nil, err
	}

	var recipients []int64
	if frame.GroupID != nil {
		members, err := r.store.GroupMemberIDs(*frame.GroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load members of group %d: %w", *frame.GroupID, err)
		}
		isMember := false
		for _, id := range members {
			if id == senderID {
				isMember = true
				continue
			}
			// The sender is confirmed by MESSAGE_SENT, never echoed NEW_MESSAGE
			recipients = append(recipients, id)
		}
		if !isMember {
			return nil, fmt.Errorf("%w: user %d is not a member of group %d", ErrForbidden, senderID, *frame.GroupID)
		}
	} else {
		if _, err := r.store.GetUserByID(*frame.ReceiverID); err != nil {
			if errors.Is(err, database.ErrUserNotFound) {
				return nil, fmt.Errorf("%w: user %d", ErrNotFound, *frame.ReceiverID)
			}
			return nil, err
		}
		if *frame.ReceiverID != senderID {
			recipients = append(recipients, *frame.ReceiverID)
		}
	}

	stored, err := r.store.PostMessage(senderID, frame.ReceiverID, frame.GroupID, frame.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	msg := toWireMessage(stored)

	delivery := &Delivery{Message: msg}

	if len(recipients) > 0 {
		payload, err := protocol.Encode(&protocol.NewMessageFrame{Message: msg})
		if err != nil {
			return nil, fmt.Errorf("failed to encode NEW_MESSAGE: %w", err)
		}
		for _, id := range recipients {
			if r.push(id, payload, protocol.TypeNewMessage) {
				delivery.Delivered = append(delivery.Delivered, id)
			} else {
				delivery.Missed = append(delivery.Missed, id)
			}
		}
	}

	confirmation, err := protocol.Encode(&protocol.MessageSentFrame{Message: msg, ClientID: frame.ClientID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode MESSAGE_SENT: %w", err)
	}
	if origin != nil {
		if err := origin.Send(confirmation); err != nil {
			debugLog.Printf("Relay: MESSAGE_SENT to principal %d failed, dropping connection: %v", senderID, err)
			r.registry.Drop(senderID, origin)
		} else if r.metrics != nil {
			r.metrics.RecordFrameSent(protocol.TypeMessageSent)
		}
	}

	if r.metrics != nil {
		r.metrics.RecordMessageRelayed(len(delivery.Delivered), len(delivery.Missed))
	}

	return delivery, nil
}

// push sends a pre-encoded frame to the principal's live connection.
// Offline recipients and failed sends are delivery misses, not errors; a
// connection that fails a send is dropped.
func (r *Relay) push(id int64, payload []byte, frameType string) bool {
	conn, ok := r.registry.Lookup(id)
	if !ok {
		return false
	}
	if err := conn.Send(payload); err != nil {
		debugLog.Printf("Relay: %s to principal %d failed, dropping connection: %v", frameType, id, err)
		r.registry.Drop(id, conn)
		return false
	}
	if r.metrics != nil {
		r.metrics.RecordFrameSent(frameType)
	}
	return true
}

// toWireMessage converts a stored message to its JSON wire shape
func toWireMessage(m *database.Message) protocol.Message {
	return protocol.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Content:    m.Content,
		CreatedAt:  time.UnixMilli(m.CreatedAt).UTC(),
	}
}
