package server

import (
	"errors"
	"fmt"

	"github.com/meedsr07/storechat/pkg/database"
	"github.com/meedsr07/storechat/pkg/protocol"
)

// DeletionStore is the persistence the deletion notifier needs
type DeletionStore interface {
	DeleteMessage(requesterID, messageID int64) (*database.Message, error)
	GroupMemberIDs(groupID int64) ([]int64, error)
}

// DeletionNotifier hard-deletes messages and tells every affected online
// party about it
type DeletionNotifier struct {
	store    DeletionStore
	registry *Registry
	metrics  *Metrics
}

// NewDeletionNotifier creates a deletion notifier
func NewDeletionNotifier(store DeletionStore, registry *Registry) *DeletionNotifier {
	return &DeletionNotifier{
		store:    store,
		registry: registry,
	}
}

// SetMetrics attaches metrics to the notifier
func (d *DeletionNotifier) SetMetrics(metrics *Metrics) {
	d.metrics = metrics
}

// HandleDelete removes messageID on behalf of requesterID and pushes
// MESSAGE_DELETED to the sender and recipient, or to every current member
// of the group the message was posted in. It returns the ids notified.
func (d *DeletionNotifier) HandleDelete(requesterID, messageID int64) ([]int64, error) {
	msg, err := d.store.DeleteMessage(requesterID, messageID)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrMessageNotFound):
			return nil, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		case errors.Is(err, database.ErrMessageNotOwned):
			return nil, fmt.Errorf("%w: message %d was not sent by user %d", ErrForbidden, messageID, requesterID)
		default:
			return nil, fmt.Errorf("failed to delete message %d: %w", messageID, err)
		}
	}

	targets := []int64{msg.SenderID}
	if msg.ReceiverID != nil && *msg.ReceiverID != msg.SenderID {
		targets = append(targets, *msg.ReceiverID)
	}
	if msg.GroupID != nil {
		// Membership at delete time, not at post time
		members, err := d.store.GroupMemberIDs(*msg.GroupID)
		if err != nil {
			// The row is gone already; still tell the sender
			errorLog.Printf("Deletion: failed to load members of group %d: %v", *msg.GroupID, err)
		}
		for _, id := range members {
			if id != msg.SenderID {
				targets = append(targets, id)
			}
		}
	}

	payload, err := protocol.Encode(&protocol.MessageDeletedFrame{MessageID: msg.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode MESSAGE_DELETED: %w", err)
	}

	var notified []int64
	for _, id := range targets {
		conn, ok := d.registry.Lookup(id)
		if !ok {
			continue
		}
		if err := conn.Send(payload); err != nil {
			debugLog.Printf("Deletion: MESSAGE_DELETED to principal %d failed, dropping connection: %v", id, err)
			d.registry.Drop(id, conn)
			continue
		}
		notified = append(notified, id)
		if d.metrics != nil {
			d.metrics.RecordFrameSent(protocol.TypeMessageDeleted)
		}
	}

	debugLog.Printf("Deletion: message %d removed by %d, notified %v", messageID, requesterID, notified)
	return notified, nil
}
