// Package chatview holds the client's live message lists and reconciles
// optimistic sends with server confirmations and pushes.
//
// Three sources feed a list: local optimistic entries created by Send,
// MESSAGE_SENT confirmations matched back to them by client id, and
// NEW_MESSAGE pushes and history fetches keyed by server id. An entry is
// identified by its client id until the server assigns an id, and by the
// server id afterwards, so no logical message is ever shown twice.
package chatview

import (
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/meedsr07/storechat/pkg/protocol"
)

var (
	// ErrNoTarget means Send was called with no chat selected
	ErrNoTarget = errors.New("no chat selected")
	// ErrEmptyContent means Send was called with blank content
	ErrEmptyContent = errors.New("message is empty")
	// ErrTooLong means the content exceeds the view's length limit
	ErrTooLong = errors.New("message too long")
)

// Kind distinguishes direct chats from group chats
type Kind int

const (
	KindDirect Kind = iota + 1
	KindGroup
)

// Target identifies a chat: a peer user or a group
type Target struct {
	Kind Kind
	ID   int64
}

// Direct returns the target for a conversation with peerID
func Direct(peerID int64) Target { return Target{Kind: KindDirect, ID: peerID} }

// Group returns the target for a group chat
func Group(groupID int64) Target { return Target{Kind: KindGroup, ID: groupID} }

// IsZero reports whether no chat is selected
func (t Target) IsZero() bool { return t.Kind == 0 }

// TargetOf returns the chat a message belongs to from self's point of view
func TargetOf(m protocol.Message, self int64) Target {
	if m.IsGroup() {
		return Group(*m.GroupID)
	}
	if m.SenderID == self && m.ReceiverID != nil {
		return Direct(*m.ReceiverID)
	}
	return Direct(m.SenderID)
}

// Status is the delivery state of an entry
type Status int

const (
	StatusPending Status = iota // sent locally, awaiting MESSAGE_SENT
	StatusSent                  // carries a server-assigned id
	StatusFailed                // the send could not be completed
)

// Entry is one line in a message list
type Entry struct {
	Message  protocol.Message
	ClientID string // set for entries this client sent
	Status   Status
}

// Confirmed reports whether the entry carries a server id
func (e Entry) Confirmed() bool { return e.Status == StatusSent }

// View is the client-side state of every chat the user has open.
// It is not safe for concurrent use; the UI owns it.
type View struct {
	self      int64
	selected  Target
	lists     map[Target][]Entry
	online    map[int64]bool
	unread    map[Target]int
	maxLength int

	nextPlaceholder int64
	newClientID     func() string
	now             func() time.Time
}

// New creates an empty view for the user self
func New(self int64) *View {
	return &View{
		self:        self,
		lists:       make(map[Target][]Entry),
		online:      make(map[int64]bool),
		unread:      make(map[Target]int),
		newClientID: uuid.NewString,
		now:         time.Now,
	}
}

// Self returns the id of the user the view belongs to
func (v *View) Self() int64 { return v.self }

// SetMaxLength sets the character limit enforced by Send (0 = unlimited)
func (v *View) SetMaxLength(n int) { v.maxLength = n }

// Select switches the displayed chat and clears its unread count.
// The caller fetches history for the new target and passes it to LoadHistory.
func (v *View) Select(t Target) {
	v.selected = t
	delete(v.unread, t)
}

// Selected returns the displayed chat
func (v *View) Selected() Target { return v.selected }

// Entries returns a copy of the displayed chat's list
func (v *View) Entries() []Entry {
	list := v.lists[v.selected]
	out := make([]Entry, len(list))
	copy(out, list)
	return out
}

// Watermark returns the highest confirmed id in t's list. The caller takes
// it when issuing a history fetch and hands it back to LoadHistory.
func (v *View) Watermark(t Target) int64 {
	var mark int64
	for _, e := range v.lists[t] {
		if e.Confirmed() {
			mark = max(mark, e.Message.ID)
		}
	}
	return mark
}

// LoadHistory replaces the confirmed part of t's list with a fetched history.
// mark is t's Watermark when the fetch was issued: confirmed entries above it
// arrived after the fetch and are kept, while those at or below it that the
// server no longer returns were deleted and are dropped. Unconfirmed local
// entries are kept unless the history holds the same own message. It returns
// false when t is no longer selected and the fetch is stale.
func (v *View) LoadHistory(t Target, mark int64, history []protocol.Message) bool {
	if t != v.selected {
		return false
	}

	old := v.lists[t]
	known := make(map[int64]bool, len(old))
	for _, e := range old {
		if e.Confirmed() {
			known[e.Message.ID] = true
		}
	}

	merged := make([]Entry, 0, len(history)+len(old))
	seen := make(map[int64]bool, len(history))
	var adopted []protocol.Message
	for _, m := range history {
		if seen[m.ID] || !v.belongs(&m, t) {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, Entry{Message: m, Status: StatusSent})
		if m.SenderID == v.self && !known[m.ID] {
			adopted = append(adopted, m)
		}
	}

	var unconfirmed []Entry
	for _, e := range old {
		switch {
		case !e.Confirmed():
			if i := matchOwn(adopted, e); i >= 0 {
				adopted = append(adopted[:i], adopted[i+1:]...)
				continue
			}
			unconfirmed = append(unconfirmed, e)
		case e.Message.ID > mark && !seen[e.Message.ID]:
			merged = append(merged, e)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Message.ID < merged[j].Message.ID })
	merged = append(merged, unconfirmed...)
	v.lists[t] = merged
	return true
}

// belongs reports whether a fetched message is part of chat t
func (v *View) belongs(m *protocol.Message, t Target) bool {
	if t.Kind == KindGroup {
		return m.IsGroup() && *m.GroupID == t.ID
	}
	return m.Involves(v.self, t.ID)
}

// matchOwn finds the stored message an unconfirmed entry became: an own
// message with the same content created no earlier than the entry. A send
// whose confirmation was lost to a disconnect is resolved this way on the
// next fetch.
func matchOwn(adopted []protocol.Message, e Entry) int {
	for i, m := range adopted {
		if m.Content == e.Message.Content && !m.CreatedAt.Before(e.Message.CreatedAt) {
			return i
		}
	}
	return -1
}

// Send creates an optimistic entry in the selected chat and returns it.
// The caller sends Frame(entry) on the connection.
func (v *View) Send(content string) (Entry, error) {
	if v.selected.IsZero() {
		return Entry{}, ErrNoTarget
	}
	if strings.TrimSpace(content) == "" {
		return Entry{}, ErrEmptyContent
	}
	if v.maxLength > 0 && utf8.RuneCountInString(content) > v.maxLength {
		return Entry{}, ErrTooLong
	}

	// Placeholder ids are negative so they never collide with server ids
	v.nextPlaceholder--
	msg := protocol.Message{
		ID:        v.nextPlaceholder,
		SenderID:  v.self,
		Content:   content,
		CreatedAt: v.now().UTC(),
	}
	id := v.selected.ID
	if v.selected.Kind == KindGroup {
		msg.GroupID = &id
	} else {
		msg.ReceiverID = &id
	}

	e := Entry{Message: msg, ClientID: v.newClientID(), Status: StatusPending}
	v.lists[v.selected] = append(v.lists[v.selected], e)
	return e, nil
}

// Frame builds the CHAT_MESSAGE frame for an optimistic entry
func Frame(e Entry) *protocol.ChatMessageFrame {
	return &protocol.ChatMessageFrame{
		ReceiverID: e.Message.ReceiverID,
		GroupID:    e.Message.GroupID,
		Content:    e.Message.Content,
		ClientID:   e.ClientID,
	}
}

// ApplySent reconciles a MESSAGE_SENT confirmation. The pending entry with
// clientID takes the server's message; if that id is already listed (a push
// or history fetch won the race) the pending entry is dropped instead.
func (v *View) ApplySent(msg protocol.Message, clientID string) {
	t := TargetOf(msg, v.self)
	list := v.lists[t]

	if clientID != "" {
		for i, e := range list {
			if e.ClientID == clientID && !e.Confirmed() {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
	}

	if indexOf(list, msg.ID) < 0 {
		list = insertConfirmed(list, Entry{Message: msg, ClientID: clientID, Status: StatusSent})
	}
	v.lists[t] = list
}

// ApplyNew handles a NEW_MESSAGE push. It is appended only when it belongs
// to the selected chat; otherwise the chat's unread count is raised.
// It returns true if the displayed list changed.
func (v *View) ApplyNew(msg protocol.Message) bool {
	t := TargetOf(msg, v.self)
	if t != v.selected {
		if msg.SenderID != v.self {
			v.unread[t]++
		}
		return false
	}
	list := v.lists[t]
	if indexOf(list, msg.ID) >= 0 {
		return false
	}
	v.lists[t] = insertConfirmed(list, Entry{Message: msg, Status: StatusSent})
	return true
}

// ApplyDeleted removes a message from every list. It returns true if the
// displayed list changed.
func (v *View) ApplyDeleted(messageID int64) bool {
	changed := false
	for t, list := range v.lists {
		if i := indexOf(list, messageID); i >= 0 {
			v.lists[t] = append(list[:i], list[i+1:]...)
			if t == v.selected {
				changed = true
			}
		}
	}
	return changed
}

// MarkFailed flags the pending entry with clientID as failed
func (v *View) MarkFailed(clientID string) bool {
	for t, list := range v.lists {
		for i, e := range list {
			if e.ClientID == clientID && e.Status == StatusPending {
				list[i].Status = StatusFailed
				v.lists[t] = list
				return true
			}
		}
	}
	return false
}

// FailOldestPending flags the earliest pending send as failed. The server
// answers frames in order, so an ERROR frame belongs to the oldest send it
// has not confirmed yet.
func (v *View) FailOldestPending() (Entry, bool) {
	var (
		found  bool
		target Target
		index  int
	)
	for t, list := range v.lists {
		for i, e := range list {
			if e.Status != StatusPending {
				continue
			}
			// Placeholder ids count down from -1
			if !found || e.Message.ID > v.lists[target][index].Message.ID {
				found, target, index = true, t, i
			}
		}
	}
	if !found {
		return Entry{}, false
	}
	v.lists[target][index].Status = StatusFailed
	return v.lists[target][index], true
}

// FailPending flags every pending entry as failed, e.g. after the connection
// dropped, and returns how many were affected
func (v *View) FailPending() int {
	n := 0
	for _, list := range v.lists {
		for i := range list {
			if list[i].Status == StatusPending {
				list[i].Status = StatusFailed
				n++
			}
		}
	}
	return n
}

// LastOwn returns the newest confirmed message the user sent in the selected chat
func (v *View) LastOwn() (Entry, bool) {
	list := v.lists[v.selected]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Confirmed() && list[i].Message.SenderID == v.self {
			return list[i], true
		}
	}
	return Entry{}, false
}

// SetOnline replaces the online set
func (v *View) SetOnline(ids []int64) {
	v.online = make(map[int64]bool, len(ids))
	for _, id := range ids {
		v.online[id] = true
	}
}

// IsOnline reports whether id was in the last online set
func (v *View) IsOnline(id int64) bool { return v.online[id] }

// Unread returns the number of pushes received for t while it was not selected
func (v *View) Unread(t Target) int { return v.unread[t] }

func indexOf(list []Entry, messageID int64) int {
	for i, e := range list {
		if e.Confirmed() && e.Message.ID == messageID {
			return i
		}
	}
	return -1
}

// insertConfirmed keeps confirmed entries ordered by id, ahead of any
// unconfirmed ones
func insertConfirmed(list []Entry, e Entry) []Entry {
	pos := len(list)
	for i, cur := range list {
		if !cur.Confirmed() || cur.Message.ID > e.Message.ID {
			pos = i
			break
		}
	}
	list = append(list, Entry{})
	copy(list[pos+1:], list[pos:])
	list[pos] = e
	return list
}
