package server

import (
	"strings"
	"testing"

	"github.com/meedsr07/storechat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayDirectMessage(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")

	r := NewRegistry()
	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	r.Register(alice, aliceConn)
	r.Register(bob, bobConn)

	relay := NewRelay(db, r, 100)
	delivery, err := relay.HandleSend(aliceConn, alice, &protocol.ChatMessageFrame{
		ReceiverID: ptr(bob),
		Content:    "price check on aisle 4",
		ClientID:   "opt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{bob}, delivery.Delivered)
	assert.Empty(t, delivery.Missed)

	// Recipient gets exactly one NEW_MESSAGE with the persisted id
	newMsgs := bobConn.ofType(t, protocol.TypeNewMessage)
	require.Len(t, newMsgs, 1)
	got := newMsgs[0].(*protocol.NewMessageFrame).Message
	assert.Equal(t, delivery.Message.ID, got.ID)
	assert.Equal(t, alice, got.SenderID)
	require.NotNil(t, got.ReceiverID)
	assert.Equal(t, bob, *got.ReceiverID)
	assert.Equal(t, "price check on aisle 4", got.Content)

	// Sender gets MESSAGE_SENT with the echoed client id and no NEW_MESSAGE
	assert.Empty(t, aliceConn.ofType(t, protocol.TypeNewMessage))
	sent := aliceConn.ofType(t, protocol.TypeMessageSent)
	require.Len(t, sent, 1)
	confirmation := sent[0].(*protocol.MessageSentFrame)
	assert.Equal(t, "opt-1", confirmation.ClientID)
	assert.Equal(t, got.ID, confirmation.Message.ID)

	stored, err := db.GetMessage(got.ID)
	require.NoError(t, err)
	assert.Equal(t, "price check on aisle 4", stored.Content)
}

func TestRelayOfflineRecipientIsDeliveryMiss(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")

	r := NewRegistry()
	aliceConn := &fakeConn{}
	r.Register(alice, aliceConn)

	relay := NewRelay(db, r, 0)
	delivery, err := relay.HandleSend(aliceConn, alice, &protocol.ChatMessageFrame{ReceiverID: ptr(bob), Content: "you there?"})
	require.NoError(t, err)
	assert.Empty(t, delivery.Delivered)
	assert.Equal(t, []int64{bob}, delivery.Missed)

	// Still persisted and confirmed
	assert.Len(t, aliceConn.ofType(t, protocol.TypeMessageSent), 1)
	history, err := db.ListDirectHistory(alice, bob, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRelayUnknownReceiver(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")

	relay := NewRelay(db, NewRegistry(), 0)
	_, err := relay.HandleSend(&fakeConn{}, alice, &protocol.ChatMessageFrame{ReceiverID: ptr(999), Content: "hello?"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelayRejectsMalformed(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	g, err := db.CreateGroup("floor", alice)
	require.NoError(t, err)

	relay := NewRelay(db, NewRegistry(), 10)
	origin := &fakeConn{}

	tests := []struct {
		name  string
		frame protocol.ChatMessageFrame
	}{
		{"no target", protocol.ChatMessageFrame{Content: "hi"}},
		{"both targets", protocol.ChatMessageFrame{ReceiverID: ptr(bob), GroupID: ptr(g), Content: "hi"}},
		{"empty", protocol.ChatMessageFrame{ReceiverID: ptr(bob), Content: ""}},
		{"too long", protocol.ChatMessageFrame{ReceiverID: ptr(bob), Content: strings.Repeat("x", 11)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := relay.HandleSend(origin, alice, &tt.frame)
			assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
		})
	}

	assert.Empty(t, origin.events(t), "nothing is pushed for a malformed frame")
	history, err := db.ListDirectHistory(alice, bob, 10)
	require.NoError(t, err)
	assert.Empty(t, history, "nothing is persisted for a malformed frame")
}

func TestRelayGroupFanOut(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	carol := mustUser(t, db, "carol")
	dave := mustUser(t, db, "dave")
	outsider := mustUser(t, db, "outsider")

	g, err := db.CreateGroup("cashiers", alice)
	require.NoError(t, err)
	for _, id := range []int64{bob, carol, dave} {
		require.NoError(t, db.AddGroupMember(g, id))
	}

	r := NewRegistry()
	conns := map[int64]*fakeConn{}
	for _, id := range []int64{alice, bob, carol, outsider} {
		conns[id] = &fakeConn{}
		r.Register(id, conns[id])
	}

	relay := NewRelay(db, r, 0)
	delivery, err := relay.HandleSend(conns[alice], alice, &protocol.ChatMessageFrame{GroupID: ptr(g), Content: "shift change at 5"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{bob, carol}, delivery.Delivered)
	assert.Equal(t, []int64{dave}, delivery.Missed)

	for _, id := range []int64{bob, carol} {
		msgs := conns[id].ofType(t, protocol.TypeNewMessage)
		require.Len(t, msgs, 1, "member %d", id)
		m := msgs[0].(*protocol.NewMessageFrame).Message
		require.NotNil(t, m.GroupID)
		assert.Equal(t, g, *m.GroupID)
		assert.Nil(t, m.ReceiverID)
	}

	assert.Empty(t, conns[outsider].ofType(t, protocol.TypeNewMessage), "non-members receive nothing")
	assert.Empty(t, conns[alice].ofType(t, protocol.TypeNewMessage), "no self echo")
	assert.Len(t, conns[alice].ofType(t, protocol.TypeMessageSent), 1)
}

func TestRelayGroupRequiresMembership(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	mallory := mustUser(t, db, "mallory")
	g, err := db.CreateGroup("managers", alice)
	require.NoError(t, err)

	r := NewRegistry()
	aliceConn := &fakeConn{}
	r.Register(alice, aliceConn)
	aliceConn.reset()

	relay := NewRelay(db, r, 0)
	_, err = relay.HandleSend(&fakeConn{}, mallory, &protocol.ChatMessageFrame{GroupID: ptr(g), Content: "let me in"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, aliceConn.events(t))

	history, err := db.ListGroupHistory(g, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRelaySelfMessageNotEchoed(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")

	r := NewRegistry()
	aliceConn := &fakeConn{}
	r.Register(alice, aliceConn)

	relay := NewRelay(db, r, 0)
	_, err := relay.HandleSend(aliceConn, alice, &protocol.ChatMessageFrame{ReceiverID: ptr(alice), Content: "note to self"})
	require.NoError(t, err)

	assert.Empty(t, aliceConn.ofType(t, protocol.TypeNewMessage))
	assert.Len(t, aliceConn.ofType(t, protocol.TypeMessageSent), 1)
}

func TestRelayRecipientSendFailureIsMiss(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")

	r := NewRegistry()
	aliceConn := &fakeConn{}
	r.Register(alice, aliceConn)
	bobConn := &fakeConn{failWith: ErrSendBufferFull}
	r.Register(bob, bobConn)

	relay := NewRelay(db, r, 0)
	delivery, err := relay.HandleSend(aliceConn, alice, &protocol.ChatMessageFrame{ReceiverID: ptr(bob), Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []int64{bob}, delivery.Missed)
	assert.Len(t, aliceConn.ofType(t, protocol.TypeMessageSent), 1)

	// A recipient that cannot keep up is disconnected rather than left stale
	assert.True(t, bobConn.isClosed())
	assert.False(t, r.IsOnline(bob))
	assert.True(t, r.IsOnline(alice))
}

func TestRelayConfirmationFailureDropsSender(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")

	r := NewRegistry()
	aliceConn := &fakeConn{failWith: ErrSendBufferFull}
	bobConn := &fakeConn{}
	r.Register(alice, aliceConn)
	r.Register(bob, bobConn)

	relay := NewRelay(db, r, 0)
	delivery, err := relay.HandleSend(aliceConn, alice, &protocol.ChatMessageFrame{ReceiverID: ptr(bob), Content: "hi", ClientID: "opt-9"})
	require.NoError(t, err)
	assert.Equal(t, []int64{bob}, delivery.Delivered)

	// The message is stored; the sender reconnects and finds it in history
	assert.True(t, aliceConn.isClosed())
	assert.False(t, r.IsOnline(alice))
	history, err := db.ListDirectHistory(alice, bob, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRelayDropKeepsReplacementConnection(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")

	r := NewRegistry()
	stale := &fakeConn{failWith: ErrSendBufferFull}
	r.Register(alice, stale)
	fresh := &fakeConn{}
	r.Register(alice, fresh)
	r.Register(bob, &fakeConn{})

	// A send arriving on the superseded connection must not evict its replacement
	relay := NewRelay(db, r, 0)
	_, err := relay.HandleSend(stale, alice, &protocol.ChatMessageFrame{ReceiverID: ptr(bob), Content: "late"})
	require.NoError(t, err)

	conn, ok := r.Lookup(alice)
	require.True(t, ok)
	assert.Same(t, fresh, conn)
	assert.False(t, fresh.isClosed())
}
