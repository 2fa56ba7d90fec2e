package server

import (
	"testing"

	"github.com/meedsr07/storechat/pkg/database"
	"github.com/meedsr07/storechat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deletedIDs(t *testing.T, c *fakeConn) []int64 {
	t.Helper()
	var ids []int64
	for _, ev := range c.ofType(t, protocol.TypeMessageDeleted) {
		ids = append(ids, ev.(*protocol.MessageDeletedFrame).MessageID)
	}
	return ids
}

func TestDeleteDirectMessage(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	carol := mustUser(t, db, "carol")

	msg, err := db.PostMessage(alice, ptr(bob), nil, "oops")
	require.NoError(t, err)

	r := NewRegistry()
	conns := map[int64]*fakeConn{alice: {}, bob: {}, carol: {}}
	for id, c := range conns {
		r.Register(id, c)
	}

	notifier := NewDeletionNotifier(db, r)
	notified, err := notifier.HandleDelete(alice, msg.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{alice, bob}, notified)

	assert.Equal(t, []int64{msg.ID}, deletedIDs(t, conns[alice]))
	assert.Equal(t, []int64{msg.ID}, deletedIDs(t, conns[bob]))
	assert.Empty(t, deletedIDs(t, conns[carol]))

	_, err = db.GetMessage(msg.ID)
	assert.ErrorIs(t, err, database.ErrMessageNotFound)
}

func TestDeleteByNonSenderForbidden(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")

	msg, err := db.PostMessage(alice, ptr(bob), nil, "keep me")
	require.NoError(t, err)

	r := NewRegistry()
	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	r.Register(alice, aliceConn)
	r.Register(bob, bobConn)

	notifier := NewDeletionNotifier(db, r)
	_, err = notifier.HandleDelete(bob, msg.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	assert.Empty(t, deletedIDs(t, aliceConn))
	assert.Empty(t, deletedIDs(t, bobConn))

	_, err = db.GetMessage(msg.ID)
	assert.NoError(t, err, "row survives a forbidden delete")
}

func TestDeleteMissingMessage(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")

	notifier := NewDeletionNotifier(db, NewRegistry())
	_, err := notifier.HandleDelete(alice, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteGroupMessageNotifiesCurrentMembers(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	carol := mustUser(t, db, "carol")
	outsider := mustUser(t, db, "outsider")

	g, err := db.CreateGroup("stock", alice)
	require.NoError(t, err)
	require.NoError(t, db.AddGroupMember(g, bob))

	msg, err := db.PostMessage(alice, nil, ptr(g), "inventory count tonight")
	require.NoError(t, err)

	// Carol joins after the message was posted and still gets the deletion
	require.NoError(t, db.AddGroupMember(g, carol))

	r := NewRegistry()
	conns := map[int64]*fakeConn{alice: {}, bob: {}, carol: {}, outsider: {}}
	for id, c := range conns {
		r.Register(id, c)
	}

	notifier := NewDeletionNotifier(db, r)
	notified, err := notifier.HandleDelete(alice, msg.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{alice, bob, carol}, notified)

	for _, id := range []int64{alice, bob, carol} {
		assert.Equal(t, []int64{msg.ID}, deletedIDs(t, conns[id]), "user %d", id)
	}
	assert.Empty(t, deletedIDs(t, conns[outsider]))
}

func TestDeleteOfflinePartiesSkipped(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")

	msg, err := db.PostMessage(alice, ptr(bob), nil, "later")
	require.NoError(t, err)

	notifier := NewDeletionNotifier(db, NewRegistry())
	notified, err := notifier.HandleDelete(alice, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, notified)
}

func TestDeleteDropsRecipientThatCannotKeepUp(t *testing.T) {
	db := openTestDB(t)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")

	msg, err := db.PostMessage(alice, ptr(bob), nil, "wrong price")
	require.NoError(t, err)

	r := NewRegistry()
	aliceConn := &fakeConn{}
	bobConn := &fakeConn{failWith: ErrSendBufferFull}
	r.Register(alice, aliceConn)
	r.Register(bob, bobConn)

	notified, err := NewDeletionNotifier(db, r).HandleDelete(alice, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice}, notified)
	assert.True(t, bobConn.isClosed())
	assert.False(t, r.IsOnline(bob))
}
