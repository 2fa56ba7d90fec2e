package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustUser(t *testing.T, db *DB, username string) int64 {
	t.Helper()
	id, err := db.CreateUser(username, "", "hash-"+username)
	require.NoError(t, err)
	return id
}

func ptr(v int64) *int64 { return &v }

func TestCreateAndGetUser(t *testing.T) {
	db := openTestDB(t)

	id, err := db.CreateUser("alice", "Alice A.", "h1")
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	byName, err := db.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)
	assert.Equal(t, "Alice A.", byName.DisplayName)
	assert.Equal(t, "h1", byName.PasswordHash)

	byID, err := db.GetUserByID(id)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	_, err = db.CreateUser("alice", "Other", "h2")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = db.GetUserByID(999)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = db.GetUserByUsername("nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateUserDefaultsDisplayName(t *testing.T) {
	db := openTestDB(t)
	id := mustUser(t, db, "bob")

	u, err := db.GetUserByID(id)
	require.NoError(t, err)
	assert.Equal(t, "bob", u.DisplayName)
}

func TestListUsers(t *testing.T) {
	db := openTestDB(t)
	a := mustUser(t, db, "a")
	b := mustUser(t, db, "b")

	users, err := db.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, a, users[0].ID)
	assert.Equal(t, b, users[1].ID)
}

func TestPostMessageAssignsMonotonicIDs(t *testing.T) {
	db := openTestDB(t)
	a := mustUser(t, db, "a")
	b := mustUser(t, db, "b")

	first, err := db.PostMessage(a, ptr(b), nil, "one")
	require.NoError(t, err)
	second, err := db.PostMessage(b, ptr(a), nil, "two")
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)
	assert.NotZero(t, first.CreatedAt)

	// Deleting the newest row must not let its id be reused
	_, err = db.DeleteMessage(b, second.ID)
	require.NoError(t, err)
	third, err := db.PostMessage(a, ptr(b), nil, "three")
	require.NoError(t, err)
	assert.Greater(t, third.ID, second.ID)
}

func TestPostMessageRequiresExactlyOneTarget(t *testing.T) {
	db := openTestDB(t)
	a := mustUser(t, db, "a")
	b := mustUser(t, db, "b")
	g, err := db.CreateGroup("team", a)
	require.NoError(t, err)

	_, err = db.PostMessage(a, nil, nil, "x")
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, err = db.PostMessage(a, ptr(b), ptr(g), "x")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestGetMessage(t *testing.T) {
	db := openTestDB(t)
	a := mustUser(t, db, "a")
	g, err := db.CreateGroup("team", a)
	require.NoError(t, err)

	posted, err := db.PostMessage(a, nil, ptr(g), "hello group")
	require.NoError(t, err)

	got, err := db.GetMessage(posted.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReceiverID)
	require.NotNil(t, got.GroupID)
	assert.Equal(t, g, *got.GroupID)
	assert.Equal(t, "hello group", got.Content)

	_, err = db.GetMessage(12345)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDeleteMessage(t *testing.T) {
	db := openTestDB(t)
	a := mustUser(t, db, "a")
	b := mustUser(t, db, "b")

	msg, err := db.PostMessage(a, ptr(b), nil, "secret")
	require.NoError(t, err)

	_, err = db.DeleteMessage(b, msg.ID)
	assert.ErrorIs(t, err, ErrMessageNotOwned)

	deleted, err := db.DeleteMessage(a, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, deleted.ID)
	require.NotNil(t, deleted.ReceiverID)
	assert.Equal(t, b, *deleted.ReceiverID)

	_, err = db.GetMessage(msg.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = db.DeleteMessage(a, msg.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestListDirectHistory(t *testing.T) {
	db := openTestDB(t)
	a := mustUser(t, db, "a")
	b := mustUser(t, db, "b")
	c := mustUser(t, db, "c")

	for i, content := range []string{"1", "2", "3", "4"} {
		sender, receiver := a, b
		if i%2 == 1 {
			sender, receiver = b, a
		}
		_, err := db.PostMessage(sender, ptr(receiver), nil, content)
		require.NoError(t, err)
	}
	_, err := db.PostMessage(a, ptr(c), nil, "other conversation")
	require.NoError(t, err)

	history, err := db.ListDirectHistory(b, a, 10)
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i, want := range []string{"1", "2", "3", "4"} {
		assert.Equal(t, want, history[i].Content)
	}

	limited, err := db.ListDirectHistory(a, b, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "3", limited[0].Content)
	assert.Equal(t, "4", limited[1].Content)
}

func TestGroups(t *testing.T) {
	db := openTestDB(t)
	a := mustUser(t, db, "a")
	b := mustUser(t, db, "b")
	c := mustUser(t, db, "c")

	g, err := db.CreateGroup("cashiers", a)
	require.NoError(t, err)
	require.NoError(t, db.AddGroupMember(g, c))
	require.NoError(t, db.AddGroupMember(g, c)) // no-op

	members, err := db.GroupMemberIDs(g)
	require.NoError(t, err)
	assert.Equal(t, []int64{a, c}, members)

	isMember, err := db.IsGroupMember(g, b)
	require.NoError(t, err)
	assert.False(t, isMember)
	isMember, err = db.IsGroupMember(g, c)
	require.NoError(t, err)
	assert.True(t, isMember)

	group, err := db.GetGroup(g)
	require.NoError(t, err)
	assert.Equal(t, "cashiers", group.Name)
	assert.Equal(t, a, group.CreatedBy)

	_, err = db.GetGroup(999)
	assert.ErrorIs(t, err, ErrGroupNotFound)

	groups, err := db.ListGroupsForUser(c)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, g, groups[0].ID)

	groups, err = db.ListGroupsForUser(b)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestListGroupHistory(t *testing.T) {
	db := openTestDB(t)
	a := mustUser(t, db, "a")
	b := mustUser(t, db, "b")
	g, err := db.CreateGroup("floor", a)
	require.NoError(t, err)
	require.NoError(t, db.AddGroupMember(g, b))

	_, err = db.PostMessage(a, nil, ptr(g), "open the store")
	require.NoError(t, err)
	_, err = db.PostMessage(b, nil, ptr(g), "on it")
	require.NoError(t, err)
	_, err = db.PostMessage(a, ptr(b), nil, "direct")
	require.NoError(t, err)

	history, err := db.ListGroupHistory(g, 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "open the store", history[0].Content)
	assert.Equal(t, "on it", history[1].Content)
}
