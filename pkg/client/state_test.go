package client

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestState(t *testing.T, path string) *State {
	t.Helper()
	state, err := OpenState(path)
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })
	return state
}

func TestStateConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	state := openTestState(t, filepath.Join(dir, "state.db"))
	assert.Equal(t, dir, state.GetStateDir())

	v, err := state.GetConfig("missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, state.SetConfig("server_url", "http://localhost:8080"))
	require.NoError(t, state.SetConfig("server_url", "http://pos.local:8080"))
	v, err = state.GetConfig("server_url")
	require.NoError(t, err)
	assert.Equal(t, "http://pos.local:8080", v)
}

func TestStateLoginRoundTrip(t *testing.T) {
	state := openTestState(t, filepath.Join(t.TempDir(), "state.db"))

	creds, err := state.Credentials()
	require.NoError(t, err)
	assert.Nil(t, creds, "nobody logged in yet")
	assert.Empty(t, state.SessionTag())

	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	tag, err := state.SaveLogin(Credentials{
		ServerURL: "http://localhost:8080",
		Token:     "tok-1",
		UserID:    7,
		Username:  "alice",
		ExpiresAt: expires,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tag)

	creds, err = state.Credentials()
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "tok-1", creds.Token)
	assert.Equal(t, int64(7), creds.UserID)
	assert.Equal(t, tag, creds.SessionTag)
	assert.True(t, expires.Equal(creds.ExpiresAt))
	assert.Equal(t, "alice", state.GetLastUsername())

	require.NoError(t, state.ClearLogin())
	creds, err = state.Credentials()
	require.NoError(t, err)
	assert.Nil(t, creds)
	assert.Equal(t, "alice", state.GetLastUsername(), "logout keeps the username hint")
}

func TestStateReopenKeepsLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	first, err := OpenState(path)
	require.NoError(t, err)
	tag, err := first.SaveLogin(Credentials{ServerURL: "http://x", Token: "t", UserID: 1, Username: "bob"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := openTestState(t, path)
	assert.Equal(t, tag, second.SessionTag())
}

func TestSessionGuardDetectsNewerLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	// Two client processes sharing one state file
	mine := openTestState(t, path)
	theirs := openTestState(t, path)

	tag, err := mine.SaveLogin(Credentials{ServerURL: "http://x", Token: "a", UserID: 1, Username: "alice"})
	require.NoError(t, err)
	guard := NewSessionGuard(mine, tag)
	require.NoError(t, guard.Check())

	_, err = theirs.SaveLogin(Credentials{ServerURL: "http://x", Token: "b", UserID: 2, Username: "bob"})
	require.NoError(t, err)
	assert.ErrorIs(t, guard.Check(), ErrSessionSuperseded)
}

func TestSessionGuardDetectsLogout(t *testing.T) {
	state := NewMockState()
	tag, err := state.SaveLogin(Credentials{Username: "alice"})
	require.NoError(t, err)

	guard := NewSessionGuard(state, tag)
	require.NoError(t, guard.Check())
	assert.Equal(t, tag, guard.Tag())

	require.NoError(t, state.ClearLogin())
	assert.ErrorIs(t, guard.Check(), ErrSessionSuperseded)

	// Logging in again as the same user is still a different session
	_, err = state.SaveLogin(Credentials{Username: "alice"})
	require.NoError(t, err)
	assert.ErrorIs(t, guard.Check(), ErrSessionSuperseded)
}
