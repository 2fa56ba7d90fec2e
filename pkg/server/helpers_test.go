package server

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/meedsr07/storechat/pkg/database"
	"github.com/meedsr07/storechat/pkg/protocol"
	"github.com/stretchr/testify/require"
)

// fakeConn records every frame pushed to it
type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	closes   int
	failWith error
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	if c.closed {
		return ErrSessionClosed
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closes++
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) events(t *testing.T) []protocol.Typed {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Typed, 0, len(c.frames))
	for _, f := range c.frames {
		ev, err := protocol.DecodeServerEvent(f)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

// ofType filters recorded events by frame type
func (c *fakeConn) ofType(t *testing.T, frameType string) []protocol.Typed {
	t.Helper()
	var out []protocol.Typed
	for _, ev := range c.events(t) {
		if ev.FrameType() == frameType {
			out = append(out, ev)
		}
	}
	return out
}

// lastOnline returns the users of the most recent ONLINE_USERS frame, or nil
func (c *fakeConn) lastOnline(t *testing.T) []int64 {
	t.Helper()
	frames := c.ofType(t, protocol.TypeOnlineUsers)
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1].(*protocol.OnlineUsersFrame).Users
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

var errBrokenPipe = errors.New("broken pipe")

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustUser(t *testing.T, db *database.DB, username string) int64 {
	t.Helper()
	id, err := db.CreateUser(username, "", "unused")
	require.NoError(t, err)
	return id
}

func ptr(v int64) *int64 { return &v }
