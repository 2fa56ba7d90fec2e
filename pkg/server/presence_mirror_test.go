package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturingMirror() (*RedisPresenceMirror, chan []int64) {
	writes := make(chan []int64, 16)
	m := NewRedisPresenceMirror(nil, "test:online", "test:presence")
	m.write = func(ctx context.Context, ids []int64) error {
		writes <- ids
		return nil
	}
	return m, writes
}

func TestMirrorKeepsOnlyNewestPendingSet(t *testing.T) {
	m, writes := newCapturingMirror()

	// Nothing drains before Start, so earlier sets are superseded
	m.PublishOnline([]int64{1})
	m.PublishOnline([]int64{1, 2})
	m.PublishOnline([]int64{2})

	m.Start()
	defer m.Close()

	select {
	case got := <-writes:
		assert.Equal(t, []int64{2}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("mirror never wrote")
	}

	select {
	case got := <-writes:
		t.Fatalf("unexpected extra write %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMirrorCopiesInput(t *testing.T) {
	m, writes := newCapturingMirror()

	ids := []int64{3, 4}
	m.PublishOnline(ids)
	ids[0] = 99

	m.Start()
	defer m.Close()

	select {
	case got := <-writes:
		assert.Equal(t, []int64{3, 4}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("mirror never wrote")
	}
}

func TestMirrorAsPresenceSink(t *testing.T) {
	m, writes := newCapturingMirror()
	m.Start()

	r := NewRegistry()
	p := NewPresenceBroadcaster(r)
	p.SetSink(m)

	r.Register(7, &fakeConn{})

	require.Eventually(t, func() bool {
		for {
			select {
			case got := <-writes:
				if len(got) == 1 && got[0] == 7 {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, m.Close(), "closing a mirror without a client is a no-op")
}
