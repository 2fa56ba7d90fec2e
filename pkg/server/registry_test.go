package server

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRegistryRegisterLookup(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{}

	r.Register(1, a)

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.True(t, r.IsOnline(1))
	assert.Equal(t, 1, r.Count())

	_, ok = r.Lookup(2)
	assert.False(t, ok)
}

func TestRegistryReplaceClosesSuperseded(t *testing.T) {
	r := NewRegistry()
	first := &fakeConn{}
	second := &fakeConn{}

	r.Register(1, first)
	r.Register(1, second)

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.True(t, first.isClosed(), "superseded connection must be closed")
	assert.False(t, second.isClosed())
	assert.Equal(t, 1, r.Count())
}

func TestRegistryReleaseKeepsReplacement(t *testing.T) {
	r := NewRegistry()
	first := &fakeConn{}
	second := &fakeConn{}

	r.Register(1, first)
	r.Register(1, second)

	// The old handler exiting must not evict the new connection
	assert.False(t, r.Release(1, first))
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, r.Release(1, second))
	assert.False(t, r.IsOnline(1))
}

func TestRegistryDeregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	var changes atomic.Int32
	r.SetOnChange(func() { changes.Add(1) })

	r.Register(1, &fakeConn{})
	assert.True(t, r.Deregister(1))
	assert.False(t, r.Deregister(1))
	assert.False(t, r.Deregister(42))

	assert.Equal(t, int32(2), changes.Load(), "only effective changes trigger the hook")
	assert.Empty(t, r.OnlineIDs())
}

func TestRegistryOnlineIDsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []int64{5, 1, 9, 3} {
		r.Register(id, &fakeConn{})
	}
	assert.Equal(t, []int64{1, 3, 5, 9}, r.OnlineIDs())
}

func TestRegistryOnChangeWithoutLock(t *testing.T) {
	r := NewRegistry()
	var seen [][]int64
	// Re-entering the registry from the hook must not deadlock
	r.SetOnChange(func() { seen = append(seen, r.OnlineIDs()) })

	r.Register(2, &fakeConn{})
	r.Register(1, &fakeConn{})
	r.Deregister(2)

	require.Len(t, seen, 3)
	assert.Equal(t, []int64{2}, seen[0])
	assert.Equal(t, []int64{1, 2}, seen[1])
	assert.Equal(t, []int64{1}, seen[2])
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	conns := []*fakeConn{{}, {}, {}}
	for i, c := range conns {
		r.Register(int64(i+1), c)
	}

	r.CloseAll()

	assert.Equal(t, 0, r.Count())
	for _, c := range conns {
		assert.True(t, c.isClosed())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			c := &fakeConn{}
			r.Register(id%10, c)
			r.OnlineIDs()
			r.Release(id%10, c)
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count())
}

// TestRegistryMatchesModel checks that after any sequence of operations the
// online set equals the ids with a live mapping in a simple model, and that
// at most one connection exists per id
func TestRegistryMatchesModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		model := map[int64]*fakeConn{}
		var all []*fakeConn

		ops := rapid.IntRange(1, 60).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			id := rapid.Int64Range(1, 6).Draw(t, "id")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				c := &fakeConn{}
				all = append(all, c)
				r.Register(id, c)
				model[id] = c
			case 1:
				r.Deregister(id)
				delete(model, id)
			case 2:
				// Release with a possibly stale connection
				if len(all) == 0 {
					continue
				}
				c := all[rapid.IntRange(0, len(all)-1).Draw(t, "conn")]
				released := r.Release(id, c)
				if model[id] == c {
					if !released {
						t.Fatalf("release of current connection for %d failed", id)
					}
					delete(model, id)
				} else if released {
					t.Fatalf("release of stale connection for %d evicted the live one", id)
				}
			}
		}

		want := make([]int64, 0, len(model))
		for id := range model {
			want = append(want, id)
		}
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

		got := r.OnlineIDs()
		if len(got) != len(want) {
			t.Fatalf("online set %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("online set %v, want %v", got, want)
			}
			conn, _ := r.Lookup(want[i])
			if conn != model[want[i]] {
				t.Fatalf("id %d maps to the wrong connection", want[i])
			}
			if model[want[i]].isClosed() {
				t.Fatalf("live connection for %d was closed", want[i])
			}
		}
	})
}
