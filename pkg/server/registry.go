package server

import (
	"sort"
	"sync"
)

// Conn is the outbound half of a client connection. Send must not block:
// implementations queue the frame or fail.
type Conn interface {
	Send(frame []byte) error
	Close() error
}

// Registry maps each online principal to its single live connection
type Registry struct {
	mu       sync.RWMutex
	conns    map[int64]Conn
	onChange func()
	metrics  *Metrics
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[int64]Conn),
	}
}

// SetOnChange installs the hook run after every effective register or
// removal. It is called without any registry lock held.
func (r *Registry) SetOnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// SetMetrics attaches metrics to the registry
func (r *Registry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Register maps id to conn. A previous connection for the same id is
// replaced and closed.
func (r *Registry) Register(id int64, conn Conn) {
	r.mu.Lock()
	prev, had := r.conns[id]
	r.conns[id] = conn
	count := len(r.conns)
	onChange := r.onChange
	r.mu.Unlock()

	if had && prev != conn {
		debugLog.Printf("Registry: principal %d reconnected, closing superseded connection", id)
		prev.Close()
		if r.metrics != nil {
			r.metrics.RecordEviction()
		}
	}
	if r.metrics != nil {
		r.metrics.RecordConnections(count)
	}
	if onChange != nil {
		onChange()
	}
}

// Deregister removes whatever connection is mapped to id. Removing an
// absent id is a no-op and does not trigger the change hook.
func (r *Registry) Deregister(id int64) bool {
	r.mu.Lock()
	_, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	count := len(r.conns)
	onChange := r.onChange
	r.mu.Unlock()

	if !ok {
		return false
	}
	if r.metrics != nil {
		r.metrics.RecordConnections(count)
	}
	if onChange != nil {
		onChange()
	}
	return true
}

// Release removes the mapping for id only if it still points at conn, so a
// handler whose connection was superseded never evicts its replacement.
func (r *Registry) Release(id int64, conn Conn) bool {
	r.mu.Lock()
	current, ok := r.conns[id]
	ok = ok && current == conn
	if ok {
		delete(r.conns, id)
	}
	count := len(r.conns)
	onChange := r.onChange
	r.mu.Unlock()

	if !ok {
		return false
	}
	if r.metrics != nil {
		r.metrics.RecordConnections(count)
	}
	if onChange != nil {
		onChange()
	}
	return true
}

// Drop closes conn and releases it, for a connection that failed a send.
// The client catches up by reconnecting.
func (r *Registry) Drop(id int64, conn Conn) {
	conn.Close()
	r.Release(id, conn)
}

// Lookup returns the live connection for id
func (r *Registry) Lookup(id int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// OnlineIDs returns the registered principal ids in ascending order
func (r *Registry) OnlineIDs() []int64 {
	ids, _ := r.Snapshot()
	return ids
}

// IsOnline reports whether id has a registered connection
func (r *Registry) IsOnline(id int64) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// registered pairs a principal id with its connection in a snapshot
type registered struct {
	id   int64
	conn Conn
}

// Snapshot returns the sorted online ids together with their connections,
// taken atomically
func (r *Registry) Snapshot() ([]int64, []registered) {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.conns))
	entries := make([]registered, 0, len(r.conns))
	for id, conn := range r.conns {
		ids = append(ids, id)
		entries = append(entries, registered{id: id, conn: conn})
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return ids, entries
}

// CloseAll closes and removes every connection without running the change hook
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[int64]Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	if r.metrics != nil {
		r.metrics.RecordConnections(0)
	}
}
