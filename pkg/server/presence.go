package server

import (
	"sync"

	"github.com/meedsr07/storechat/pkg/protocol"
)

// PresenceSink receives every online set the broadcaster computes
type PresenceSink interface {
	PublishOnline(ids []int64)
}

// PresenceBroadcaster pushes the full online set to every registered
// connection whenever the registry changes
type PresenceBroadcaster struct {
	registry *Registry
	metrics  *Metrics
	sink     PresenceSink

	// Serializes passes so each connection receives online sets in the
	// order they were computed
	mu sync.Mutex
}

// NewPresenceBroadcaster creates a broadcaster and hooks it to the registry
func NewPresenceBroadcaster(registry *Registry) *PresenceBroadcaster {
	p := &PresenceBroadcaster{registry: registry}
	registry.SetOnChange(p.BroadcastOnline)
	return p
}

// SetMetrics attaches metrics to the broadcaster
func (p *PresenceBroadcaster) SetMetrics(metrics *Metrics) {
	p.metrics = metrics
}

// SetSink mirrors every broadcast online set to sink
func (p *PresenceBroadcaster) SetSink(sink PresenceSink) {
	p.sink = sink
}

// BroadcastOnline sends ONLINE_USERS with the current online set to every
// registered connection. Connections whose send fails are treated as
// disconnected once the pass is over.
func (p *PresenceBroadcaster) BroadcastOnline() {
	dead := p.broadcastPass()

	// Release outside the pass lock; each release triggers another pass
	for _, d := range dead {
		debugLog.Printf("Presence: dropping principal %d after failed send", d.id)
		p.registry.Drop(d.id, d.conn)
	}
}

func (p *PresenceBroadcaster) broadcastPass() []registered {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids, entries := p.registry.Snapshot()

	frame, err := protocol.Encode(&protocol.OnlineUsersFrame{Users: ids})
	if err != nil {
		errorLog.Printf("Presence: failed to encode ONLINE_USERS: %v", err)
		return nil
	}

	var dead []registered
	for _, e := range entries {
		if err := e.conn.Send(frame); err != nil {
			debugLog.Printf("Presence: send to principal %d failed: %v", e.id, err)
			dead = append(dead, e)
			continue
		}
		if p.metrics != nil {
			p.metrics.RecordFrameSent(protocol.TypeOnlineUsers)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordPresenceBroadcast(len(ids))
	}
	if p.sink != nil {
		p.sink.PublishOnline(ids)
	}

	return dead
}
