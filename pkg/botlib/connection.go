package botlib

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meedsr07/storechat/pkg/protocol"
)

var errTimeout = errors.New("timeout waiting for confirmation")

// outcome is what a pending send resolves to: the stored message or an error.
type outcome struct {
	msg protocol.Message
	err error
}

// pendingSends correlates outgoing CHAT_MESSAGE frames with the server's
// MESSAGE_SENT (by client id) or ERROR (oldest first) answers.
type pendingSends struct {
	mu      sync.Mutex
	waiting map[string]chan outcome
	order   []string
}

func newPendingSends() *pendingSends {
	return &pendingSends{waiting: make(map[string]chan outcome)}
}

func (p *pendingSends) add(clientID string) <-chan outcome {
	ch := make(chan outcome, 1)
	p.mu.Lock()
	p.waiting[clientID] = ch
	p.order = append(p.order, clientID)
	p.mu.Unlock()
	return ch
}

// resolve completes the send with clientID. Unknown ids are ignored.
func (p *pendingSends) resolve(clientID string, res outcome) {
	p.mu.Lock()
	ch, ok := p.waiting[clientID]
	p.forget(clientID)
	p.mu.Unlock()
	if ok {
		ch <- res
	}
}

// failOldest attributes an ERROR frame to the oldest unanswered send.
func (p *pendingSends) failOldest(err error) bool {
	p.mu.Lock()
	if len(p.order) == 0 {
		p.mu.Unlock()
		return false
	}
	clientID := p.order[0]
	ch := p.waiting[clientID]
	p.forget(clientID)
	p.mu.Unlock()
	ch <- outcome{err: err}
	return true
}

// failAll fails every unanswered send, used when the connection drops.
func (p *pendingSends) failAll(err error) {
	p.mu.Lock()
	waiting := p.waiting
	p.waiting = make(map[string]chan outcome)
	p.order = nil
	p.mu.Unlock()
	for _, ch := range waiting {
		ch <- outcome{err: err}
	}
}

func (p *pendingSends) cancel(clientID string) {
	p.mu.Lock()
	p.forget(clientID)
	p.mu.Unlock()
}

// forget must be called with mu held
func (p *pendingSends) forget(clientID string) {
	delete(p.waiting, clientID)
	for i, id := range p.order {
		if id == clientID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *pendingSends) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// wait blocks until the send resolves or timeout elapses.
func (p *pendingSends) wait(clientID string, ch <-chan outcome, timeout time.Duration) (protocol.Message, error) {
	select {
	case res := <-ch:
		return res.msg, res.err
	case <-time.After(timeout):
		p.cancel(clientID)
		return protocol.Message{}, fmt.Errorf("%w (client id %s)", errTimeout, clientID)
	}
}
